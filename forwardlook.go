package acoustic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// DefaultSoundVelocity is assumed until the caller supplies a measured
// profile value.
const DefaultSoundVelocity = 1500.0

// ForwardLook pairs the two phase-coherent receivers of a forward looking
// sonar and produces per-sample direction-of-arrival triples. Channel 1 is
// the reference channel: indices, ranges and timestamps are its.
//
// Like Reader, a ForwardLook is single-goroutine; share the cache and the
// store, not the reader.
type ForwardLook struct {
	store Store
	cache Cache

	project string
	track   string

	channel1 *Reader
	channel2 *Reader

	dataRate      float64
	antennaBase   float64
	frequency     float64
	soundVelocity float64
	waveLength    float64
	alpha         float64

	doaBuf     []DoaPoint
	headerBuf  [CacheHeaderSize]byte
	cacheToken string
	detailKey  string
}

// NewForwardLook opens both forward-look channels and validates their
// pairing geometry: a nonzero antenna base, matching carrier frequencies
// and matching sample rates.
func NewForwardLook(store Store, cache Cache, project, track string) (*ForwardLook, error) {
	channel1, err := NewReader(store, nil, project, track, SourceForwardLook, 1, false)
	if err != nil {
		return nil, err
	}

	channel2, err := NewReader(store, nil, project, track, SourceForwardLook, 2, false)
	if err != nil {
		channel1.Close()
		return nil, err
	}

	info1 := channel1.Info()
	info2 := channel2.Info()

	if (info1.Antenna_Frequency < 1.0) ||
		(math.Abs(info1.Antenna_HOffset-info2.Antenna_HOffset) < 1e-4) ||
		(math.Abs(info1.Data_Rate-info2.Data_Rate) > 0.1) ||
		(math.Abs(info1.Antenna_Frequency-info2.Antenna_Frequency) > 0.1) {
		channel1.Close()
		channel2.Close()
		return nil, ErrBadGeometry
	}

	f := &ForwardLook{
		store:       store,
		cache:       cache,
		project:     project,
		track:       track,
		channel1:    channel1,
		channel2:    channel2,
		dataRate:    info1.Data_Rate,
		antennaBase: info2.Antenna_HOffset - info1.Antenna_HOffset,
		frequency:   info1.Antenna_Frequency,
	}

	f.SetSoundVelocity(DefaultSoundVelocity)

	f.cacheToken = fmt.Sprintf("FORWARDLOOK.%s.%s.%s", store.URI(), project, track)

	return f, nil
}

// Close releases both channel readers.
func (f *ForwardLook) Close() {
	f.channel1.Close()
	f.channel2.Close()
}

// SetSoundVelocity updates the sound velocity (m/s) and recomputes the
// wavelength and field-of-view half angle. Non-positive values are ignored.
func (f *ForwardLook) SetSoundVelocity(v float64) {
	if v <= 0.0 {
		return
	}

	f.soundVelocity = v
	f.waveLength = v / f.frequency
	f.alpha = math.Abs(math.Asin(v / (2.0 * f.antennaBase * f.frequency)))

	// The velocity is part of result identity; it becomes the cache
	// detail key so differently configured consumers never mix entries.
	f.detailKey = strconv.FormatFloat(v, 'g', -1, 64)
}

// SoundVelocity returns the configured sound velocity, m/s.
func (f *ForwardLook) SoundVelocity() float64 { return f.soundVelocity }

// Alpha returns the field-of-view half angle, rad.
func (f *ForwardLook) Alpha() float64 { return f.alpha }

// AntennaBase returns the horizontal receiver separation, m.
func (f *ForwardLook) AntennaBase() float64 { return f.antennaBase }

// WaveLength returns the carrier wavelength, m.
func (f *ForwardLook) WaveLength() float64 { return f.waveLength }

// SizeTime passes through to the reference channel.
func (f *ForwardLook) SizeTime(index uint32) (uint32, int64, error) {
	return f.channel1.SizeTime(index)
}

// Range passes through to the reference channel.
func (f *ForwardLook) Range() (first, last uint32, ok bool) { return f.channel1.Range() }

// Find passes through to the reference channel.
func (f *ForwardLook) Find(timeUs int64) FindResult { return f.channel1.Find(timeUs) }

// ModCount passes through to the reference channel.
func (f *ForwardLook) ModCount() uint64 { return f.channel1.ModCount() }

// Writable passes through to the reference channel.
func (f *ForwardLook) Writable() bool { return f.channel1.Writable() }

func encodeDoa(points []DoaPoint) []byte {
	out := make([]byte, len(points)*DoaPointSize)
	for i, p := range points {
		off := i * DoaPointSize
		putFloat32(out[off:], p.Angle)
		putFloat32(out[off+4:], p.Distance)
		putFloat32(out[off+8:], p.Amplitude)
	}
	return out
}

func decodeDoa(raw []byte) []DoaPoint {
	n := len(raw) / DoaPointSize
	out := make([]DoaPoint, n)
	for i := 0; i < n; i++ {
		off := i * DoaPointSize
		out[i].Angle = getFloat32(raw[off:])
		out[i].Distance = getFloat32(raw[off+4:])
		out[i].Amplitude = getFloat32(raw[off+8:])
	}
	return out
}

// Doa computes direction-of-arrival triples for a ping of the reference
// channel. The paired channel must hold a ping with the identical
// timestamp; anything looser than exact pairing fails with ErrUnavailable.
// The returned slice borrows the reader's buffer.
func (f *ForwardLook) Doa(index uint32) ([]DoaPoint, int64, error) {
	key := fmt.Sprintf("%s.%d", f.cacheToken, index)

	if f.cache != nil {
		header, payload, ok := f.cache.Get2(key, f.detailKey, CacheHeaderSize)
		if ok {
			if h, hok := DecodeCacheHeader(header); hok &&
				h.Magic == CacheDoaMagic &&
				uint32(len(payload))/DoaPointSize == h.N_points &&
				len(payload)%DoaPointSize == 0 {
				f.doaBuf = decodeDoa(payload)
				return f.doaBuf, h.Time, nil
			}
		}
	}

	data1, time1, err := f.channel1.Complex(index)
	if err != nil {
		return nil, 0, err
	}

	found := f.channel2.Find(time1)
	if found.Status != FindExact || found.LeftTime != time1 {
		return nil, 0, ErrUnavailable
	}

	data2, _, err := f.channel2.Complex(found.Left)
	if err != nil {
		return nil, 0, errors.Join(ErrUnavailable, err)
	}

	n := len(data1)
	if len(data2) < n {
		n = len(data2)
	}

	if cap(f.doaBuf) < n {
		f.doaBuf = make([]DoaPoint, n)
	}
	f.doaBuf = f.doaBuf[:n]

	for i := 0; i < n; i++ {
		re1 := float64(data1[i].Re)
		im1 := float64(data1[i].Im)
		re2 := float64(data2[i].Re)
		im2 := float64(data2[i].Im)

		// Conjugate product of the two receivers; its phase carries the
		// path difference across the antenna base.
		re := re1*re2 + im1*im2
		im := im1*re2 - re1*im2

		phase := math.Atan2(im, re)

		f.doaBuf[i].Angle = float32(math.Asin(phase * f.waveLength / (2.0 * math.Pi * f.antennaBase)))
		f.doaBuf[i].Distance = float32(float64(i) * f.soundVelocity / (2.0 * f.dataRate))
		f.doaBuf[i].Amplitude = float32(math.Sqrt(re1*re1+im1*im1) * math.Sqrt(re2*re2+im2*im2))
	}

	if f.cache != nil {
		h := CacheHeader{Magic: CacheDoaMagic, N_points: uint32(n), Time: time1}
		h.Encode(f.headerBuf[:])
		_ = f.cache.Set2(key, f.detailKey, f.headerBuf[:], encodeDoa(f.doaBuf))
	}

	return f.doaBuf, time1, nil
}
