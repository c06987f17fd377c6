package acoustic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
)

// Cache key kinds. One three-letter tag per (data class × convolution)
// combination keeps entries for different pipelines from colliding.
const (
	kindReal      = "REL"
	kindComplexCv = "QCV"
	kindComplexNc = "QNC"
	kindAmplCv    = "ACV"
	kindAmplNc    = "ANC"
	kindTvg       = "TVG"
	kindMeta      = "MTA"
)

// Reader is the acoustic data reader: it opens one data channel together
// with its signal and TVG siblings and produces raw, complex, amplitude and
// gain samples per ping index, with matched-filter convolution against the
// active emitted-signal image and a shared deduplicating result cache.
//
// A Reader is not safe for concurrent use. Create one reader per goroutine
// and share a single cache and store between them. Slices returned by the
// read operations borrow the reader's internal buffers and stay valid only
// until the next call on the same reader.
type Reader struct {
	store Store
	cache Cache

	project string
	track   string
	source  SourceType
	channel uint
	noise   bool

	offset         AntennaOffset
	info           AcousticInfo
	discretization Discretization

	dataCh   Channel
	signalCh Channel
	tvgCh    Channel

	realBuf    []float32
	complexBuf []ComplexFloat
	headerBuf  [CacheHeaderSize]byte
	dataTime   int64

	cacheToken string
	cacheKey   []byte

	signals   signalRegistry
	convolve  bool
	convScale uint32

	cacheSetFailed bool
}

// NewReader opens an acoustic reader for a channel of a recorded track.
// cache may be nil, in which case every read recomputes. noise selects the
// noise sibling of the data channel.
func NewReader(store Store, cache Cache, project, track string, source SourceType, channel uint, noise bool) (*Reader, error) {
	if !IsSonarSource(source) {
		return nil, ErrUnsupportedSource
	}

	dataKind := ChannelData
	if noise {
		dataKind = ChannelNoise
	}
	dataName := ChannelName(source, dataKind, channel)
	signalName := ChannelName(source, ChannelSignal, channel)
	tvgName := ChannelName(source, ChannelTvg, channel)

	r := &Reader{
		store:   store,
		cache:   cache,
		project: project,
		track:   track,
		source:  source,
		channel: channel,
		noise:   noise,
	}

	dataCh, err := store.OpenChannel(project, track, dataName)
	if err != nil {
		return nil, errors.Join(ErrChannelNotFound, err)
	}
	r.dataCh = dataCh

	if _, _, ok := dataCh.Range(); !ok {
		r.Close()
		return nil, ErrEmptyChannel
	}

	params, err := dataCh.Params()
	if err != nil {
		r.Close()
		return nil, errors.Join(ErrBadParams, err)
	}

	r.offset, err = LoadAntennaOffset(params, AcousticChannelSchemaId, AcousticChannelSchemaVersion)
	if err != nil {
		params.Close()
		r.Close()
		return nil, errors.Join(ErrBadParams, err)
	}

	r.info, err = LoadAcousticInfo(params)
	params.Close()
	if err != nil {
		r.Close()
		return nil, errors.Join(ErrBadParams, err)
	}

	r.discretization = DiscretizationByType(r.info.Data_Type)

	// Signal images are optional. When the channel exists its parameters
	// must agree with the data channel; the actual images load lazily on
	// the first read.
	signalCh, err := store.OpenChannel(project, track, signalName)
	if err == nil {
		sparams, perr := signalCh.Params()
		if perr == nil {
			perr = CheckSignalParams(sparams, r.info.Data_Rate)
			sparams.Close()
		}
		if perr != nil {
			signalCh.Close()
			r.Close()
			return nil, errors.Join(ErrBadParams, perr)
		}
		r.signalCh = signalCh
	}

	// TVG coefficients are optional too.
	tvgCh, err := store.OpenChannel(project, track, tvgName)
	if err == nil {
		tparams, perr := tvgCh.Params()
		if perr == nil {
			perr = CheckTvgParams(tparams, r.info.Data_Rate)
			tparams.Close()
		}
		if perr != nil {
			tvgCh.Close()
			r.Close()
			return nil, errors.Join(ErrBadParams, perr)
		}
		r.tvgCh = tvgCh
	}

	r.convolve = true
	if r.discretization == DiscretizationReal {
		r.convScale = 2 * ConvScaleUnit
	} else {
		r.convScale = ConvScaleUnit
	}

	r.cacheToken = fmt.Sprintf("ACOUSTIC.%s.%s.%s.%d.%d",
		store.URI(), project, track, source, channel)
	r.cacheKey = make([]byte, 0, len(r.cacheToken)+32)

	return r, nil
}

// Close releases every open channel handle. Safe to call more than once.
func (r *Reader) Close() {
	if r.dataCh != nil {
		r.dataCh.Close()
		r.dataCh = nil
	}
	if r.signalCh != nil {
		r.signalCh.Close()
		r.signalCh = nil
	}
	if r.tvgCh != nil {
		r.tvgCh.Close()
		r.tvgCh = nil
	}
}

// Token returns the stable cache-key scope of this reader.
func (r *Reader) Token() string { return r.cacheToken }

// Project returns the project name the reader was opened on.
func (r *Reader) Project() string { return r.project }

// Track returns the track name the reader was opened on.
func (r *Reader) Track() string { return r.track }

// Source returns the source type of the data channel.
func (r *Reader) Source() SourceType { return r.source }

// Channel returns the channel number of the data channel.
func (r *Reader) Channel() uint { return r.channel }

// IsNoise reports whether the reader was opened on the noise sibling.
func (r *Reader) IsNoise() bool { return r.noise }

// Offset returns the receiving antenna offset.
func (r *Reader) Offset() AntennaOffset { return r.offset }

// Info returns the acoustic channel parameters.
func (r *Reader) Info() AcousticInfo { return r.info }

// Discretization returns the data discretization of the channel.
func (r *Reader) Discretization() Discretization { return r.discretization }

// HasTvg reports whether gain coefficients were recorded for the channel.
func (r *Reader) HasTvg() bool { return r.tvgCh != nil }

// Writable reports whether new pings may still appear in the data channel.
func (r *Reader) Writable() bool { return r.dataCh.Writable() }

// ModCount returns the data channel's modification counter.
func (r *Reader) ModCount() uint64 { return r.dataCh.ModCount() }

// Range returns the first and last recorded ping index.
func (r *Reader) Range() (first, last uint32, ok bool) { return r.dataCh.Range() }

// Find locates ping indices adjacent to a timestamp.
func (r *Reader) Find(timeUs int64) FindResult { return r.dataCh.Find(timeUs) }

// SetConvolve enables or disables matched-filter convolution and, when
// scale is positive, replaces the scale factor. For real discretization
// the factor is doubled to compensate the halved quadrature energy.
func (r *Reader) SetConvolve(convolve bool, scale float64) {
	r.convolve = convolve

	if r.discretization == DiscretizationReal {
		scale *= 2.0
	}

	if scale > 0.0 {
		r.convScale = uint32(scale)
	}
}

// updateCacheKey reformats the reader's scratch key for a data kind and
// ping index. The convolution scale enters the key as an integer, zero when
// convolution is off, so differently scaled pipelines never collide.
func (r *Reader) updateCacheKey(kind string, index uint32) string {
	scale := uint32(0)
	if r.convolve {
		scale = r.convScale
	}

	r.cacheKey = r.cacheKey[:0]
	r.cacheKey = append(r.cacheKey, r.cacheToken...)
	r.cacheKey = append(r.cacheKey, '.')
	r.cacheKey = append(r.cacheKey, kind...)
	r.cacheKey = append(r.cacheKey, '.')
	r.cacheKey = appendUint(r.cacheKey, scale)
	r.cacheKey = append(r.cacheKey, '.')
	r.cacheKey = appendUint(r.cacheKey, index)

	return string(r.cacheKey)
}

func appendUint(dst []byte, v uint32) []byte {
	if v == 0 {
		return append(dst, '0')
	}

	var tmp [10]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}

	return append(dst, tmp[i:]...)
}

// cacheSet writes a data entry; failures are advisory and logged once.
func (r *Reader) cacheSet(key string, h CacheHeader, payload []byte) {
	h.Encode(r.headerBuf[:])

	if err := r.cache.Set2(key, "", r.headerBuf[:], payload); err != nil && !r.cacheSetFailed {
		r.cacheSetFailed = true
		log.Warn("acoustic: cache set failed, further failures of this reader are not logged", "token", r.cacheToken, "err", err)
	}
}

// checkDataCache probes the cache for a data entry and, on a hit, decodes
// the payload into the requested buffer family. A corrupt entry (bad magic
// or point-count mismatch) counts as a miss.
func (r *Reader) checkDataCache(kind string, index uint32) bool {
	if r.cache == nil {
		return false
	}

	key := r.updateCacheKey(kind, index)
	header, payload, ok := r.cache.Get2(key, "", CacheHeaderSize)
	if !ok {
		return false
	}

	h, ok := DecodeCacheHeader(header)
	if !ok || h.Magic != CacheDataMagic {
		return false
	}

	pointSize := uint32(RealPointSize)
	if kind == kindComplexCv || kind == kindComplexNc {
		pointSize = ComplexPointSize
	}

	if uint32(len(payload))/pointSize != h.N_points || uint32(len(payload))%pointSize != 0 {
		return false
	}

	if pointSize == ComplexPointSize {
		r.complexBuf = decodeComplex(payload)
	} else {
		r.realBuf = decodeReal(payload)
	}
	r.dataTime = h.Time

	return true
}

func encodeReal(samples []float32) []byte {
	out := make([]byte, len(samples)*RealPointSize)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*RealPointSize:], math.Float32bits(v))
	}
	return out
}

func encodeComplex(samples []ComplexFloat) []byte {
	out := make([]byte, len(samples)*ComplexPointSize)
	for i, v := range samples {
		off := i * ComplexPointSize
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(v.Re))
		binary.LittleEndian.PutUint32(out[off+4:], math.Float32bits(v.Im))
	}
	return out
}

// readChannelData runs the internal read pipeline: refresh the signal
// registry, read the raw ping, verify framing and decode into the primary
// buffer selected by the discretization.
func (r *Reader) readChannelData(index uint32) error {
	r.refreshSignals()

	raw, t, err := r.dataCh.Read(index)
	if err != nil {
		return errors.Join(ErrOutOfRange, err)
	}
	if len(raw) == 0 {
		return ErrOutOfRange
	}

	pointSize := int(PointSize(r.discretization))
	if len(raw)%pointSize != 0 {
		return ErrCorruptData
	}

	switch r.discretization {
	case DiscretizationReal, DiscretizationAmplitude:
		r.realBuf = decodeReal(raw)
	case DiscretizationComplex:
		r.complexBuf = decodeComplex(raw)
	default:
		return ErrWrongKind
	}

	r.dataTime = t

	return nil
}

// refreshSignals updates the registry and drops the signal handle once the
// producer is done with it; convolution then freezes against the images
// already loaded.
func (r *Reader) refreshSignals() {
	if r.signalCh == nil {
		return
	}

	r.signals.refresh(r.signalCh, r.dataCh)

	if r.signals.closed {
		r.signalCh.Close()
		r.signalCh = nil
	}
}

// real2complex synthesises quadrature samples from raw real counts with a
// rotating phasor at the carrier frequency.
func (r *Reader) real2complex() {
	n := len(r.realBuf)
	if cap(r.complexBuf) < n {
		r.complexBuf = make([]ComplexFloat, n)
	}
	r.complexBuf = r.complexBuf[:n]

	phaseStep := 2.0 * math.Pi * r.info.Signal_Frequency / r.info.Data_Rate
	phase := 0.0

	for i := 0; i < n; i++ {
		s, c := math.Sincos(phase)
		r.complexBuf[i].Re = r.realBuf[i] * float32(s)
		r.complexBuf[i].Im = r.realBuf[i] * float32(c)
		phase += phaseStep
	}
}

// convolution convolves the complex buffer against the image active at
// index. No image, an inert image or disabled convolution are all no-ops.
func (r *Reader) convolution(index uint32) {
	if !r.convolve {
		return
	}

	image := r.signals.find(index)
	if image == nil || image.Convolution == nil {
		return
	}

	image.Convolution.Convolve(r.complexBuf, float32(float64(r.convScale)/ConvScaleUnit))
}

// SizeTime returns the sample count and timestamp of a ping without
// reading its payload.
func (r *Reader) SizeTime(index uint32) (nPoints uint32, timeUs int64, err error) {
	if r.cache != nil {
		key := r.updateCacheKey(kindMeta, index)
		if entry, ok := r.cache.Get(key, ""); ok {
			if h, ok := DecodeCacheHeader(entry); ok && h.Magic == CacheMetaMagic {
				return h.N_points, h.Time, nil
			}
		}
	}

	t, err := r.dataCh.DataTime(index)
	if err != nil {
		return 0, 0, errors.Join(ErrOutOfRange, err)
	}

	size, err := r.dataCh.DataSize(index)
	if err != nil {
		return 0, 0, errors.Join(ErrOutOfRange, err)
	}

	nPoints = size / PointSize(r.discretization)
	if nPoints == 0 {
		return 0, 0, ErrOutOfRange
	}

	if r.cache != nil {
		key := r.updateCacheKey(kindMeta, index)
		h := CacheHeader{Magic: CacheMetaMagic, N_points: nPoints, Time: t}
		h.Encode(r.headerBuf[:])
		if err := r.cache.Set(key, "", r.headerBuf[:]); err != nil && !r.cacheSetFailed {
			r.cacheSetFailed = true
			log.Warn("acoustic: cache set failed, further failures of this reader are not logged", "token", r.cacheToken, "err", err)
		}
	}

	return nPoints, t, nil
}

// Real returns the raw real samples of a ping. Only valid for channels
// with real discretization. The slice borrows the reader's buffer.
func (r *Reader) Real(index uint32) ([]float32, int64, error) {
	if r.discretization != DiscretizationReal {
		return nil, 0, ErrWrongKind
	}

	if r.checkDataCache(kindReal, index) {
		return r.realBuf, r.dataTime, nil
	}

	if err := r.readChannelData(index); err != nil {
		return nil, 0, err
	}

	if r.cache != nil {
		key := r.updateCacheKey(kindReal, index)
		h := CacheHeader{Magic: CacheDataMagic, N_points: uint32(len(r.realBuf)), Time: r.dataTime}
		r.cacheSet(key, h, encodeReal(r.realBuf))
	}

	return r.realBuf, r.dataTime, nil
}

// Complex returns the quadrature samples of a ping, convolved against the
// active signal image when convolution is enabled. Not valid for amplitude
// discretization. The slice borrows the reader's buffer.
func (r *Reader) Complex(index uint32) ([]ComplexFloat, int64, error) {
	if r.discretization == DiscretizationAmplitude {
		return nil, 0, ErrWrongKind
	}

	kind := kindComplexNc
	if r.convolve {
		kind = kindComplexCv
	}

	if r.checkDataCache(kind, index) {
		return r.complexBuf, r.dataTime, nil
	}

	if err := r.readChannelData(index); err != nil {
		return nil, 0, err
	}

	if r.discretization == DiscretizationReal {
		r.real2complex()
	}

	r.convolution(index)

	if r.cache != nil {
		key := r.updateCacheKey(kind, index)
		h := CacheHeader{Magic: CacheDataMagic, N_points: uint32(len(r.complexBuf)), Time: r.dataTime}
		r.cacheSet(key, h, encodeComplex(r.complexBuf))
	}

	return r.complexBuf, r.dataTime, nil
}

// Amplitude returns the magnitude samples of a ping. For real and complex
// discretizations the magnitudes derive from the (optionally convolved)
// quadrature samples; amplitude channels return their samples as stored.
// The slice borrows the reader's buffer.
func (r *Reader) Amplitude(index uint32) ([]float32, int64, error) {
	kind := kindAmplNc
	if r.convolve {
		kind = kindAmplCv
	}

	if r.checkDataCache(kind, index) {
		return r.realBuf, r.dataTime, nil
	}

	// Reuse cached quadrature samples under the current convolution
	// setting before going back to the store.
	complexKind := kindComplexNc
	if r.convolve {
		complexKind = kindComplexCv
	}

	if !r.checkDataCache(complexKind, index) {
		if err := r.readChannelData(index); err != nil {
			return nil, 0, err
		}

		if r.discretization == DiscretizationReal {
			r.real2complex()
		}

		if r.discretization != DiscretizationAmplitude {
			r.convolution(index)
		}
	}

	if r.discretization != DiscretizationAmplitude {
		n := len(r.complexBuf)
		if cap(r.realBuf) < n {
			r.realBuf = make([]float32, n)
		}
		r.realBuf = r.realBuf[:n]

		for i := 0; i < n; i++ {
			re := float64(r.complexBuf[i].Re)
			im := float64(r.complexBuf[i].Im)
			r.realBuf[i] = float32(math.Sqrt(re*re + im*im))
		}
	}

	if r.cache != nil {
		key := r.updateCacheKey(kind, index)
		h := CacheHeader{Magic: CacheDataMagic, N_points: uint32(len(r.realBuf)), Time: r.dataTime}
		r.cacheSet(key, h, encodeReal(r.realBuf))
	}

	return r.realBuf, r.dataTime, nil
}

// Tvg returns the gain coefficients governing a ping. The coefficients are
// looked up by the ping's timestamp: the block recorded at or before it,
// or the last block when the ping postdates every TVG record.
func (r *Reader) Tvg(index uint32) ([]float32, int64, error) {
	if r.tvgCh == nil {
		return nil, 0, ErrUnavailable
	}

	if r.checkDataCache(kindTvg, index) {
		return r.realBuf, r.dataTime, nil
	}

	t, err := r.dataCh.DataTime(index)
	if err != nil {
		return nil, 0, errors.Join(ErrOutOfRange, err)
	}

	_, last, ok := r.tvgCh.Range()
	if !ok {
		return nil, 0, ErrUnavailable
	}

	var tvgIndex uint32
	found := r.tvgCh.Find(t)
	switch found.Status {
	case FindExact, FindBetween:
		tvgIndex = found.Left
	case FindGreater:
		tvgIndex = last
	default:
		return nil, 0, ErrUnavailable
	}

	raw, tvgTime, err := r.tvgCh.Read(tvgIndex)
	if err != nil {
		return nil, 0, errors.Join(ErrStore, err)
	}
	if len(raw)%TvgPointSize != 0 {
		return nil, 0, ErrCorruptData
	}

	r.realBuf = decodeReal(raw)
	r.dataTime = tvgTime

	if r.cache != nil {
		key := r.updateCacheKey(kindTvg, index)
		h := CacheHeader{Magic: CacheDataMagic, N_points: uint32(len(r.realBuf)), Time: r.dataTime}
		r.cacheSet(key, h, encodeReal(r.realBuf))
	}

	return r.realBuf, r.dataTime, nil
}

// SignalImage returns the emitted-signal image active at a ping index, or
// ok false when no image governs it.
func (r *Reader) SignalImage(index uint32) (image []ComplexFloat, timeUs int64, ok bool) {
	r.refreshSignals()

	entry := r.signals.find(index)
	if entry == nil || len(entry.Image) == 0 {
		return nil, 0, false
	}

	return entry.Image, entry.Time, true
}
