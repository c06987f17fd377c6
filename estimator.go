package acoustic

import (
	"math"

	"github.com/samber/lo"
)

// rayleighCorrection relates the mean of Rayleigh distributed amplitudes to
// the underlying standard deviation: mean = std * sqrt(pi/2).
const rayleighCorrection = 1.2533

// Estimator derives per-sample data quality from the signal-to-noise ratio
// of a sonar channel. It pairs the signal reader with a reader opened on
// the channel's noise sibling and, for navigation quality, a NavSource.
//
// Single goroutine, like the readers it composes.
type Estimator struct {
	signal *Reader
	noise  *Reader
	navig  NavSource

	SmoothWindow    uint32
	SamplesWindow   uint32
	TimeWindow      uint32
	MinQuality      uint32
	MaxQuality      uint32
	MaxNavigDelay   int64
	NavigMeanWindow uint32

	// σ-vector preserved between calls; recomputation is skipped while
	// the resolved noise index stays the same.
	noiseStd      []float32
	prevNoiseIdx  uint32
	havePrevNoise bool

	working  []float32
	smoothed []float32
	snr      []float32
	quality  []uint32
}

// NewEstimator builds a quality estimator over a signal reader, its noise
// counterpart and a navigation source. navig may be nil when only acoustic
// quality is wanted.
func NewEstimator(signal, noise *Reader, navig NavSource) *Estimator {
	return &Estimator{
		signal: signal,
		noise:  noise,
		navig:  navig,

		SmoothWindow:    10,
		SamplesWindow:   100,
		TimeWindow:      4,
		MinQuality:      0,
		MaxQuality:      255,
		MaxNavigDelay:   10,
		NavigMeanWindow: 10,
	}
}

// leakLength returns the number of leading samples dominated by direct
// transmitter-receiver coupling: the active signal image length, zero when
// no image governs the ping.
func (e *Estimator) leakLength(index uint32) uint32 {
	image, _, ok := e.signal.SignalImage(index)
	if !ok {
		return 0
	}

	return uint32(len(image))
}

// accountTvg divides amplitudes by the channel's gain coefficients,
// truncating to the shorter of the two vectors.
func accountTvg(rd *Reader, index uint32, samples []float32) {
	tvg, _, err := rd.Tvg(index)
	if err != nil {
		return
	}

	n := len(samples)
	if len(tvg) < n {
		n = len(tvg)
	}

	for i := 0; i < n; i++ {
		if tvg[i] != 0 {
			samples[i] /= tvg[i]
		}
	}
}

// smooth applies a forward rolling mean of width w in place over
// [leak, len-w-1).
func smooth(samples []float32, leak, w uint32) {
	n := uint32(len(samples))
	if w == 0 || leak+w >= n {
		return
	}

	var sum float32
	for i := leak; i < leak+w; i++ {
		sum += samples[i]
	}

	for i := leak; i < n-(w+1); i++ {
		mean := sum / float32(w)
		sum = sum - samples[i] + samples[i+w]
		samples[i] = mean
	}
}

// noiseStdDev fills e.noiseStd with the per-range-bin noise standard
// deviation estimated from the pings around noiseIndex. Recomputation is
// skipped while noiseIndex matches the previous call.
func (e *Estimator) noiseStdDev(noiseIndex, leak uint32) error {
	if e.havePrevNoise && e.prevNoiseIdx == noiseIndex {
		return nil
	}

	start := uint32(0)
	if noiseIndex+1 > e.TimeWindow {
		start = noiseIndex - e.TimeWindow + 1
	}

	nBins, _, err := e.noise.SizeTime(noiseIndex)
	if err != nil {
		return ErrUnavailable
	}

	if cap(e.noiseStd) < int(nBins) {
		e.noiseStd = make([]float32, nBins)
	}
	e.noiseStd = e.noiseStd[:nBins]
	for i := range e.noiseStd {
		e.noiseStd[i] = 0
	}

	scratch := make([]float32, nBins)

	rows := uint32(0)
	for j := start; j <= noiseIndex; j++ {
		ampls, _, err := e.noise.Amplitude(j)
		if err != nil {
			return ErrUnavailable
		}

		n := uint32(len(ampls))
		if n < nBins {
			nBins = n
			e.noiseStd = e.noiseStd[:nBins]
		}

		copy(scratch, ampls[:nBins])

		if e.noise.HasTvg() {
			accountTvg(e.noise, j, scratch[:nBins])
		}

		if leak+e.SamplesWindow >= nBins {
			return ErrUnavailable
		}

		var sum float32
		for i := leak; i < leak+e.SamplesWindow; i++ {
			sum += scratch[i]
		}

		for i := leak; i < nBins-(e.SamplesWindow+1); i++ {
			e.noiseStd[i] += sum
			sum = sum - scratch[i] + scratch[i+e.SamplesWindow]
		}

		rows++
	}

	norm := float32(e.SamplesWindow) * float32(rows)
	for i := leak; i < nBins-(e.SamplesWindow+1); i++ {
		e.noiseStd[i] /= norm
		e.noiseStd[i] /= rayleighCorrection
	}

	e.prevNoiseIdx = noiseIndex
	e.havePrevNoise = true

	return nil
}

// countSnr writes 20·log10(signal / (sqrt(2)·σ)) per bin into result,
// zeroing bins with no noise estimate.
func countSnr(signal, noiseStd []float32, leak uint32, result []float32) {
	const sqrt2 = 1.41421

	for i := leak; i < uint32(len(signal)); i++ {
		if i < uint32(len(noiseStd)) && noiseStd[i] != 0 && signal[i] > 0 {
			result[i] = 20.0 * float32(math.Log10(float64(signal[i]/(sqrt2*noiseStd[i]))))
		} else {
			result[i] = 0
		}
	}
}

// AcousticQuality maps each range bin of a ping onto a quality value in
// [MinQuality..MaxQuality] driven by its SNR. The returned slice borrows
// an internal buffer valid until the next call.
func (e *Estimator) AcousticQuality(index uint32) ([]uint32, error) {
	if e.SamplesWindow == 0 || e.TimeWindow == 0 {
		return nil, ErrUnavailable
	}

	leak := e.leakLength(index)

	ampls, signalTime, err := e.signal.Amplitude(index)
	if err != nil {
		return nil, err
	}

	n := uint32(len(ampls))
	if leak > n {
		return nil, ErrUnavailable
	}

	if cap(e.working) < int(n) {
		e.working = make([]float32, n)
		e.smoothed = make([]float32, n)
		e.snr = make([]float32, n)
		e.quality = make([]uint32, n)
	}
	e.working = e.working[:n]
	e.smoothed = e.smoothed[:n]
	e.snr = e.snr[:n]
	e.quality = e.quality[:n]

	copy(e.working, ampls)

	if e.signal.HasTvg() {
		accountTvg(e.signal, index, e.working)
	}

	for i := uint32(0); i < leak; i++ {
		e.working[i] = 0
	}

	copy(e.smoothed, e.working)
	smooth(e.smoothed, leak, e.SmoothWindow)

	// Locate the noise ping recorded at the signal's timestamp; strict
	// pairing, the noise channel shares the trigger with the data channel.
	found := e.noise.Find(signalTime)
	if found.Status != FindExact {
		return nil, ErrUnavailable
	}

	if err := e.noiseStdDev(found.Left, leak); err != nil {
		return nil, err
	}

	countSnr(e.working, e.noiseStd, leak, e.snr)

	smoothSnr := make([]float32, n)
	countSnr(e.smoothed, e.noiseStd, leak, smoothSnr)

	// The scale anchor is the smoothed maximum; the raw SNR is what gets
	// scaled. Anchoring on the raw maximum would let single-bin spikes
	// compress the whole scale.
	maxSnr := lo.Max(smoothSnr[leak:])
	if maxSnr <= 0 {
		for i := range e.quality {
			e.quality[i] = 0
		}
		return e.quality, nil
	}

	scaleQuality(e.snr, leak, maxSnr, e.MinQuality, e.MaxQuality, e.quality)

	return e.quality, nil
}

// scaleQuality maps SNR values onto [minQuality..maxQuality] anchored at
// maxSnr: negative SNR scores zero, SNR past the anchor saturates.
func scaleQuality(snr []float32, leak uint32, maxSnr float32, minQuality, maxQuality uint32, out []uint32) {
	coef := float32(maxQuality-minQuality) / maxSnr

	for i := uint32(0); i < leak; i++ {
		out[i] = 0
	}
	for i := leak; i < uint32(len(snr)); i++ {
		switch {
		case snr[i] < 0:
			out[i] = 0
		case snr[i] > maxSnr:
			out[i] = maxQuality
		default:
			out[i] = uint32(snr[i] * coef)
		}
	}
}

// NavigQuality grades a ping by the freshness of navigation data at its
// timestamp: quality decays linearly as the delay since the last fix grows
// against the mean fix interval, reaching MinQuality at MaxNavigDelay
// intervals and clamped at zero beyond.
func (e *Estimator) NavigQuality(signalTimeUs int64) (uint32, error) {
	if e.navig == nil {
		return 0, ErrUnavailable
	}

	found := e.navig.Find(signalTimeUs)
	if found.Status != FindExact && found.Status != FindBetween {
		return 0, ErrUnavailable
	}

	left := found.Left
	if left <= e.NavigMeanWindow {
		return 0, nil
	}

	// Mean inter-arrival over the window preceding the found fix.
	prevTime, _, err := e.navig.Get(left - e.NavigMeanWindow)
	if err != nil {
		return 0, ErrUnavailable
	}

	var meanInterval int64
	for i := left - e.NavigMeanWindow + 1; i <= left; i++ {
		t, _, err := e.navig.Get(i)
		if err != nil {
			return 0, ErrUnavailable
		}
		meanInterval += t - prevTime
		prevTime = t
	}
	meanInterval /= int64(e.NavigMeanWindow)

	if meanInterval <= 0 {
		return 0, ErrUnavailable
	}

	lastInterval := signalTimeUs - found.LeftTime

	coef := float64(e.MaxQuality-e.MinQuality) / float64(e.MaxNavigDelay*meanInterval)
	estimate := float64(e.MaxQuality) - coef*float64(lastInterval)

	if estimate < 0 {
		return 0, nil
	}

	return uint32(estimate), nil
}
