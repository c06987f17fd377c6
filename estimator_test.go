package acoustic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// estimatorFixture records amplitude-discretization signal and noise
// channels sharing trigger timestamps, n samples per ping. The signal ping
// carries high amplitudes over the leading head bins and near-zero after;
// the noise channel is flat at noiseLevel.
func estimatorFixture(t *testing.T, n, head int, high, low, noiseLevel float32) (*Estimator, *memStore, *memChannel) {
	t.Helper()

	store := newMemStore()

	signal := store.addChannel("p", "t", "ss-starboard", acousticParams("amplitude-float32le", 100000, 250000, 0))
	noise := store.addChannel("p", "t", "ss-starboard-noise", acousticParams("amplitude-float32le", 100000, 250000, 0))

	samples := make([]float32, n)
	for i := range samples {
		if i < head {
			samples[i] = high
		} else {
			samples[i] = low
		}
	}

	noiseSamples := make([]float32, n)
	for i := range noiseSamples {
		noiseSamples[i] = noiseLevel
	}

	signal.append(encodeReal(samples), 1000)
	noise.append(encodeReal(noiseSamples), 1000)

	signalRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)

	noiseRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, true)
	require.NoError(t, err)

	return NewEstimator(signalRd, noiseRd, nil), store, noise
}

func TestAcousticQualityShape(t *testing.T) {
	est, _, _ := estimatorFixture(t, 300, 60, 100.0, 1e-4, 1.0)

	quality, err := est.AcousticQuality(0)
	require.NoError(t, err)
	require.Len(t, quality, 300)

	for i, q := range quality {
		assert.LessOrEqual(t, q, est.MaxQuality, "bin %d", i)
	}

	// strong echo head scores high
	assert.Greater(t, quality[10], uint32(0))

	// the near-silent tail scores zero (negative SNR)
	assert.Equal(t, uint32(0), quality[150])

	// bins past the noise estimate window score zero
	assert.Equal(t, uint32(0), quality[280])
}

func TestAcousticQualityLeakSuppression(t *testing.T) {
	est, store, _ := estimatorFixture(t, 300, 60, 100.0, 1e-4, 1.0)

	// a 40-point signal image activating at ping 0 defines the leakage
	// region
	signalCh := store.addChannel("p", "t", "ss-starboard-signal", signalParams(100000))
	image := make([]ComplexFloat, 40)
	for i := range image {
		image[i] = ComplexFloat{Re: 1}
	}
	signalCh.append(encodeComplex(image), 1000)

	// reopen the signal reader so the signal channel is seen
	signalRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)
	est.signal = signalRd

	quality, err := est.AcousticQuality(0)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		assert.Equal(t, uint32(0), quality[i], "leak bin %d", i)
	}
}

func TestAcousticQualityLeakLongerThanPing(t *testing.T) {
	est, store, _ := estimatorFixture(t, 100, 60, 100.0, 1e-4, 1.0)
	est.SamplesWindow = 20

	signalCh := store.addChannel("p", "t", "ss-starboard-signal", signalParams(100000))
	image := make([]ComplexFloat, 200)
	for i := range image {
		image[i] = ComplexFloat{Re: 1}
	}
	signalCh.append(encodeComplex(image), 1000)

	signalRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)
	est.signal = signalRd

	_, err = est.AcousticQuality(0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAcousticQualityNoNoisePair(t *testing.T) {
	store := newMemStore()

	signal := store.addChannel("p", "t", "ss-starboard", acousticParams("amplitude-float32le", 100000, 250000, 0))
	noise := store.addChannel("p", "t", "ss-starboard-noise", acousticParams("amplitude-float32le", 100000, 250000, 0))

	signal.append(encodeReal(make([]float32, 300)), 1000)
	noise.append(encodeReal(make([]float32, 300)), 999) // off by 1 µs

	signalRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)
	noiseRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, true)
	require.NoError(t, err)

	est := NewEstimator(signalRd, noiseRd, nil)

	_, err = est.AcousticQuality(0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAcousticQualityDisabledWindows(t *testing.T) {
	est, _, _ := estimatorFixture(t, 300, 60, 100.0, 1e-4, 1.0)

	est.SamplesWindow = 0
	_, err := est.AcousticQuality(0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAcousticQualityNoiseCacheReused(t *testing.T) {
	est, _, noise := estimatorFixture(t, 300, 60, 100.0, 1e-4, 1.0)

	_, err := est.AcousticQuality(0)
	require.NoError(t, err)

	reads := noise.reads

	// same ping resolves to the same noise index: the preserved σ-vector
	// is reused and the noise channel is left alone
	_, err = est.AcousticQuality(0)
	require.NoError(t, err)
	assert.Equal(t, reads, noise.reads)
}

func TestAcousticQualityTvgCompensation(t *testing.T) {
	est, store, _ := estimatorFixture(t, 300, 60, 100.0, 1e-4, 1.0)

	tvgCh := store.addChannel("p", "t", "ss-starboard-tvg", tvgParams(100000))
	tvg := make([]float32, 300)
	for i := range tvg {
		tvg[i] = 2.0
	}
	tvgCh.append(encodeReal(tvg), 1000)

	signalRd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)
	require.True(t, signalRd.HasTvg())
	est.signal = signalRd

	quality, err := est.AcousticQuality(0)
	require.NoError(t, err)
	require.Len(t, quality, 300)

	// uniform gain rescales signal and scale anchor together; the head
	// still dominates
	assert.Greater(t, quality[10], uint32(0))
}

func TestQualityScaling(t *testing.T) {
	snr := []float32{-5, 0, 10, 25}
	quality := make([]uint32, len(snr))

	scaleQuality(snr, 0, 20, 0, 255, quality)

	assert.Equal(t, []uint32{0, 0, 127, 255}, quality)
}

// navFixture is a NavSource double with fixes every intervalUs.
type navFixture struct {
	times []int64
}

func newNavFixture(count int, intervalUs int64) *navFixture {
	nav := &navFixture{times: make([]int64, count)}
	for i := range nav.times {
		nav.times[i] = int64(i) * intervalUs
	}

	return nav
}

func (n *navFixture) Find(timeUs int64) FindResult {
	count := len(n.times)
	if count == 0 {
		return FindResult{Status: FindFail}
	}
	if timeUs < n.times[0] {
		return FindResult{Status: FindLess}
	}
	if timeUs > n.times[count-1] {
		return FindResult{Status: FindGreater}
	}

	for i := count - 1; i >= 0; i-- {
		if n.times[i] == timeUs {
			return FindResult{Status: FindExact, Left: uint32(i), Right: uint32(i), LeftTime: timeUs, RightTime: timeUs}
		}
		if n.times[i] < timeUs {
			return FindResult{
				Status: FindBetween,
				Left:   uint32(i), Right: uint32(i + 1),
				LeftTime: n.times[i], RightTime: n.times[i+1],
			}
		}
	}

	return FindResult{Status: FindFail}
}

func (n *navFixture) Get(index uint32) (int64, float64, error) {
	if int(index) >= len(n.times) {
		return 0, 0, ErrOutOfRange
	}

	return n.times[index], 0, nil
}

func (n *navFixture) Range() (uint32, uint32, bool) {
	if len(n.times) == 0 {
		return 0, 0, false
	}

	return 0, uint32(len(n.times) - 1), true
}

func TestNavigQualityFreshFix(t *testing.T) {
	est := NewEstimator(nil, nil, newNavFixture(51, 1000))

	// half an interval after fix 30: 255 - (255 / (10·1000))·500 = 242.25
	quality, err := est.NavigQuality(30500)
	require.NoError(t, err)
	assert.Equal(t, uint32(242), quality)
}

func TestNavigQualityExactFix(t *testing.T) {
	est := NewEstimator(nil, nil, newNavFixture(51, 1000))

	quality, err := est.NavigQuality(30000)
	require.NoError(t, err)
	assert.Equal(t, uint32(255), quality)
}

func TestNavigQualityEarlyTrack(t *testing.T) {
	est := NewEstimator(nil, nil, newNavFixture(51, 1000))

	// not enough history behind the fix yet
	quality, err := est.NavigQuality(5500)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), quality)
}

func TestNavigQualityNoData(t *testing.T) {
	est := NewEstimator(nil, nil, newNavFixture(51, 1000))

	_, err := est.NavigQuality(99000000)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNavigQualityNoSource(t *testing.T) {
	est := NewEstimator(nil, nil, nil)

	_, err := est.NavigQuality(0)
	assert.ErrorIs(t, err, ErrUnavailable)
}
