package acoustic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "ss-starboard", ChannelName(SourceSideScanStarboard, ChannelData, 1))
	assert.Equal(t, "ss-starboard-noise", ChannelName(SourceSideScanStarboard, ChannelNoise, 1))
	assert.Equal(t, "ss-starboard-signal", ChannelName(SourceSideScanStarboard, ChannelSignal, 1))
	assert.Equal(t, "ss-starboard-tvg", ChannelName(SourceSideScanStarboard, ChannelTvg, 1))
	assert.Equal(t, "forward-look-2", ChannelName(SourceForwardLook, ChannelData, 2))
	assert.Equal(t, "forward-look-2-signal", ChannelName(SourceForwardLook, ChannelSignal, 2))
	assert.Equal(t, "", ChannelName(SourceInvalid, ChannelData, 1))
}

func TestIsSonarSource(t *testing.T) {
	assert.True(t, IsSonarSource(SourceSideScanPort))
	assert.True(t, IsSonarSource(SourceForwardLook))
	assert.False(t, IsSonarSource(SourceInvalid))
}

func TestDiscretizationByType(t *testing.T) {
	assert.Equal(t, DiscretizationReal, DiscretizationByType("float32le"))
	assert.Equal(t, DiscretizationComplex, DiscretizationByType("complex-float32le"))
	assert.Equal(t, DiscretizationAmplitude, DiscretizationByType("amplitude-float32le"))
	assert.Equal(t, DiscretizationInvalid, DiscretizationByType("no-such-type"))
}

func TestPointSize(t *testing.T) {
	assert.Equal(t, uint32(4), PointSize(DiscretizationReal))
	assert.Equal(t, uint32(8), PointSize(DiscretizationComplex))
	assert.Equal(t, uint32(4), PointSize(DiscretizationAmplitude))
	assert.Equal(t, uint32(0), PointSize(DiscretizationInvalid))
}
