package acoustic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonDumps(t *testing.T) {
	jsn, err := JsonDumps(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, jsn)
}

func TestNewTimeStamp(t *testing.T) {
	// 2000-01-01T12:00:00Z is Julian day 2451545.0
	ts := NewTimeStamp(946728000000000)

	assert.Equal(t, int64(946728000000000), ts.Time_Us)
	assert.Equal(t, "2000-01-01T12:00:00Z", ts.UTC)
	assert.InDelta(t, 2451545.0, ts.Julian_Day, 1e-6)
}

func TestReaderMetadata(t *testing.T) {
	store, _ := realFixture([][]float32{{1, 2}, {3, 4}, {5, 6}})

	rd, err := NewReader(store, nil, "p", "t", SourceSideScanStarboard, 1, false)
	require.NoError(t, err)
	defer rd.Close()

	md, err := ReaderMetadata(rd)
	require.NoError(t, err)

	assert.Equal(t, "ss-starboard", md.Channel_Name)
	assert.Equal(t, uint64(3), md.Ping_Count)
	assert.Equal(t, int64(0), md.First_Ping.Time_Us)
	assert.Equal(t, int64(2000), md.Last_Ping.Time_Us)
	assert.Equal(t, DiscretizationReal, md.Discretization)
	assert.False(t, md.Has_Tvg)
}
