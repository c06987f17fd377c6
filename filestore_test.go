package acoustic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParams(t *testing.T) {
	raw := []byte(`{
        "/schema/id": 3533456721320349085,
        "/schema/version": 20200200,
        "/data/type": "float32le",
        "/data/rate": 100000.5
    }`)

	params, err := decodeParams(raw)
	require.NoError(t, err)

	// large schema ids survive as int64, not float64
	assert.Equal(t, int64(3533456721320349085), params["/schema/id"])
	assert.Equal(t, int64(20200200), params["/schema/version"])
	assert.Equal(t, "float32le", params["/data/type"])
	assert.Equal(t, 100000.5, params["/data/rate"])
}

func TestDecodeParamsBadJson(t *testing.T) {
	_, err := decodeParams([]byte("{"))
	assert.Error(t, err)
}

func TestSliceOffsets(t *testing.T) {
	offsets := sliceOffsets([]uint32{3, 0, 2, 5}, 4)
	assert.Equal(t, []uint64{0, 12, 12, 20}, offsets)

	assert.Empty(t, sliceOffsets(nil, 4))
}
