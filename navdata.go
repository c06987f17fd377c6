package acoustic

import (
	"encoding/binary"
	"errors"
	"math"
)

// NavSource is the navigation feed consumed by the quality estimator.
// Implementations index fixes by a monotonically increasing integer, the
// same convention as data channels.
type NavSource interface {
	// Find locates the fixes adjacent to a timestamp.
	Find(timeUs int64) FindResult

	// Get returns the timestamp and scalar value of the fix at index.
	Get(index uint32) (timeUs int64, value float64, err error)

	// Range returns the first and last fix index.
	Range() (first, last uint32, ok bool)
}

// NavPointSize is the wire size of one recorded navigation fix: a single
// little-endian float64 value, the timestamp rides on the record.
const NavPointSize = 8

// NavReader adapts a store channel of recorded fixes to NavSource.
type NavReader struct {
	ch Channel
}

// NewNavReader opens a named navigation channel of a track.
func NewNavReader(store Store, project, track, name string) (*NavReader, error) {
	ch, err := store.OpenChannel(project, track, name)
	if err != nil {
		return nil, errors.Join(ErrChannelNotFound, err)
	}

	if _, _, ok := ch.Range(); !ok {
		ch.Close()
		return nil, ErrEmptyChannel
	}

	return &NavReader{ch: ch}, nil
}

// Close releases the channel handle.
func (n *NavReader) Close() {
	if n.ch != nil {
		n.ch.Close()
		n.ch = nil
	}
}

func (n *NavReader) Find(timeUs int64) FindResult { return n.ch.Find(timeUs) }

func (n *NavReader) Range() (first, last uint32, ok bool) { return n.ch.Range() }

func (n *NavReader) Get(index uint32) (int64, float64, error) {
	raw, t, err := n.ch.Read(index)
	if err != nil {
		return 0, 0, errors.Join(ErrOutOfRange, err)
	}
	if len(raw) < NavPointSize {
		return 0, 0, ErrCorruptData
	}

	value := math.Float64frombits(binary.LittleEndian.Uint64(raw))

	return t, value, nil
}
