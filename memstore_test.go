package acoustic

import (
	"sort"
)

// In-memory store double used across the package tests. It honours the
// Store/Channel contracts including the five-way find split, mod counts
// and the writable flag, and counts data reads so the caching tests can
// assert the store was left alone.

type memStore struct {
	uri      string
	channels map[string]*memChannel
}

func newMemStore() *memStore {
	return &memStore{uri: "mem://test", channels: make(map[string]*memChannel)}
}

func (s *memStore) URI() string { return s.uri }

func (s *memStore) key(project, track, name string) string {
	return project + "/" + track + "/" + name
}

func (s *memStore) addChannel(project, track, name string, params map[string]any) *memChannel {
	ch := &memChannel{params: params, writable: true}
	s.channels[s.key(project, track, name)] = ch

	return ch
}

func (s *memStore) OpenChannel(project, track, name string) (Channel, error) {
	ch, ok := s.channels[s.key(project, track, name)]
	if !ok {
		return nil, ErrChannelNotFound
	}

	return &memHandle{ch: ch}, nil
}

type memChannel struct {
	records  [][]byte
	times    []int64
	params   map[string]any
	writable bool

	reads int
}

func (c *memChannel) append(data []byte, timeUs int64) {
	c.records = append(c.records, data)
	c.times = append(c.times, timeUs)
}

func (c *memChannel) close() { c.writable = false }

// memHandle is the per-open read handle over a shared memChannel.
type memHandle struct {
	ch     *memChannel
	closed bool
}

func (h *memHandle) Read(index uint32) ([]byte, int64, error) {
	if int(index) >= len(h.ch.records) {
		return nil, 0, ErrOutOfRange
	}

	h.ch.reads++

	return h.ch.records[index], h.ch.times[index], nil
}

func (h *memHandle) DataSize(index uint32) (uint32, error) {
	if int(index) >= len(h.ch.records) {
		return 0, ErrOutOfRange
	}

	return uint32(len(h.ch.records[index])), nil
}

func (h *memHandle) DataTime(index uint32) (int64, error) {
	if int(index) >= len(h.ch.records) {
		return 0, ErrOutOfRange
	}

	return h.ch.times[index], nil
}

func (h *memHandle) Range() (uint32, uint32, bool) {
	if len(h.ch.records) == 0 {
		return 0, 0, false
	}

	return 0, uint32(len(h.ch.records) - 1), true
}

func (h *memHandle) Find(timeUs int64) FindResult {
	n := len(h.ch.times)
	if n == 0 {
		return FindResult{Status: FindFail}
	}

	if timeUs < h.ch.times[0] {
		return FindResult{Status: FindLess}
	}
	if timeUs > h.ch.times[n-1] {
		return FindResult{Status: FindGreater}
	}

	right := sort.Search(n, func(i int) bool { return h.ch.times[i] >= timeUs })

	if h.ch.times[right] == timeUs {
		i := uint32(right)
		return FindResult{Status: FindExact, Left: i, Right: i, LeftTime: timeUs, RightTime: timeUs}
	}

	left := right - 1

	return FindResult{
		Status: FindBetween,
		Left:   uint32(left), Right: uint32(right),
		LeftTime: h.ch.times[left], RightTime: h.ch.times[right],
	}
}

func (h *memHandle) ModCount() uint64 { return uint64(len(h.ch.records)) }

func (h *memHandle) Writable() bool { return h.ch.writable }

func (h *memHandle) Params() (ParamReader, error) {
	return &mapParams{params: h.ch.params}, nil
}

func (h *memHandle) Close() error {
	h.closed = true
	return nil
}

// Parameter block builders matching the recorded channel schemas.

func acousticParams(dataType string, rate, frequency, hoffset float64) map[string]any {
	return map[string]any{
		"/schema/id":                  AcousticChannelSchemaId,
		"/schema/version":             AcousticChannelSchemaVersion,
		"/position/x":                 1.0,
		"/position/y":                 2.0,
		"/position/z":                 3.0,
		"/position/psi":               0.1,
		"/position/gamma":             0.2,
		"/position/theta":             0.3,
		"/data/type":                  dataType,
		"/data/rate":                  rate,
		"/signal/frequency":           frequency,
		"/signal/bandwidth":           frequency / 10.0,
		"/antenna/offset/vertical":    0.0,
		"/antenna/offset/horizontal":  hoffset,
		"/antenna/pattern/vertical":   0.7,
		"/antenna/pattern/horizontal": 0.02,
		"/antenna/frequency":          frequency,
		"/antenna/bandwidth":          frequency / 10.0,
		"/adc/vref":                   1.0,
		"/adc/offset":                 int64(0),
	}
}

func signalParams(rate float64) map[string]any {
	return map[string]any{
		"/schema/id":      SignalChannelSchemaId,
		"/schema/version": SignalChannelSchemaVersion,
		"/data/type":      "complex-float32le",
		"/data/rate":      rate,
	}
}

func tvgParams(rate float64) map[string]any {
	return map[string]any{
		"/schema/id":      TvgChannelSchemaId,
		"/schema/version": TvgChannelSchemaVersion,
		"/data/type":      "float32le",
		"/data/rate":      rate,
	}
}
