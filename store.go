package acoustic

// The store facade is a read-mostly projection of the persistent channel
// store. The acoustic read path consumes these interfaces only; the
// TileDB-VFS backed implementation lives in filestore.go and external
// stores can be substituted wholesale.

// FindStatus is the five-way result of a find-by-time lookup.
type FindStatus int

const (
	// FindExact: a record with exactly the requested timestamp exists.
	FindExact FindStatus = iota
	// FindBetween: the timestamp falls strictly between two records.
	FindBetween
	// FindLess: the timestamp precedes all recorded data.
	FindLess
	// FindGreater: the timestamp follows all recorded data.
	FindGreater
	// FindFail: the lookup could not be performed.
	FindFail
)

// FindResult carries the surrounding indices and timestamps of a
// find-by-time lookup. For FindExact, Left == Right and LeftTime equals the
// requested timestamp. For FindBetween, Left/Right bracket the request.
type FindResult struct {
	Status    FindStatus
	Left      uint32
	Right     uint32
	LeftTime  int64
	RightTime int64
}

// Store opens channels of a persistent track store.
type Store interface {
	// URI identifies the store instance; it participates in cache keys and
	// must be stable across processes for the cache to deduplicate.
	URI() string

	// OpenChannel opens a named channel of a track. ErrChannelNotFound is
	// returned when the project, track or channel does not exist.
	OpenChannel(project, track, name string) (Channel, error)
}

// Channel is a read handle on one logical channel.
type Channel interface {
	// Read returns the raw record bytes and timestamp (µs) at index.
	// ErrOutOfRange is returned when no record exists at index.
	Read(index uint32) ([]byte, int64, error)

	// DataSize returns the byte size of the record at index without
	// reading its payload.
	DataSize(index uint32) (uint32, error)

	// DataTime returns the timestamp (µs) of the record at index.
	DataTime(index uint32) (int64, error)

	// Range returns the first and last record index. ok is false when the
	// channel holds no data.
	Range() (first, last uint32, ok bool)

	// Find locates the record(s) adjacent to a timestamp.
	Find(timeUs int64) FindResult

	// ModCount returns an opaque counter that is monotonically
	// non-decreasing under appends. Only change matters, not the value.
	ModCount() uint64

	// Writable reports whether the producer may still append records.
	Writable() bool

	// Params opens the channel's parameter block.
	Params() (ParamReader, error)

	// Close releases the handle. Safe to call once.
	Close() error
}

// ParamReader reads typed scalars from a channel parameter block.
type ParamReader interface {
	// Get resolves the requested keys. Missing keys are absent from the
	// returned map; values are string, int64 or float64.
	Get(keys ...string) (map[string]any, error)

	Close() error
}
