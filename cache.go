package acoustic

import (
	"encoding/binary"
	"sync"
)

// Cache header magics. Data entries carry sample payloads, meta entries
// carry only the header.
const (
	CacheDataMagic uint32 = 0xf97603e8
	CacheMetaMagic uint32 = 0x1e4a8071
	CacheDoaMagic  uint32 = 0x8a09be31
)

// CacheHeaderSize is the fixed wire size of a cache entry header.
const CacheHeaderSize = 16

// CacheHeader prefixes every cache entry written by the read path.
// 16 bytes little-endian: magic u32, n_points u32, time i64.
type CacheHeader struct {
	Magic    uint32
	N_points uint32
	Time     int64
}

// Encode renders the header into a caller supplied 16 byte buffer.
func (h *CacheHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.N_points)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Time))
}

// DecodeCacheHeader parses a 16 byte header. ok is false on short input.
func DecodeCacheHeader(buf []byte) (h CacheHeader, ok bool) {
	if len(buf) < CacheHeaderSize {
		return h, false
	}

	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.N_points = binary.LittleEndian.Uint32(buf[4:8])
	h.Time = int64(binary.LittleEndian.Uint64(buf[8:16]))

	return h, true
}

// Cache is the shared deduplicating result cache. Implementations provide
// their own internal synchronisation; entries are content addressed by
// (key, detail) and treated as immutable. All failures are advisory to the
// read path: a failed get is a miss, a failed set is ignored.
type Cache interface {
	// Set stores a single buffer under (key, detail).
	Set(key, detail string, data []byte) error

	// Set2 stores header and payload as one entry under (key, detail).
	Set2(key, detail string, header, payload []byte) error

	// Get returns the entry stored under (key, detail).
	Get(key, detail string) ([]byte, bool)

	// Get2 splits the entry stored under (key, detail) at headerLen.
	// ok is false when the entry is absent or shorter than headerLen.
	Get2(key, detail string, headerLen int) (header, payload []byte, ok bool)
}

// MemCache is a process-local Cache backed by a map. It is safe for
// concurrent use by readers on multiple goroutines.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemCache constructs an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string][]byte)}
}

func cacheEntryKey(key, detail string) string {
	if detail == "" {
		return key
	}
	return key + "\x00" + detail
}

func (c *MemCache) Set(key, detail string, data []byte) error {
	entry := make([]byte, len(data))
	copy(entry, data)

	c.mu.Lock()
	c.entries[cacheEntryKey(key, detail)] = entry
	c.mu.Unlock()

	return nil
}

func (c *MemCache) Set2(key, detail string, header, payload []byte) error {
	entry := make([]byte, 0, len(header)+len(payload))
	entry = append(entry, header...)
	entry = append(entry, payload...)

	c.mu.Lock()
	c.entries[cacheEntryKey(key, detail)] = entry
	c.mu.Unlock()

	return nil
}

func (c *MemCache) Get(key, detail string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheEntryKey(key, detail)]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	out := make([]byte, len(entry))
	copy(out, entry)

	return out, true
}

func (c *MemCache) Get2(key, detail string, headerLen int) (header, payload []byte, ok bool) {
	entry, ok := c.Get(key, detail)
	if !ok || len(entry) < headerLen {
		return nil, nil, false
	}

	return entry[:headerLen], entry[headerLen:], true
}

// Len returns the number of stored entries.
func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
