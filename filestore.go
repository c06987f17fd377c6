package acoustic

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Stream caters for a generic reader type so the channel store can serve
// data from a local filesystem or an object store. Both *tiledb.VFSfh and
// *bytes.Reader implement the two methods the read path needs.
type Stream interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// indexEntrySize is the wire size of one channel index record:
// offset u64, size u32, reserved u32, time i64; little-endian.
const indexEntrySize = 24

type indexEntry struct {
	Offset uint64
	Size   uint32
	Time   int64
}

// TrackStore is a Store over a directory tree of log-structured channels,
// accessed through the TileDB virtual filesystem so the same code serves
// local paths and object stores. Layout per channel:
//
//	<root>/<project>/<track>/<name>.dat   record payloads, concatenated
//	<root>/<project>/<track>/<name>.idx   fixed 24-byte index records
//	<root>/<project>/<track>/<name>.prm   parameter block, JSON
//	<root>/<project>/<track>/<name>.wr    marker, present while writable
type TrackStore struct {
	uri    string
	config *tiledb.Config
	ctx    *tiledb.Context
	vfs    *tiledb.VFS
}

// NewTrackStore opens a track store rooted at rootUri. configUri may name
// a TileDB config for object-store credentials; empty gets the defaults.
func NewTrackStore(rootUri, configUri string) (*TrackStore, error) {
	var (
		config *tiledb.Config
		err    error
	)

	if configUri == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(configUri)
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		config.Free()
		return nil, errors.Join(ErrStore, err)
	}

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		ctx.Free()
		config.Free()
		return nil, errors.Join(ErrStore, err)
	}

	return &TrackStore{uri: rootUri, config: config, ctx: ctx, vfs: vfs}, nil
}

// Close releases the TileDB handles. Channels opened from the store must
// be closed first.
func (s *TrackStore) Close() {
	s.vfs.Free()
	s.ctx.Free()
	s.config.Free()
}

// URI returns the store root; it participates in every cache key.
func (s *TrackStore) URI() string { return s.uri }

func (s *TrackStore) channelUri(project, track, name, ext string) string {
	return filepath.Join(s.uri, project, track, name+ext)
}

// OpenChannel opens a read handle on a channel of a recorded track.
func (s *TrackStore) OpenChannel(project, track, name string) (Channel, error) {
	idxUri := s.channelUri(project, track, name, ".idx")
	datUri := s.channelUri(project, track, name, ".dat")

	isFile, err := s.vfs.IsFile(idxUri)
	if err != nil || !isFile {
		return nil, ErrChannelNotFound
	}

	dat, err := s.vfs.Open(datUri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return nil, errors.Join(ErrChannelNotFound, err)
	}

	ch := &fileChannel{
		store:   s,
		project: project,
		track:   track,
		name:    name,
		idxUri:  idxUri,
		dat:     dat,
	}

	if err := ch.refreshIndex(); err != nil {
		dat.Close()
		return nil, err
	}

	return ch, nil
}

// fileChannel is a read handle bound to one channel directory entry.
type fileChannel struct {
	store   *TrackStore
	project string
	track   string
	name    string
	idxUri  string
	dat     *tiledb.VFSfh
	index   []indexEntry
	closed  bool
}

// refreshIndex reloads the channel index when the producer has appended
// records since the previous load. The index file only ever grows.
func (c *fileChannel) refreshIndex() error {
	size, err := c.store.vfs.FileSize(c.idxUri)
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	n := int(size / indexEntrySize)
	if n == len(c.index) {
		return nil
	}

	idx, err := c.store.vfs.Open(c.idxUri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	defer idx.Close()

	if _, err = idx.Seek(int64(len(c.index)*indexEntrySize), 0); err != nil {
		return errors.Join(ErrStore, err)
	}

	buffer := make([]byte, (n-len(c.index))*indexEntrySize)
	if err = binary.Read(idx, binary.LittleEndian, &buffer); err != nil {
		return errors.Join(ErrStore, err)
	}

	for off := 0; off+indexEntrySize <= len(buffer); off += indexEntrySize {
		c.index = append(c.index, indexEntry{
			Offset: binary.LittleEndian.Uint64(buffer[off : off+8]),
			Size:   binary.LittleEndian.Uint32(buffer[off+8 : off+12]),
			Time:   int64(binary.LittleEndian.Uint64(buffer[off+16 : off+24])),
		})
	}

	return nil
}

func (c *fileChannel) entry(index uint32) (indexEntry, error) {
	_ = c.refreshIndex()

	if int(index) >= len(c.index) {
		return indexEntry{}, ErrOutOfRange
	}

	return c.index[index], nil
}

func (c *fileChannel) Read(index uint32) ([]byte, int64, error) {
	entry, err := c.entry(index)
	if err != nil {
		return nil, 0, err
	}

	if _, err = c.dat.Seek(int64(entry.Offset), 0); err != nil {
		return nil, 0, errors.Join(ErrStore, err)
	}

	buffer := make([]byte, entry.Size)
	if err = binary.Read(c.dat, binary.LittleEndian, &buffer); err != nil {
		return nil, 0, errors.Join(ErrStore, err)
	}

	return buffer, entry.Time, nil
}

func (c *fileChannel) DataSize(index uint32) (uint32, error) {
	entry, err := c.entry(index)
	if err != nil {
		return 0, err
	}

	return entry.Size, nil
}

func (c *fileChannel) DataTime(index uint32) (int64, error) {
	entry, err := c.entry(index)
	if err != nil {
		return 0, err
	}

	return entry.Time, nil
}

func (c *fileChannel) Range() (first, last uint32, ok bool) {
	_ = c.refreshIndex()

	if len(c.index) == 0 {
		return 0, 0, false
	}

	return 0, uint32(len(c.index) - 1), true
}

func (c *fileChannel) Find(timeUs int64) FindResult {
	_ = c.refreshIndex()

	n := len(c.index)
	if n == 0 {
		return FindResult{Status: FindFail}
	}

	if timeUs < c.index[0].Time {
		return FindResult{Status: FindLess}
	}
	if timeUs > c.index[n-1].Time {
		return FindResult{Status: FindGreater}
	}

	// First entry with time >= timeUs.
	right := sort.Search(n, func(i int) bool { return c.index[i].Time >= timeUs })

	if c.index[right].Time == timeUs {
		i := uint32(right)
		return FindResult{
			Status: FindExact,
			Left:   i, Right: i,
			LeftTime: timeUs, RightTime: timeUs,
		}
	}

	left := right - 1

	return FindResult{
		Status: FindBetween,
		Left:   uint32(left), Right: uint32(right),
		LeftTime: c.index[left].Time, RightTime: c.index[right].Time,
	}
}

func (c *fileChannel) ModCount() uint64 {
	_ = c.refreshIndex()

	return uint64(len(c.index))
}

func (c *fileChannel) Writable() bool {
	wrUri := c.store.channelUri(c.project, c.track, c.name, ".wr")
	isFile, err := c.store.vfs.IsFile(wrUri)

	return err == nil && isFile
}

func (c *fileChannel) Params() (ParamReader, error) {
	prmUri := c.store.channelUri(c.project, c.track, c.name, ".prm")

	size, err := c.store.vfs.FileSize(prmUri)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	fh, err := c.store.vfs.Open(prmUri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	defer fh.Close()

	buffer := make([]byte, size)
	if err = binary.Read(fh, binary.LittleEndian, &buffer); err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	params, err := decodeParams(buffer)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	return &mapParams{params: params}, nil
}

func (c *fileChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	return c.dat.Close()
}

// decodeParams parses a JSON parameter block, keeping integers as int64.
func decodeParams(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	loose := make(map[string]any)
	if err := decoder.Decode(&loose); err != nil {
		return nil, err
	}

	params := make(map[string]any, len(loose))
	for key, value := range loose {
		switch v := value.(type) {
		case json.Number:
			if i, err := v.Int64(); err == nil {
				params[key] = i
			} else if f, err := v.Float64(); err == nil {
				params[key] = f
			}
		case string:
			params[key] = v
		}
	}

	return params, nil
}

// mapParams serves a decoded parameter block.
type mapParams struct {
	params map[string]any
}

func (p *mapParams) Get(keys ...string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := p.params[key]; ok {
			out[key] = value
		}
	}

	return out, nil
}

func (p *mapParams) Close() error { return nil }

// ChannelWriter is the producer side of a channel: append-only records
// with µs timestamps. Closing the writer clears the writable flag, which
// freezes the signal registries of every reader following the channel.
type ChannelWriter struct {
	store   *TrackStore
	project string
	track   string
	name    string
	dat     *tiledb.VFSfh
	idx     *tiledb.VFSfh
	offset  uint64
	closed  bool
}

// CreateChannel creates a channel with its parameter block and returns the
// writer. The project and track directories are created as needed; an
// existing channel of the same name is an error.
func (s *TrackStore) CreateChannel(project, track, name string, params map[string]any) (*ChannelWriter, error) {
	trackDir := filepath.Join(s.uri, project, track)

	for _, dir := range []string{filepath.Join(s.uri, project), trackDir} {
		isDir, err := s.vfs.IsDir(dir)
		if err != nil {
			return nil, errors.Join(ErrStore, err)
		}
		if !isDir {
			if err = s.vfs.CreateDir(dir); err != nil {
				return nil, errors.Join(ErrStore, err)
			}
		}
	}

	idxUri := s.channelUri(project, track, name, ".idx")
	if isFile, err := s.vfs.IsFile(idxUri); err == nil && isFile {
		return nil, ErrClosedChannel
	}

	raw, err := json.MarshalIndent(params, "", "    ")
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	prm, err := s.vfs.Open(s.channelUri(project, track, name, ".prm"), tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	if _, err = prm.Write(raw); err != nil {
		prm.Close()
		return nil, errors.Join(ErrStore, err)
	}
	prm.Close()

	wr, err := s.vfs.Open(s.channelUri(project, track, name, ".wr"), tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	if _, err = wr.Write([]byte{1}); err != nil {
		wr.Close()
		return nil, errors.Join(ErrStore, err)
	}
	wr.Close()

	dat, err := s.vfs.Open(s.channelUri(project, track, name, ".dat"), tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	idx, err := s.vfs.Open(idxUri, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		dat.Close()
		return nil, errors.Join(ErrStore, err)
	}

	return &ChannelWriter{
		store:   s,
		project: project,
		track:   track,
		name:    name,
		dat:     dat,
		idx:     idx,
	}, nil
}

// Append writes one record with its timestamp.
func (w *ChannelWriter) Append(data []byte, timeUs int64) error {
	if w.closed {
		return ErrClosedChannel
	}

	if _, err := w.dat.Write(data); err != nil {
		return errors.Join(ErrStore, err)
	}

	var record [indexEntrySize]byte
	binary.LittleEndian.PutUint64(record[0:8], w.offset)
	binary.LittleEndian.PutUint32(record[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint64(record[16:24], uint64(timeUs))

	if _, err := w.idx.Write(record[:]); err != nil {
		return errors.Join(ErrStore, err)
	}

	w.offset += uint64(len(data))

	return nil
}

// Close finalises the channel and clears its writable flag.
func (w *ChannelWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err1 := w.dat.Close()
	err2 := w.idx.Close()

	wrUri := w.store.channelUri(w.project, w.track, w.name, ".wr")
	err3 := w.store.vfs.RemoveFile(wrUri)

	return errors.Join(err1, err2, err3)
}

// trawl recursively collects files whose basename matches pattern.
func trawl(vfs *tiledb.VFS, pattern string, uri string, items []string) []string {
	dirs, files, err := vfs.List(uri)
	if err != nil {
		return items
	}

	for _, file := range files {
		match, err := filepath.Match(pattern, filepath.Base(file))
		if err == nil && match {
			items = append(items, file)
		}
	}

	for _, dir := range dirs {
		items = trawl(vfs, pattern, dir, items)
	}

	return items
}

// FindTracks recursively searches the store for recorded tracks, returned
// as track directory URIs. A track is any directory holding at least one
// channel index file.
func (s *TrackStore) FindTracks() []string {
	items := trawl(s.vfs, "*.idx", s.uri, make([]string, 0))

	seen := make(map[string]bool)
	tracks := make([]string, 0, len(items))
	for _, item := range items {
		dir := filepath.Dir(item)
		if !seen[dir] {
			seen[dir] = true
			tracks = append(tracks, dir)
		}
	}

	return tracks
}
