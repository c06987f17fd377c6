package acoustic

// AmplitudeSource is the capability set shared by every reader kind that
// can produce per-ping magnitude samples. Waterfall tiling, mark placement
// and map-projection consumers depend on this interface only, so future
// reader variants slot in without touching them.
type AmplitudeSource interface {
	// Token is a stable identifier of the underlying data pipeline,
	// suitable as a cache-key scope.
	Token() string

	Offset() AntennaOffset
	Info() AcousticInfo
	Writable() bool
	ModCount() uint64
	Range() (first, last uint32, ok bool)
	Find(timeUs int64) FindResult
	SizeTime(index uint32) (nPoints uint32, timeUs int64, err error)
	Amplitude(index uint32) ([]float32, int64, error)
}

var _ AmplitudeSource = (*Reader)(nil)
