package acoustic

import (
	"encoding/binary"
	"math"
)

// SignalImage is one emitted-signal image together with its compiled
// matched filter. Images are appended to the registry and never mutated.
// Convolution is nil for images holding fewer than two points; such images
// still resolve in lookups but convolving against them is a no-op.
type SignalImage struct {
	Time        int64
	Index       uint32
	Image       []ComplexFloat
	Convolution *Convolution
}

// signalRegistry tracks the ordered sequence of emitted-signal images for
// one data channel. Single writer; refreshed lazily from every read path.
type signalRegistry struct {
	images     []SignalImage
	lastLoaded uint32
	hasLoaded  bool
	modCount   uint64
	closed     bool
}

// decodeComplex parses little-endian complex-float records.
func decodeComplex(raw []byte) []ComplexFloat {
	n := len(raw) / ComplexPointSize
	out := make([]ComplexFloat, n)

	for i := 0; i < n; i++ {
		off := i * ComplexPointSize
		out[i].Re = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		out[i].Im = math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
	}

	return out
}

// decodeReal parses little-endian float32 records.
func decodeReal(raw []byte) []float32 {
	n := len(raw) / RealPointSize
	out := make([]float32, n)

	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*RealPointSize:]))
	}

	return out
}

// refresh loads any signal images appended since the previous call.
// Short-circuits on an unchanged mod-count; aborts (leaving the registry
// as-is) when a data index for a new image cannot be resolved. When the
// producer has closed the signal channel the registry freezes: the handle
// is released and no further refresh touches the store.
func (r *signalRegistry) refresh(signal Channel, data Channel) {
	if r.closed || signal == nil {
		return
	}

	modCount := signal.ModCount()
	if modCount == r.modCount {
		return
	}

	first, last, ok := signal.Range()
	if !ok {
		return
	}

	start := first
	if r.hasLoaded {
		start = r.lastLoaded + 1
		if start < first {
			start = first
		}
	}

	for i := start; i <= last; i++ {
		raw, t, err := signal.Read(i)
		if err != nil {
			return
		}

		image := decodeComplex(raw)

		// Data-channel index from which this image governs convolution.
		var activation uint32
		found := data.Find(t)
		switch found.Status {
		case FindExact, FindBetween:
			activation = found.Right
		case FindLess:
			dataFirst, _, ok := data.Range()
			if !ok {
				return
			}
			activation = dataFirst
		default:
			return
		}

		entry := SignalImage{Time: t, Index: activation, Image: image}
		if len(image) >= 2 {
			entry.Convolution = NewConvolution(image)
		}

		r.images = append(r.images, entry)
		r.lastLoaded = i
		r.hasLoaded = true
	}

	r.modCount = modCount

	if !signal.Writable() {
		r.closed = true
	}
}

// find returns the image governing a data index: the one with the greatest
// activation index not exceeding it. The image count stays small, a
// reverse linear scan is fine.
func (r *signalRegistry) find(index uint32) *SignalImage {
	for i := len(r.images) - 1; i >= 0; i-- {
		if index >= r.images[i].Index {
			return &r.images[i]
		}
	}

	return nil
}
