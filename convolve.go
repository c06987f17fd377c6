package acoustic

// ConvScaleUnit converts the integer convolution scale carried in cache
// keys back into the linear factor applied to samples: a user scale of 100
// is a linear factor of 1.0.
const ConvScaleUnit = 100.0

// Convolution is a matched filter compiled from one emitted-signal image.
// Convolve correlates a block of received samples against the image in
// place: same length in and out, linear scale applied to every output
// sample. One Convolution belongs to one SignalImage and is immutable once
// built.
type Convolution struct {
	image []ComplexFloat
}

// NewConvolution compiles a matched filter from a signal image. The image
// is copied; at least two points are required for a meaningful filter, the
// caller enforces that.
func NewConvolution(image []ComplexFloat) *Convolution {
	c := &Convolution{image: make([]ComplexFloat, len(image))}
	copy(c.image, image)

	return c
}

// Convolve overwrites data with the correlation of data against the image,
// scaled by scale. Samples past the end of data are taken as zero, so the
// output keeps the input length.
func (c *Convolution) Convolve(data []ComplexFloat, scale float32) bool {
	n := len(data)
	m := len(c.image)
	if n == 0 || m == 0 {
		return false
	}

	out := make([]ComplexFloat, n)

	// Direct correlation with the conjugated image. Image lengths in
	// practice are a few hundred points against ping lengths of a few
	// thousand; the quadratic form stays cheap enough for the read path
	// and keeps the output bit-stable across platforms.
	for i := 0; i < n; i++ {
		var accRe, accIm float32

		kmax := m
		if i+kmax > n {
			kmax = n - i
		}

		for k := 0; k < kmax; k++ {
			sRe := data[i+k].Re
			sIm := data[i+k].Im
			hRe := c.image[k].Re
			hIm := -c.image[k].Im

			accRe += sRe*hRe - sIm*hIm
			accIm += sRe*hIm + sIm*hRe
		}

		out[i].Re = accRe * scale
		out[i].Im = accIm * scale
	}

	copy(data, out)

	return true
}
