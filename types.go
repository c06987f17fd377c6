package acoustic

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ComplexFloat is one quadrature sample; two little-endian float32 on the
// wire, real part first.
type ComplexFloat struct {
	Re float32
	Im float32
}

// Point sizes of the wire encodings handled by the read path.
const (
	RealPointSize    = 4
	ComplexPointSize = 8
	TvgPointSize     = 4
)

// Discretization describes which result families a data channel supports.
// Real channels carry raw ADC counts (complex samples are synthesised),
// Complex channels carry quadrature pairs, Amplitude channels carry
// magnitudes only.
type Discretization int

const (
	DiscretizationInvalid Discretization = iota
	DiscretizationReal
	DiscretizationComplex
	DiscretizationAmplitude
)

// DataTypeNames maps the /data/type parameter strings onto discretizations.
var DataTypeNames = map[string]Discretization{
	"adc14le":             DiscretizationReal,
	"adc16le":             DiscretizationReal,
	"adc24le":             DiscretizationReal,
	"float32le":           DiscretizationReal,
	"complex-adc14le":     DiscretizationComplex,
	"complex-adc16le":     DiscretizationComplex,
	"complex-adc24le":     DiscretizationComplex,
	"complex-float32le":   DiscretizationComplex,
	"amplitude-int8":      DiscretizationAmplitude,
	"amplitude-int16":     DiscretizationAmplitude,
	"amplitude-float32le": DiscretizationAmplitude,
}

// DiscretizationByType returns the discretization for a /data/type name.
func DiscretizationByType(name string) Discretization {
	d, ok := DataTypeNames[name]
	if !ok {
		return DiscretizationInvalid
	}
	return d
}

// PointSize returns the wire size of a single sample for a discretization.
// The read path only decodes the float renditions; integer ADC types are
// normalised to float32 by the recorder before they reach the store.
func PointSize(d Discretization) uint32 {
	switch d {
	case DiscretizationReal, DiscretizationAmplitude:
		return RealPointSize
	case DiscretizationComplex:
		return ComplexPointSize
	}
	return 0
}

// SourceType identifies the transducer that produced a data channel.
type SourceType int

const (
	SourceInvalid SourceType = iota
	SourceSideScanStarboard
	SourceSideScanPort
	SourceEchosounder
	SourceProfiler
	SourceForwardLook
)

// SourceNames is the channel-name stem for every sonar source.
var SourceNames = map[SourceType]string{
	SourceSideScanStarboard: "ss-starboard",
	SourceSideScanPort:      "ss-port",
	SourceEchosounder:       "echosounder",
	SourceProfiler:          "profiler",
	SourceForwardLook:       "forward-look",
}

// IsSonarSource reports whether acoustic readers can be opened on a source.
func IsSonarSource(source SourceType) bool {
	_, ok := SourceNames[source]
	return ok
}

// ChannelKind selects one of the sibling channels recorded per source.
type ChannelKind int

const (
	ChannelData ChannelKind = iota
	ChannelNoise
	ChannelSignal
	ChannelTvg
)

var channelSuffixes = map[ChannelKind]string{
	ChannelData:   "",
	ChannelNoise:  "-noise",
	ChannelSignal: "-signal",
	ChannelTvg:    "-tvg",
}

// ChannelName derives the persistent channel name for a source, channel kind
// and 1-based channel number. Channel 1 carries no numeric part, matching
// the recorder's layout. An empty string is returned for unknown sources.
func ChannelName(source SourceType, kind ChannelKind, channel uint) string {
	stem, ok := SourceNames[source]
	if !ok {
		return ""
	}

	if channel > 1 {
		stem = fmt.Sprintf("%s-%d", stem, channel)
	}

	return stem + channelSuffixes[kind]
}

// AntennaOffset is the rigid-body transform of the receiving antenna with
// respect to the vehicle frame. Angles are radians.
type AntennaOffset struct {
	X     float64
	Y     float64
	Z     float64
	Psi   float64
	Gamma float64
	Theta float64
}

// AcousticInfo holds the per-channel acquisition parameters loaded from the
// channel's parameter block.
type AcousticInfo struct {
	Data_Type         string
	Data_Rate         float64
	Signal_Frequency  float64
	Signal_Bandwidth  float64
	Antenna_VOffset   float64
	Antenna_HOffset   float64
	Antenna_VPattern  float64
	Antenna_HPattern  float64
	Antenna_Frequency float64
	Antenna_Bandwidth float64
	Adc_VRef          float64
	Adc_Offset        int64
}

// DoaPoint is one direction-of-arrival sample produced by the forward-look
// reader; 12 bytes on the wire (three little-endian float32).
type DoaPoint struct {
	Angle     float32
	Distance  float32
	Amplitude float32
}

// DoaPointSize is the wire size of a DoaPoint.
const DoaPointSize = 12

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}
