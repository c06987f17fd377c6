package acoustic

import (
	"errors"
	"fmt"
	"math"
)

// Schema identifiers of the persisted channel formats. Opaque; the read
// path only ever compares them for equality.
const (
	ProjectInfoSchemaId      int64 = 1495752243900067309
	ProjectInfoSchemaVersion int64 = 20180100

	TrackInfoSchemaId      int64 = 3829672927190415735
	TrackInfoSchemaVersion int64 = 2020424

	TrackSchemaId      int64 = 1715033709558529337
	TrackSchemaVersion int64 = 20200300

	LogSchemaId      int64 = 3957463010395734756
	LogSchemaVersion int64 = 20190100

	AcousticChannelSchemaId      int64 = 3533456721320349085
	AcousticChannelSchemaVersion int64 = 20200200

	SignalChannelSchemaId      int64 = 4522835908161425227
	SignalChannelSchemaVersion int64 = 20190100

	TvgChannelSchemaId      int64 = 8911020404930317035
	TvgChannelSchemaVersion int64 = 20190100
)

func paramInt(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, errors.Join(ErrMissingKey, fmt.Errorf("key %s", key))
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}

	return 0, errors.Join(ErrBadParams, fmt.Errorf("key %s is not an integer", key))
}

func paramFloat(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, errors.Join(ErrMissingKey, fmt.Errorf("key %s", key))
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}

	return 0, errors.Join(ErrBadParams, fmt.Errorf("key %s is not a number", key))
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errors.Join(ErrMissingKey, fmt.Errorf("key %s", key))
	}

	s, ok := v.(string)
	if !ok {
		return "", errors.Join(ErrBadParams, fmt.Errorf("key %s is not a string", key))
	}

	return s, nil
}

func checkSchema(params map[string]any, schemaId, schemaVersion int64) error {
	id, err := paramInt(params, "/schema/id")
	if err != nil {
		return err
	}

	version, err := paramInt(params, "/schema/version")
	if err != nil {
		return err
	}

	if id != schemaId || version != schemaVersion {
		return ErrSchemaMismatch
	}

	return nil
}

// LoadAntennaOffset verifies the channel schema against the expected
// id/version pair and reads the six-component antenna offset.
func LoadAntennaOffset(pr ParamReader, schemaId, schemaVersion int64) (AntennaOffset, error) {
	var offset AntennaOffset

	params, err := pr.Get(
		"/schema/id", "/schema/version",
		"/position/x", "/position/y", "/position/z",
		"/position/psi", "/position/gamma", "/position/theta",
	)
	if err != nil {
		return offset, errors.Join(ErrStore, err)
	}

	if err = checkSchema(params, schemaId, schemaVersion); err != nil {
		return offset, err
	}

	if offset.X, err = paramFloat(params, "/position/x"); err != nil {
		return offset, err
	}
	if offset.Y, err = paramFloat(params, "/position/y"); err != nil {
		return offset, err
	}
	if offset.Z, err = paramFloat(params, "/position/z"); err != nil {
		return offset, err
	}
	if offset.Psi, err = paramFloat(params, "/position/psi"); err != nil {
		return offset, err
	}
	if offset.Gamma, err = paramFloat(params, "/position/gamma"); err != nil {
		return offset, err
	}
	if offset.Theta, err = paramFloat(params, "/position/theta"); err != nil {
		return offset, err
	}

	return offset, nil
}

// LoadAcousticInfo reads the full acoustic parameter block of a data
// channel. The schema is assumed already verified by LoadAntennaOffset.
func LoadAcousticInfo(pr ParamReader) (AcousticInfo, error) {
	var info AcousticInfo

	params, err := pr.Get(
		"/data/type", "/data/rate",
		"/signal/frequency", "/signal/bandwidth",
		"/antenna/offset/vertical", "/antenna/offset/horizontal",
		"/antenna/pattern/vertical", "/antenna/pattern/horizontal",
		"/antenna/frequency", "/antenna/bandwidth",
		"/adc/vref", "/adc/offset",
	)
	if err != nil {
		return info, errors.Join(ErrStore, err)
	}

	if info.Data_Type, err = paramString(params, "/data/type"); err != nil {
		return info, err
	}
	if info.Data_Rate, err = paramFloat(params, "/data/rate"); err != nil {
		return info, err
	}
	if info.Signal_Frequency, err = paramFloat(params, "/signal/frequency"); err != nil {
		return info, err
	}
	if info.Signal_Bandwidth, err = paramFloat(params, "/signal/bandwidth"); err != nil {
		return info, err
	}
	if info.Antenna_VOffset, err = paramFloat(params, "/antenna/offset/vertical"); err != nil {
		return info, err
	}
	if info.Antenna_HOffset, err = paramFloat(params, "/antenna/offset/horizontal"); err != nil {
		return info, err
	}
	if info.Antenna_VPattern, err = paramFloat(params, "/antenna/pattern/vertical"); err != nil {
		return info, err
	}
	if info.Antenna_HPattern, err = paramFloat(params, "/antenna/pattern/horizontal"); err != nil {
		return info, err
	}
	if info.Antenna_Frequency, err = paramFloat(params, "/antenna/frequency"); err != nil {
		return info, err
	}
	if info.Antenna_Bandwidth, err = paramFloat(params, "/antenna/bandwidth"); err != nil {
		return info, err
	}
	if info.Adc_VRef, err = paramFloat(params, "/adc/vref"); err != nil {
		return info, err
	}
	if info.Adc_Offset, err = paramInt(params, "/adc/offset"); err != nil {
		return info, err
	}

	if DiscretizationByType(info.Data_Type) == DiscretizationInvalid {
		return info, errors.Join(ErrBadParams, fmt.Errorf("unknown data type %q", info.Data_Type))
	}

	return info, nil
}

// CheckSignalParams verifies a signal channel: schema pair, complex-float
// data type, and a data rate matching the data channel within 1 Hz.
func CheckSignalParams(pr ParamReader, expectedRate float64) error {
	params, err := pr.Get("/schema/id", "/schema/version", "/data/type", "/data/rate")
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	if err = checkSchema(params, SignalChannelSchemaId, SignalChannelSchemaVersion); err != nil {
		return err
	}

	dataType, err := paramString(params, "/data/type")
	if err != nil {
		return err
	}
	if DiscretizationByType(dataType) != DiscretizationComplex {
		return errors.Join(ErrBadParams, fmt.Errorf("signal channel data type %q is not complex", dataType))
	}

	rate, err := paramFloat(params, "/data/rate")
	if err != nil {
		return err
	}
	if math.Abs(rate-expectedRate) > 1.0 {
		return ErrRateMismatch
	}

	return nil
}

// CheckTvgParams verifies a TVG channel: schema pair, float data type and a
// data rate matching the data channel within 1 Hz.
func CheckTvgParams(pr ParamReader, expectedRate float64) error {
	params, err := pr.Get("/schema/id", "/schema/version", "/data/type", "/data/rate")
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	if err = checkSchema(params, TvgChannelSchemaId, TvgChannelSchemaVersion); err != nil {
		return err
	}

	dataType, err := paramString(params, "/data/type")
	if err != nil {
		return err
	}
	if dataType != "float32le" {
		return errors.Join(ErrBadParams, fmt.Errorf("tvg channel data type %q is not float", dataType))
	}

	rate, err := paramFloat(params, "/data/rate")
	if err != nil {
		return err
	}
	if math.Abs(rate-expectedRate) > 1.0 {
		return ErrRateMismatch
	}

	return nil
}
