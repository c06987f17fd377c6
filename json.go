package acoustic

import (
	"encoding/json"
	"errors"
	"time"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/soniakeys/meeus/v3/julian"
)

// WriteJson serialises data to a JSON file. The output location can be
// local or an object store such as s3.
func WriteJson(file_uri string, config_uri string, data any) (int, error) {
	var (
		config *tiledb.Config
		err    error
	)

	if config_uri == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(config_uri)
	}
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	defer vfs.Free()

	// the vfs api auto checks for a file's existence and removes it if we are wanting to write
	stream, err := vfs.Open(file_uri, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	defer stream.Close()

	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return 0, err
	}

	bytes_written, err := stream.Write(jsn)
	if err != nil {
		return 0, err
	}

	return bytes_written, nil
}

// JsonDumps constructs a JSON string of the supplied data.
func JsonDumps(data any) (string, error) {
	jsn, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return string(jsn), nil
}

// JsonIndentDumps constructs a json string of the supplied data using an
// indentation of four spaces.
func JsonIndentDumps(data any) (string, error) {
	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return "", err
	}

	return string(jsn), nil
}

// TimeStamp reports one µs timestamp in the renditions survey metadata
// normally records; Julian dates ease cross-referencing with tide and
// ephemeris tables.
type TimeStamp struct {
	Time_Us    int64
	UTC        string
	Julian_Day float64
}

// NewTimeStamp expands a µs timestamp.
func NewTimeStamp(timeUs int64) TimeStamp {
	t := time.UnixMicro(timeUs).UTC()

	return TimeStamp{
		Time_Us:    timeUs,
		UTC:        t.Format(time.RFC3339Nano),
		Julian_Day: julian.TimeToJD(t),
	}
}

// ChannelMetadata summarises one channel of a track for export.
type ChannelMetadata struct {
	Channel_Name   string
	Source         SourceType
	Discretization Discretization
	Ping_Count     uint64
	First_Ping     TimeStamp
	Last_Ping      TimeStamp
	Data_Rate      float64
	Frequency      float64
	Has_Tvg        bool
	Writable       bool
}

// ReaderMetadata collates export metadata from an open reader.
func ReaderMetadata(rd *Reader) (ChannelMetadata, error) {
	var md ChannelMetadata

	first, last, ok := rd.Range()
	if !ok {
		return md, ErrEmptyChannel
	}

	_, firstTime, err := rd.SizeTime(first)
	if err != nil {
		return md, err
	}
	_, lastTime, err := rd.SizeTime(last)
	if err != nil {
		return md, err
	}

	dataKind := ChannelData
	if rd.IsNoise() {
		dataKind = ChannelNoise
	}

	info := rd.Info()

	md = ChannelMetadata{
		Channel_Name:   ChannelName(rd.Source(), dataKind, rd.Channel()),
		Source:         rd.Source(),
		Discretization: rd.Discretization(),
		Ping_Count:     uint64(last-first) + 1,
		First_Ping:     NewTimeStamp(firstTime),
		Last_Ping:      NewTimeStamp(lastTime),
		Data_Rate:      info.Data_Rate,
		Frequency:      info.Signal_Frequency,
		Has_Tvg:        rd.HasTvg(),
		Writable:       rd.Writable(),
	}

	return md, nil
}
