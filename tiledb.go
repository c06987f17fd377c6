package acoustic

import (
	"errors"
	"math"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/samber/lo"
	stgpsr "github.com/yuin/stagparser"
)

// ArrayOpen is a helper func for opening a tiledb array.
func ArrayOpen(ctx *tiledb.Context, uri string, mode tiledb.QueryType) (*tiledb.Array, error) {
	array, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return nil, err
	}

	err = array.Open(mode)
	if err != nil {
		array.Free()
		return nil, err
	}

	return array, nil
}

// AddFilters sequentially appends compression filters to the filter
// pipeline list.
func AddFilters(filter_list *tiledb.FilterList, filter ...*tiledb.Filter) error {
	for _, filt := range filter {
		err := filter_list.AddFilter(filt)
		if err != nil {
			return err
		}
	}

	return nil
}

// ZstdFilter initialises the Zstandard compression filter and sets the
// compression level.
func ZstdFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_ZSTD)
	if err != nil {
		return nil, err
	}

	err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level)
	if err != nil {
		filt.Free()
		return nil, err
	}

	return filt, nil
}

// Lz4Filter initialises the LZ4 compression filter and sets the
// compression level.
func Lz4Filter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_LZ4)
	if err != nil {
		return nil, err
	}

	err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level)
	if err != nil {
		filt.Free()
		return nil, err
	}

	return filt, nil
}

// AttachFilters acts as a helper for when setting the same pipeline filter
// list to a bunch of attributes.
func AttachFilters(filter_list *tiledb.FilterList, attrs ...*tiledb.Attribute) error {
	for _, attr := range attrs {
		err := attr.SetFilterList(filter_list)
		if err != nil {
			return err
		}
	}

	return nil
}

// CreateAttr creates a tiledb attribute along with its compression filter
// pipeline, configured by the tags attached to the struct field.
// Tags for tiledb include: dtype, var, ftype; ftype=dim fields are skipped
// by the caller. Filters supported here: zstd(level=n), lz4(level=n).
// An example tag is `tiledb:"dtype=float32,ftype=attr,var" filters:"zstd(level=16)"`.
func CreateAttr(
	field_name string,
	filter_defs []stgpsr.Definition,
	tiledb_defs map[string]stgpsr.Definition,
	schema *tiledb.ArraySchema,
	ctx *tiledb.Context,
) error {
	var tdb_dtype tiledb.Datatype

	def, status := tiledb_defs["dtype"]
	if !status {
		return errors.Join(ErrCreateAttributeTdb, errors.New("dtype tag not found"))
	}
	dtype, _ := def.Attribute("dtype")

	switch dtype {
	case "uint32":
		tdb_dtype = tiledb.TILEDB_UINT32
	case "uint64":
		tdb_dtype = tiledb.TILEDB_UINT64
	case "int64":
		tdb_dtype = tiledb.TILEDB_INT64
	case "float32":
		tdb_dtype = tiledb.TILEDB_FLOAT32
	case "float64":
		tdb_dtype = tiledb.TILEDB_FLOAT64
	default:
		return errors.Join(ErrCreateAttributeTdb, errors.New("unsupported dtype tag"))
	}

	attr_filts, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return errors.Join(ErrCreateAttributeTdb, err)
	}
	defer attr_filts.Free()

	for _, filter := range filter_defs {
		var filt *tiledb.Filter

		switch filter.Name() {
		case "zstd":
			level, status := filter.Attribute("level")
			if !status {
				return errors.Join(ErrCreateAttributeTdb, errors.New("zstd level not defined"))
			}
			filt, err = ZstdFilter(ctx, int32(level.(int64)))
		case "lz4":
			level, status := filter.Attribute("level")
			if !status {
				return errors.Join(ErrCreateAttributeTdb, errors.New("lz4 level not defined"))
			}
			filt, err = Lz4Filter(ctx, int32(level.(int64)))
		default:
			continue
		}

		if err != nil {
			return errors.Join(ErrCreateAttributeTdb, err)
		}
		defer filt.Free()

		if err = attr_filts.AddFilter(filt); err != nil {
			return errors.Join(ErrAddFilters, err)
		}
	}

	attr, err := tiledb.NewAttribute(ctx, field_name, tdb_dtype)
	if err != nil {
		return errors.Join(ErrCreateAttributeTdb, err)
	}
	defer attr.Free()

	if _, status = tiledb_defs["var"]; status {
		if err = attr.SetCellValNum(tiledb.TILEDB_VAR_NUM); err != nil {
			return errors.Join(ErrCreateAttributeTdb, err)
		}
	}

	if err = attr.SetFilterList(attr_filts); err != nil {
		return errors.Join(ErrCreateAttributeTdb, err)
	}

	if err = schema.AddAttributes(attr); err != nil {
		return errors.Join(ErrCreateAttributeTdb, err)
	}

	return nil
}

// schemaAttrs walks an exported struct and creates one attribute per
// non-dimension field.
func schemaAttrs(t any, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	filt_defs, _ := stgpsr.ParseStruct(t, "filters")
	tdb_defs, _ := stgpsr.ParseStruct(t, "tiledb")

	for name, defs := range tdb_defs {
		field_tdb_defs := make(map[string]stgpsr.Definition)
		for _, v := range defs {
			field_tdb_defs[v.Name()] = v
		}

		def, status := field_tdb_defs["ftype"]
		if !status {
			return errors.Join(ErrCreateAttributeTdb, errors.New("ftype tag not found"))
		}
		ftype, _ := def.Attribute("ftype")
		if ftype == "dim" {
			continue
		}

		if err := CreateAttr(name, filt_defs[name], field_tdb_defs, schema, ctx); err != nil {
			return errors.Join(ErrCreateAttributeTdb, err)
		}
	}

	return nil
}

// WaterfallData is the per-ping amplitude product of one channel laid out
// for a dense TileDB array over the ping index.
type WaterfallData struct {
	Ping_Id   []uint64  `tiledb:"dtype=uint64,ftype=dim" filters:"zstd(level=16)"`
	Timestamp []int64   `tiledb:"dtype=int64,ftype=attr" filters:"zstd(level=16)"`
	N_Points  []uint32  `tiledb:"dtype=uint32,ftype=attr" filters:"zstd(level=16)"`
	Amplitude []float32 `tiledb:"dtype=float32,ftype=attr,var" filters:"zstd(level=16)"`

	amplitude_offsets []uint64
}

// DoaData is the per-ping direction-of-arrival product of a forward-look
// pair, var-length per ping.
type DoaData struct {
	Ping_Id   []uint64  `tiledb:"dtype=uint64,ftype=dim" filters:"zstd(level=16)"`
	Timestamp []int64   `tiledb:"dtype=int64,ftype=attr" filters:"zstd(level=16)"`
	Angle     []float32 `tiledb:"dtype=float32,ftype=attr,var" filters:"zstd(level=16)"`
	Distance  []float32 `tiledb:"dtype=float32,ftype=attr,var" filters:"zstd(level=16)"`
	Amplitude []float32 `tiledb:"dtype=float32,ftype=attr,var" filters:"zstd(level=16)"`

	point_offsets []uint64
}

// pingDenseSchema builds a dense array schema over PING_ID for npings rows
// with the attributes described by the struct tags of t.
func pingDenseSchema(ctx *tiledb.Context, t any, npings uint64) (*tiledb.ArraySchema, error) {
	tile_sz := uint64(math.Min(float64(50000), float64(npings)))

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}
	defer domain.Free()

	dim, err := tiledb.NewDimension(ctx, "PING_ID", tiledb.TILEDB_UINT64, []uint64{0, npings - 1}, tile_sz)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}
	defer dim.Free()

	if err = domain.AddDimensions(dim); err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	if err = schema.SetDomain(domain); err != nil {
		schema.Free()
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	if err = schemaAttrs(t, schema, ctx); err != nil {
		schema.Free()
		return nil, errors.Join(ErrCreateSchemaTdb, err)
	}

	return schema, nil
}

// sliceOffsets computes TileDB var-length byte offsets from per-ping
// element counts.
func sliceOffsets(counts []uint32, byte_size uint64) []uint64 {
	offsets := make([]uint64, len(counts))

	var acc uint64
	for i, n := range counts {
		offsets[i] = acc
		acc += uint64(n) * byte_size
	}

	return offsets
}

// CollectWaterfall reads every ping amplitude of a reader into a
// WaterfallData block.
func CollectWaterfall(rd *Reader) (*WaterfallData, error) {
	first, last, ok := rd.Range()
	if !ok {
		return nil, ErrEmptyChannel
	}

	npings := int(last-first) + 1
	wf := &WaterfallData{
		Ping_Id:   make([]uint64, 0, npings),
		Timestamp: make([]int64, 0, npings),
		N_Points:  make([]uint32, 0, npings),
		Amplitude: make([]float32, 0, npings*1024),
	}

	for index := first; index <= last; index++ {
		ampls, t, err := rd.Amplitude(index)
		if err != nil {
			return nil, err
		}

		wf.Ping_Id = append(wf.Ping_Id, uint64(index))
		wf.Timestamp = append(wf.Timestamp, t)
		wf.N_Points = append(wf.N_Points, uint32(len(ampls)))
		wf.Amplitude = append(wf.Amplitude, ampls...)
	}

	wf.amplitude_offsets = sliceOffsets(wf.N_Points, RealPointSize)

	return wf, nil
}

// ToTileDB writes the waterfall block as a dense array at array_uri.
func (wf *WaterfallData) ToTileDB(array_uri string, ctx *tiledb.Context) error {
	npings := uint64(len(wf.Ping_Id))
	if npings == 0 {
		return ErrEmptyChannel
	}

	schema, err := pingDenseSchema(ctx, wf, npings)
	if err != nil {
		return errors.Join(ErrCreateWaterfallTdb, err)
	}
	defer schema.Free()

	array, err := tiledb.NewArray(ctx, array_uri)
	if err != nil {
		return errors.Join(ErrCreateWaterfallTdb, err)
	}
	defer array.Free()

	if err = array.Create(schema); err != nil {
		return errors.Join(ErrCreateWaterfallTdb, err)
	}

	if err = array.Open(tiledb.TILEDB_WRITE); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	defer query.Free()

	if err = query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}

	subarray, err := array.NewSubarray()
	if err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	defer subarray.Free()

	if err = subarray.AddRangeByName("PING_ID", tiledb.MakeRange(uint64(0), npings-1)); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	if err = query.SetSubarray(subarray); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}

	if _, err = query.SetDataBuffer("Timestamp", wf.Timestamp); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	if _, err = query.SetDataBuffer("N_Points", wf.N_Points); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	if _, err = query.SetDataBuffer("Amplitude", wf.Amplitude); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	if _, err = query.SetOffsetsBuffer("Amplitude", wf.amplitude_offsets); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}

	if err = query.Submit(); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}
	if err = query.Finalize(); err != nil {
		return errors.Join(ErrWriteWaterfallTdb, err)
	}

	return nil
}

// CollectDoa reads every resolvable DOA ping of a forward-look reader.
// Pings without an exact pair on the second channel are skipped; the count
// of skipped pings is returned alongside.
func CollectDoa(fl *ForwardLook) (*DoaData, int, error) {
	first, last, ok := fl.Range()
	if !ok {
		return nil, 0, ErrEmptyChannel
	}

	npings := int(last-first) + 1
	dd := &DoaData{
		Ping_Id:   make([]uint64, 0, npings),
		Timestamp: make([]int64, 0, npings),
	}

	counts := make([]uint32, 0, npings)
	skipped := 0

	for index := first; index <= last; index++ {
		points, t, err := fl.Doa(index)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				skipped++
				continue
			}
			return nil, skipped, err
		}

		dd.Ping_Id = append(dd.Ping_Id, uint64(index))
		dd.Timestamp = append(dd.Timestamp, t)
		counts = append(counts, uint32(len(points)))

		for _, p := range points {
			dd.Angle = append(dd.Angle, p.Angle)
			dd.Distance = append(dd.Distance, p.Distance)
			dd.Amplitude = append(dd.Amplitude, p.Amplitude)
		}
	}

	dd.point_offsets = sliceOffsets(counts, RealPointSize)

	return dd, skipped, nil
}

// ToTileDB writes the DOA block as a dense array at array_uri. Rows are
// the surviving pings, densely packed.
func (dd *DoaData) ToTileDB(array_uri string, ctx *tiledb.Context) error {
	npings := uint64(len(dd.Ping_Id))
	if npings == 0 {
		return ErrEmptyChannel
	}

	schema, err := pingDenseSchema(ctx, dd, npings)
	if err != nil {
		return errors.Join(ErrCreateDoaTdb, err)
	}
	defer schema.Free()

	array, err := tiledb.NewArray(ctx, array_uri)
	if err != nil {
		return errors.Join(ErrCreateDoaTdb, err)
	}
	defer array.Free()

	if err = array.Create(schema); err != nil {
		return errors.Join(ErrCreateDoaTdb, err)
	}

	if err = array.Open(tiledb.TILEDB_WRITE); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}
	defer query.Free()

	if err = query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}

	subarray, err := array.NewSubarray()
	if err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}
	defer subarray.Free()

	if err = subarray.AddRangeByName("PING_ID", tiledb.MakeRange(uint64(0), npings-1)); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}
	if err = query.SetSubarray(subarray); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}

	if _, err = query.SetDataBuffer("Timestamp", dd.Timestamp); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}

	for name, buf := range map[string][]float32{
		"Angle":     dd.Angle,
		"Distance":  dd.Distance,
		"Amplitude": dd.Amplitude,
	} {
		if _, err = query.SetDataBuffer(name, buf); err != nil {
			return errors.Join(ErrWriteDoaTdb, err)
		}
		if _, err = query.SetOffsetsBuffer(name, dd.point_offsets); err != nil {
			return errors.Join(ErrWriteDoaTdb, err)
		}
	}

	if err = query.Submit(); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}
	if err = query.Finalize(); err != nil {
		return errors.Join(ErrWriteDoaTdb, err)
	}

	return nil
}

// WaterfallSummary is a compact QA block over a collected waterfall.
type WaterfallSummary struct {
	Ping_Count    int
	Min_Points    uint32
	Max_Points    uint32
	Min_Amplitude float32
	Max_Amplitude float32
}

// Summary computes the QA block of a waterfall.
func (wf *WaterfallData) Summary() WaterfallSummary {
	return WaterfallSummary{
		Ping_Count:    len(wf.Ping_Id),
		Min_Points:    lo.Min(wf.N_Points),
		Max_Points:    lo.Max(wf.N_Points),
		Min_Amplitude: lo.Min(wf.Amplitude),
		Max_Amplitude: lo.Max(wf.Amplitude),
	}
}
