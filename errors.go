package acoustic

import (
	"errors"
)

var ErrStore = errors.New("Error Reading From Track Store")
var ErrChannelNotFound = errors.New("Error Channel Not Found")
var ErrEmptyChannel = errors.New("Error Channel Contains No Data")
var ErrBadParams = errors.New("Error In Channel Parameters")
var ErrSchemaMismatch = errors.New("Error Channel Schema Id Or Version Mismatch")
var ErrMissingKey = errors.New("Error Parameter Key Missing")
var ErrRateMismatch = errors.New("Error Channel Data Rate Mismatch")
var ErrUnsupportedSource = errors.New("Error Source Is Not A Sonar Source")
var ErrWrongKind = errors.New("Error Operation Incompatible With Discretization")
var ErrOutOfRange = errors.New("Error Index Outside Channel Range")
var ErrUnavailable = errors.New("Error Required Data Unavailable")
var ErrCorruptData = errors.New("Error Data Size Not A Multiple Of Point Size")
var ErrBadGeometry = errors.New("Error Forward Look Channel Pair Mismatch")
var ErrClosedChannel = errors.New("Error Channel Is Closed For Writing")
var ErrCreateWaterfallTdb = errors.New("Error Creating Waterfall TileDB Array")
var ErrWriteWaterfallTdb = errors.New("Error Writing Waterfall TileDB Array")
var ErrCreateDoaTdb = errors.New("Error Creating DOA TileDB Array")
var ErrWriteDoaTdb = errors.New("Error Writing DOA TileDB Array")
var ErrCreateAttributeTdb = errors.New("Error Creating Attribute for TileDB Array")
var ErrCreateSchemaTdb = errors.New("Error Creating TileDB Schema")
var ErrAddFilters = errors.New("Error Adding Filter To FilterList")
