package wfsai

const (
	FILE_EXT_SHP  = ".shp"
	FILE_EXT_TIF  = ".tif"
	FILE_EXT_ZIP  = ".zip"
	FILE_EXT_JSON = ".json"

	SHAPE_ENCODING  = "UTF-8"
	UTF8_ENC        = "UTF8"
	ZH_ENC          = "GBK"
	SHP_DRIVER_NAME = "ESRI Shapefile"
	ENCODING_OPTION = "ENCODING=" + SHAPE_ENCODING
	OO_ENCODING     = "ENCODING=" + ZH_ENC

	UNIVERSAL_SRID = 4326

	// Sensor-neutral ground sample distances, overridable per call.
	DefaultPanPixelSize = 0.5
	DefaultMulPixelSize = 2.0

	ResampleBilinear = "bilinear"
	ResampleNearest  = "near"
	ResampleCubic    = "cubic"

	// Intensity pixels at or below this are treated as zero signal and the
	// resampled multispectral value passes through unfused.
	IntensityEpsilon = 1e-9

	// Quad segments for geometry buffering, same density as vector merges.
	DilationQuadSegs = 24
	PruneQuadSegs    = 12

	DefaultErodeDistance = 0.75

	ErrColumnMissingTemplate = "shp is missing field [%s]"

	ioBlockRows = 256

	TMP_PART_TIF     = "part_%s" + FILE_EXT_TIF
	TileNameTemplate = "%s_r%03d_c%03d" + FILE_EXT_TIF
	PRUNE_SUFFIX     = "_prunelines"

	SHP_FIELD_LOCATION = "Location"
)
