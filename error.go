package wfsai

import "errors"

var (
	ErrGdalDriverCreate = errors.New("gdal driver create err")
	ErrGdalDriverOpen   = errors.New("gdal driver open err")
	ErrGdalEmptyShp     = errors.New("gdal shp is empty")
	ErrVoidSrid         = errors.New("gdal shp with void srid")
	ErrGdalWrongGeoType = errors.New("gdal wrong geo type")
	ErrInvalidWKT       = errors.New("invalid WKT")
	ErrInvalidTif       = errors.New("invalid tif")
	ErrTifReadFailed    = errors.New("tif read failed")
	ErrNoGeoreference   = errors.New("raster has no geotransform or projection")

	// Stage precondition failures. None of these are retriable by the
	// stage itself; the caller owns retry policy.
	ErrGeometryModel     = errors.New("source has no usable sensor orientation model")
	ErrElevationCoverage = errors.New("dem does not cover source footprint")
	ErrGridMismatch      = errors.New("rasters have no spatial overlap")
	ErrEmptyMask         = errors.New("mask does not intersect raster footprint")
	ErrChunkSpec         = errors.New("invalid chunk spec")
	ErrNegativeDilation  = errors.New("dilation buffer must be non-negative")
	ErrBandWeights       = errors.New("band weights do not match band count")
)
