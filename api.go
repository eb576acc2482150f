package wfsai

import (
	"math"

	gdal "github.com/airbusgeo/godal"
)

type GdalGeo = []byte

// BandSource tags a raw scene as panchromatic or multispectral. It selects
// the default target pixel size during rectification.
type BandSource string

const (
	SourcePan BandSource = "pan"
	SourceMul BandSource = "mul"
)

func (b BandSource) Valid() bool {
	return b == SourcePan || b == SourceMul
}

// DefaultPixelSize is the ground sample distance used when the caller does
// not override it.
func (b BandSource) DefaultPixelSize() PixelSize {
	if b == SourcePan {
		return PixelSize{X: DefaultPanPixelSize, Y: DefaultPanPixelSize}
	}
	return PixelSize{X: DefaultMulPixelSize, Y: DefaultMulPixelSize}
}

// PixelSize is the (x, y) ground sample distance in the linear unit of the
// target spatial reference.
type PixelSize struct {
	X float64
	Y float64
}

func (p PixelSize) Valid() bool {
	return p.X > 0 && p.Y > 0
}

// RasterHandle references a georeferenced raster dataset on disk. Handles
// are produced by a completed stage and are never mutated; every stage
// writes a new raster instead of editing its input.
type RasterHandle struct {
	Path         string
	Driver       string
	XSize        int
	YSize        int
	Bands        int
	DataType     gdal.DataType
	GeoTransform [6]float64
	Projection   string // WKT
	NoData       *float64
}

// Bounds returns [minX, maxX, minY, maxY] in the raster's spatial
// reference. No stage here produces rotated geotransforms, so only origin
// and pixel size are considered.
func (h RasterHandle) Bounds() (span [4]float64) {
	gt := h.GeoTransform
	x0, x1 := gt[0], gt[0]+float64(h.XSize)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(h.YSize)*gt[5]
	span[0] = math.Min(x0, x1)
	span[1] = math.Max(x0, x1)
	span[2] = math.Min(y0, y1)
	span[3] = math.Max(y0, y1)
	return
}

func (h RasterHandle) PixelSize() PixelSize {
	return PixelSize{X: math.Abs(h.GeoTransform[1]), Y: math.Abs(h.GeoTransform[5])}
}

// FootprintWkt is the axis-aligned footprint polygon in the raster's own
// spatial reference.
func (h RasterHandle) FootprintWkt() string {
	return SpanToWkt(h.Bounds())
}

// MaskGeometry is an ordered set of area-of-interest polygons (WKB) with a
// common spatial reference. Dilation is a non-negative buffer distance in
// the mask reference's linear unit, applied before rasterization; zero is
// a no-op, and buffering only ever grows the included area.
type MaskGeometry struct {
	Polygons []GdalGeo
	Srid     int
	Dilation float64
}

// AoiFeature is one polygon feature of an area-of-interest shapefile,
// carrying the Location attribute alongside its geometry (WKB).
type AoiFeature struct {
	Location string
	Geom     GdalGeo
}

// ChunkSpec is the (bands, ySize, xSize) tile geometry. All three must be
// strictly positive and Bands must not exceed the source band count.
type ChunkSpec struct {
	Bands int `json:"bands"`
	YSize int `json:"y_size"`
	XSize int `json:"x_size"`
}

func (c ChunkSpec) Validate(srcBands int) error {
	if c.Bands <= 0 || c.YSize <= 0 || c.XSize <= 0 {
		return ErrChunkSpec
	}
	if c.Bands > srcBands {
		return ErrChunkSpec
	}
	return nil
}

// Tile is one raster sub-window in tile-grid coordinates, one-to-one with
// an output file. Edge tiles keep their actual remaining extent and are not
// padded up to the chunk spec.
type Tile struct {
	Row   int
	Col   int
	XOff  int
	YOff  int
	XSize int
	YSize int
	Path  string
}
