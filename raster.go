package wfsai

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsco/wfsai/log"

	gdal "github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Dataset = gdal.Dataset
type Geometry = gdal.Geometry

func init() {
	gdal.RegisterInternalDrivers()
}

// OpenRaster reads the metadata of a georeferenced raster into a handle.
// The dataset is closed again before returning; stages reopen it as needed.
func (t *Toolbox) OpenRaster(tif string) (h RasterHandle, err error) {
	sds, err := gdal.Open(tif, gdal.RasterOnly())
	if err != nil {
		log.Error(t.logTag+"open tif failed", zap.String("tif", tif), zap.Error(err))
		err = fmt.Errorf("%w: %s", ErrInvalidTif, tif)
		return
	}
	defer sds.Close()
	return t.describeRaster(tif, sds)
}

func (t *Toolbox) describeRaster(tif string, sds *Dataset) (h RasterHandle, err error) {
	st := sds.Structure()
	gt, err := sds.GeoTransform()
	if err != nil {
		err = ErrNoGeoreference
		return
	}
	proj := sds.Projection()
	if proj == "" {
		err = ErrNoGeoreference
		return
	}
	h = RasterHandle{
		Path:         tif,
		Driver:       driverShortName(tif),
		XSize:        st.SizeX,
		YSize:        st.SizeY,
		Bands:        st.NBands,
		DataType:     st.DataType,
		GeoTransform: gt,
		Projection:   proj,
	}
	if bands := sds.Bands(); len(bands) > 0 {
		if nd, ok := bands[0].NoData(); ok {
			h.NoData = &nd
		}
	}
	return
}

func driverShortName(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "GTiff"
	case ".vrt":
		return "VRT"
	default:
		return ""
	}
}

// createRaster builds a new georeferenced dataset with the given grid.
func createRaster(path string, xSize, ySize, bands int, dt gdal.DataType,
	gt [6]float64, projWkt string, noData *float64) (ds *Dataset, err error) {
	ds, err = gdal.Create(gdal.GTiff, path, bands, dt, xSize, ySize,
		gdal.CreationOption("COMPRESS=LZW", "BIGTIFF=IF_SAFER"))
	if err != nil {
		return
	}
	if err = ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return nil, err
	}
	if err = ds.SetProjection(projWkt); err != nil {
		ds.Close()
		return nil, err
	}
	if noData != nil {
		for _, b := range ds.Bands() {
			if err = b.SetNoData(*noData); err != nil {
				ds.Close()
				return nil, err
			}
		}
	}
	return
}

// resolveNoData picks the sentinel for an output of the given data type.
// When the source sentinel is representable it is kept; otherwise floating
// point outputs use NaN and integer outputs fall back to 0, the collection
// convention of the source imagery.
func resolveNoData(dt gdal.DataType, src *float64) float64 {
	isFloat := dt == gdal.Float32 || dt == gdal.Float64
	if src != nil {
		lo, hi, bounded := dataTypeRange(dt)
		if !bounded || (*src >= lo && *src <= hi && (isFloat || *src == math.Trunc(*src))) {
			return *src
		}
	}
	if isFloat {
		return math.NaN()
	}
	return 0
}

// dataTypeRange returns the representable value range of a raster data
// type. bounded is false for Float64.
func dataTypeRange(dt gdal.DataType) (lo, hi float64, bounded bool) {
	switch dt {
	case gdal.Byte:
		return 0, math.MaxUint8, true
	case gdal.UInt16:
		return 0, math.MaxUint16, true
	case gdal.Int16:
		return math.MinInt16, math.MaxInt16, true
	case gdal.UInt32:
		return 0, math.MaxUint32, true
	case gdal.Int32:
		return math.MinInt32, math.MaxInt32, true
	case gdal.Float32:
		return -math.MaxFloat32, math.MaxFloat32, true
	default:
		return 0, 0, false
	}
}

func clampToRange(v float64, dt gdal.DataType) float64 {
	lo, hi, bounded := dataTypeRange(dt)
	if !bounded {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// isNoData matches a pixel against a sentinel, treating NaN as equal to
// itself.
func isNoData(v float64, nd *float64) bool {
	if nd == nil {
		return false
	}
	if math.IsNaN(*nd) {
		return math.IsNaN(v)
	}
	return v == *nd
}

// tmpOutputPath returns a scratch sibling of the final path. Stages write
// there and rename on completion so a cancelled run never leaves a partial
// file at the final path.
func tmpOutputPath(out string) string {
	return out + ".partial-" + uuid.NewString()
}

// finishOutput promotes a completed scratch file to its final path,
// replacing any previous output.
func finishOutput(tmp, out string) (err error) {
	if err = os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		err = fmt.Errorf("finalize %s: %w", out, err)
	}
	return
}
