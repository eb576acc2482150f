package wfsai

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"
)

// OrthoOptions carries the per-call parameters of the rectification stage.
type OrthoOptions struct {
	// DEM is an optional elevation raster covering the source footprint.
	// When set, relief displacement is removed by sampling it through the
	// sensor's rational polynomial model; when empty, a constant zero
	// elevation surface is assumed.
	DEM string
	// PixelSize overrides the BandSource default ground sample distance.
	PixelSize *PixelSize
	// TargetSRID selects the output reference when no DEM is given. The
	// DEM's reference wins when one is present.
	TargetSRID int
	// Resampling kernel for the regridding, bilinear when empty. Nearest
	// is for categorical-like data only.
	Resampling string
	SrcNoData  *float64
	DstNoData  *float64
	// Output is the destination path; derived from the source when empty.
	Output string
}

// Rectify removes sensor geometry (and, with a DEM, relief) distortion
// from a raw PAN or MUL scene, producing a map-projected raster on a
// regular grid.
func (t *Toolbox) Rectify(src string, typ BandSource, opt OrthoOptions) (h RasterHandle, err error) {
	if !typ.Valid() {
		err = fmt.Errorf("source type must be %q or %q", SourcePan, SourceMul)
		return
	}
	fi, err := os.Stat(src)
	if err != nil {
		err = fmt.Errorf("source image: %w", err)
		return
	}
	if fi.IsDir() {
		err = fmt.Errorf("source image %s is not a file", src)
		return
	}
	px := typ.DefaultPixelSize()
	if opt.PixelSize != nil {
		if !opt.PixelSize.Valid() {
			err = fmt.Errorf("pixel size must be strictly positive")
			return
		}
		px = *opt.PixelSize
	}
	sds, err := gdal.Open(src, gdal.RasterOnly())
	if err != nil {
		log.Error(t.logTag+"open source failed", zap.String("src", src), zap.Error(err))
		err = fmt.Errorf("%w: %s", ErrInvalidTif, src)
		return
	}
	defer sds.Close()

	rpc := sds.Metadatas(gdal.Domain("RPC"))
	if len(rpc) == 0 {
		err = fmt.Errorf("%w: %s", ErrGeometryModel, src)
		return
	}

	var (
		tSrs       string
		transOpt   string
		demHandle  RasterHandle
		resampling = opt.Resampling
	)
	if resampling == "" {
		resampling = ResampleBilinear
	}
	if opt.DEM != "" {
		if demHandle, err = t.OpenRaster(opt.DEM); err != nil {
			return
		}
		if err = t.checkDemCoverage(rpc, demHandle); err != nil {
			return
		}
		tSrs = t.srsArg(demHandle.Projection)
		transOpt = "RPC_DEM=" + opt.DEM
	} else {
		srid := opt.TargetSRID
		if srid == 0 {
			srid = UNIVERSAL_SRID
			log.Warn(t.logTag+"no target srid configured, using universal", zap.Int("srid", srid))
		}
		tSrs = "epsg:" + strconv.Itoa(srid)
		transOpt = "RPC_HEIGHT=0"
	}

	out := opt.Output
	if out == "" {
		out = orthoOutputPath(src, typ)
	}
	switches := []string{
		"-rpc",
		"-to", transOpt,
		"-t_srs", tSrs,
		"-tr", formatFloat(px.X), formatFloat(px.Y),
		"-r", resampling,
		"-overwrite",
		"-co", "COMPRESS=LZW", "-co", "BIGTIFF=IF_SAFER",
	}
	if opt.SrcNoData != nil {
		switches = append(switches, "-srcnodata", formatFloat(*opt.SrcNoData))
	}
	if opt.DstNoData != nil {
		switches = append(switches, "-dstnodata", formatFloat(*opt.DstNoData))
	}
	log.Info(t.logTag+"start rectify",
		zap.String("src", src), zap.String("type", string(typ)),
		zap.String("dem", opt.DEM), zap.String("t_srs", tSrs),
		zap.Float64("xres", px.X), zap.Float64("yres", px.Y))

	tmp := tmpOutputPath(out)
	ods, err := gdal.Warp(tmp, []*Dataset{sds}, switches)
	if err != nil {
		log.Error(t.logTag+"rectify warp failed", zap.String("src", src), zap.Error(err))
		os.Remove(tmp)
		err = fmt.Errorf("rectify %s: %w", src, err)
		return
	}
	if err = ods.Close(); err != nil {
		os.Remove(tmp)
		err = fmt.Errorf("rectify %s: %w", src, err)
		return
	}
	if err = finishOutput(tmp, out); err != nil {
		return
	}
	if h, err = t.OpenRaster(out); err == nil {
		log.Info(t.logTag+"rectify done", zap.String("out", out),
			zap.Int("width", h.XSize), zap.Int("height", h.YSize), zap.Int("bands", h.Bands))
	}
	return
}

// checkDemCoverage verifies that the DEM footprint contains the coarse
// scene footprint advertised by the RPC offsets and scales.
func (t *Toolbox) checkDemCoverage(rpc map[string]string, dem RasterHandle) (err error) {
	span, ok := rpcFootprint(rpc)
	if !ok {
		// Scene extent is not recoverable from the model; warping would
		// fail later anyway if elevation sampling misses.
		log.Warn(t.logTag + "rpc metadata has no footprint, skipping dem coverage check")
		return nil
	}
	srcRef, err := gdal.NewSpatialRefFromEPSG(UNIVERSAL_SRID)
	if err != nil {
		return
	}
	defer srcRef.Close()
	geo, err := gdal.NewGeometryFromWKT(SpanToWkt(span), srcRef)
	if err != nil {
		return
	}
	defer geo.Close()
	demRef, err := gdal.NewSpatialRefFromWKT(dem.Projection)
	if err != nil {
		return
	}
	defer demRef.Close()
	if err = geo.Reproject(demRef); err != nil {
		return
	}
	b, err := geo.Bounds()
	if err != nil {
		return
	}
	fp := [4]float64{b[0], b[2], b[1], b[3]}
	if !spanContains(dem.Bounds(), fp) {
		log.Error(t.logTag+"dem does not cover source",
			zap.Any("source", fp), zap.Any("dem", dem.Bounds()))
		return fmt.Errorf("%w: %s", ErrElevationCoverage, dem.Path)
	}
	return nil
}

// rpcFootprint derives the [minLon, maxLon, minLat, maxLat] scene extent
// from the RPC offset/scale terms.
func rpcFootprint(rpc map[string]string) (span [4]float64, ok bool) {
	lonOff, e1 := strconv.ParseFloat(strings.TrimSpace(rpc["LONG_OFF"]), 64)
	lonScale, e2 := strconv.ParseFloat(strings.TrimSpace(rpc["LONG_SCALE"]), 64)
	latOff, e3 := strconv.ParseFloat(strings.TrimSpace(rpc["LAT_OFF"]), 64)
	latScale, e4 := strconv.ParseFloat(strings.TrimSpace(rpc["LAT_SCALE"]), 64)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return
	}
	span[0] = lonOff - lonScale
	span[1] = lonOff + lonScale
	span[2] = latOff - latScale
	span[3] = latOff + latScale
	ok = true
	return
}

// srsArg prefers a compact epsg:N argument when the projection resolves to
// an authority code, falling back to raw WKT.
func (t *Toolbox) srsArg(projWkt string) string {
	ref, err := t.getWktRef(projWkt)
	if err != nil {
		return projWkt
	}
	defer ref.Destroy()
	if srid, e := t.getSrid(ref); e == nil {
		return "epsg:" + strconv.Itoa(srid)
	}
	return projWkt
}

func orthoOutputPath(src string, typ BandSource) string {
	dir := filepath.Dir(src)
	name := utils.GetFilenameWithoutExt(src)
	return filepath.Join(dir, fmt.Sprintf("%s_%s_ortho%s", name, typ, FILE_EXT_TIF))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
