package wfsai

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	godal "github.com/airbusgeo/godal"
	"github.com/lukeroth/gdal"
	"go.uber.org/zap"
)

// MaskOptions carries the per-call parameters of the masking stage.
type MaskOptions struct {
	// Sentinel is burned into out-of-mask pixels when the raster defines
	// no no-data value of its own.
	Sentinel *float64
	// AllTouched extends the mask to every pixel touched by the geometry
	// instead of pixels whose center lies inside.
	AllTouched bool
	// Output is the destination path; derived from the raster when empty.
	Output string
}

// ApplyMask rasterizes the (optionally dilated) area-of-interest geometry
// onto the raster grid and overwrites every pixel outside it with the
// raster's no-data value. In-mask pixels pass through unchanged.
func (t *Toolbox) ApplyMask(r RasterHandle, m MaskGeometry, opt MaskOptions) (h RasterHandle, err error) {
	if m.Dilation < 0 {
		err = ErrNegativeDilation
		return
	}
	if len(m.Polygons) == 0 {
		err = fmt.Errorf("%w: %s", ErrEmptyMask, r.Path)
		return
	}
	log.Info(t.logTag+"start mask", zap.String("raster", r.Path),
		zap.Int("polygons", len(m.Polygons)), zap.Float64("dilation", m.Dilation))

	wkb, err := t.buildMaskWkb(r, m)
	if err != nil {
		return
	}

	out := opt.Output
	if out == "" {
		dir := filepath.Dir(r.Path)
		out = filepath.Join(dir, utils.GetFilenameWithoutExt(r.Path)+"_masked"+FILE_EXT_TIF)
	}
	nd := r.NoData
	if nd == nil {
		nd = opt.Sentinel
	}
	sentinel := resolveNoData(r.DataType, nd)

	maskBuf, err := t.rasterizeMask(r, wkb, opt.AllTouched)
	if err != nil {
		return
	}

	sds, err := godal.Open(r.Path, godal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidTif, r.Path)
		return
	}
	tmp := tmpOutputPath(out)
	ods, err := sds.Translate(tmp, []string{"-co", "COMPRESS=LZW", "-co", "BIGTIFF=IF_SAFER"})
	sds.Close()
	if err != nil {
		err = fmt.Errorf("copy %s: %w", r.Path, err)
		return
	}
	if err = ods.Close(); err != nil {
		os.Remove(tmp)
		return
	}
	if err = t.burnNoData(tmp, r, maskBuf, sentinel); err != nil {
		os.Remove(tmp)
		return
	}
	if err = finishOutput(tmp, out); err != nil {
		return
	}
	if h, err = t.OpenRaster(out); err == nil {
		log.Info(t.logTag+"mask done", zap.String("out", out))
	}
	return
}

// buildMaskWkb dilates each polygon in the mask's own reference, merges
// them, reprojects onto the raster reference and verifies the result still
// intersects the raster footprint.
func (t *Toolbox) buildMaskWkb(r RasterHandle, m MaskGeometry) (wkb GdalGeo, err error) {
	ref, err := t.getSridRef(m.Srid)
	if err != nil {
		return
	}
	var (
		geo    gdal.Geometry
		merged = gdal.Create(gdal.GT_Polygon)
		gc     = []destroyable{merged}
	)
	defer func() {
		for _, v := range gc {
			v.Destroy()
		}
	}()
	for _, p := range m.Polygons {
		if geo, err = t.parseWKB(p, ref); err != nil {
			return
		}
		gc = append(gc, geo)
		if m.Dilation > 0 {
			// Buffer in the mask reference's own linear unit, before any
			// reprojection.
			geo = geo.Buffer(m.Dilation, DilationQuadSegs)
			gc = append(gc, geo)
		}
		merged = merged.Union(geo)
		gc = append(gc, merged)
	}
	rRef, err := t.getWktRef(r.Projection)
	if err != nil {
		return
	}
	defer rRef.Destroy()
	rasterSrid, sridErr := t.getSrid(rRef)
	if sridErr != nil || rasterSrid != m.Srid {
		if err = merged.TransformTo(rRef); err != nil {
			log.Error(t.logTag+"mask transform failed", zap.Error(err))
			return
		}
	}
	foot, err := t.parseWKT(r.FootprintWkt(), rRef)
	if err != nil {
		return
	}
	defer foot.Destroy()
	if !merged.Intersects(foot) {
		err = fmt.Errorf("%w: %s", ErrEmptyMask, r.Path)
		return
	}
	wkb, err = merged.ToWKB()
	return
}

// rasterizeMask burns the mask geometry into an in-memory byte grid
// aligned pixel-for-pixel with the raster: 1 inside, 0 outside.
func (t *Toolbox) rasterizeMask(r RasterHandle, wkb GdalGeo, allTouched bool) (buf []byte, err error) {
	ref, err := godal.NewSpatialRefFromWKT(r.Projection)
	if err != nil {
		return
	}
	defer ref.Close()
	geo, err := godal.NewGeometryFromWKB(wkb, ref)
	if err != nil {
		return
	}
	defer geo.Close()
	mds, err := godal.Create(godal.Memory, "", 1, godal.Byte, r.XSize, r.YSize)
	if err != nil {
		return
	}
	defer mds.Close()
	if err = mds.SetGeoTransform(r.GeoTransform); err != nil {
		return
	}
	if err = mds.SetProjection(r.Projection); err != nil {
		return
	}
	opts := []godal.RasterizeGeometryOption{godal.Bands(0), godal.Values(1)}
	if allTouched {
		opts = append(opts, godal.AllTouched())
	}
	if err = mds.RasterizeGeometry(geo, opts...); err != nil {
		log.Error(t.logTag+"rasterize mask failed", zap.Error(err))
		return
	}
	buf = make([]byte, r.XSize*r.YSize)
	err = mds.Bands()[0].Read(0, 0, buf, r.XSize, r.YSize)
	return
}

// burnNoData overwrites every out-of-mask pixel of the copied raster with
// the sentinel, streaming block rows per band.
func (t *Toolbox) burnNoData(path string, r RasterHandle, mask []byte, sentinel float64) (err error) {
	ds, err := godal.Open(path, godal.Update())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTif, path)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	w := r.XSize
	buf := make([]float64, w*ioBlockRows)
	for _, band := range ds.Bands() {
		if _, ok := band.NoData(); !ok {
			if err = band.SetNoData(sentinel); err != nil {
				return
			}
		}
		for y := 0; y < r.YSize; y += ioBlockRows {
			rows := r.YSize - y
			if rows > ioBlockRows {
				rows = ioBlockRows
			}
			n := w * rows
			if err = band.Read(0, y, buf[:n], w, rows); err != nil {
				return fmt.Errorf("%w: %s", ErrTifReadFailed, path)
			}
			base := y * w
			for p := 0; p < n; p++ {
				if mask[base+p] == 0 {
					buf[p] = sentinel
				}
			}
			if err = band.Write(0, y, buf[:n], w, rows); err != nil {
				return fmt.Errorf("write mask block: %w", err)
			}
		}
	}
	return nil
}
