package wfsai

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	gdal "github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SharpenOptions carries the per-call parameters of the fusion stage.
type SharpenOptions struct {
	// Weights is the per-band contribution to the synthetic intensity,
	// one entry per multispectral band. Defaults to equal contribution;
	// always normalized to sum to 1.
	Weights []float64
	// Resampling of the multispectral raster onto the pan grid before
	// fusion: bilinear (default) or nearest.
	Resampling string
	// Output is the destination path; derived from the pan path when empty.
	Output string
}

// Sharpen fuses a high-resolution panchromatic ortho image with a
// co-registered multispectral ortho image using the weighted Brovey
// algorithm, producing a multi-band raster on the pan grid.
//
// Each output band is mul_b * (pan / intensity) with intensity the
// weighted band sum; pixels whose intensity is at or below
// IntensityEpsilon keep the resampled mul value, and no-data in either
// input propagates.
func (t *Toolbox) Sharpen(pan, mul RasterHandle, opt SharpenOptions) (h RasterHandle, err error) {
	if err = t.checkSameRef(pan, mul); err != nil {
		return
	}
	if !spansOverlap(pan.Bounds(), mul.Bounds()) {
		log.Error(t.logTag+"pan and mul footprints are disjoint",
			zap.String("pan", pan.Path), zap.String("mul", mul.Path))
		err = fmt.Errorf("%w: %s / %s", ErrGridMismatch, pan.Path, mul.Path)
		return
	}
	weights, err := normalizeWeights(opt.Weights, mul.Bands)
	if err != nil {
		return
	}
	resampling := opt.Resampling
	if resampling == "" {
		resampling = ResampleBilinear
	}
	out := opt.Output
	if out == "" {
		dir := filepath.Dir(pan.Path)
		out = filepath.Join(dir, utils.GetFilenameWithoutExt(pan.Path)+"_psh"+FILE_EXT_TIF)
	}
	log.Info(t.logTag+"start sharpen", zap.String("pan", pan.Path),
		zap.String("mul", mul.Path), zap.Any("weights", weights),
		zap.String("resampling", resampling), zap.String("out", out))

	// Resample mul onto the exact pan grid first so the fusion loop sees
	// pixel-aligned buffers.
	resampled, err := t.resampleToGrid(mul, pan, resampling)
	if err != nil {
		return
	}
	defer os.Remove(resampled)

	pds, err := gdal.Open(pan.Path, gdal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidTif, pan.Path)
		return
	}
	defer pds.Close()
	mds, err := gdal.Open(resampled, gdal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidTif, resampled)
		return
	}
	defer mds.Close()

	outNoData := mul.NoData
	if outNoData == nil {
		outNoData = pan.NoData
	}
	var ndPtr *float64
	if outNoData != nil {
		nd := resolveNoData(mul.DataType, outNoData)
		ndPtr = &nd
	}
	tmp := tmpOutputPath(out)
	ods, err := createRaster(tmp, pan.XSize, pan.YSize, mul.Bands, mul.DataType,
		pan.GeoTransform, pan.Projection, ndPtr)
	if err != nil {
		err = fmt.Errorf("create %s: %w", out, err)
		return
	}

	if err = t.fuseBands(pds, mds, ods, pan, mul, weights, ndPtr); err != nil {
		ods.Close()
		os.Remove(tmp)
		return
	}
	if err = ods.Close(); err != nil {
		os.Remove(tmp)
		return
	}
	if err = finishOutput(tmp, out); err != nil {
		return
	}
	if h, err = t.OpenRaster(out); err == nil {
		log.Info(t.logTag+"sharpen done", zap.String("out", out), zap.Int("bands", h.Bands))
	}
	return
}

func (t *Toolbox) checkSameRef(pan, mul RasterHandle) (err error) {
	pRef, err := gdal.NewSpatialRefFromWKT(pan.Projection)
	if err != nil {
		return fmt.Errorf("pan projection: %w", err)
	}
	defer pRef.Close()
	mRef, err := gdal.NewSpatialRefFromWKT(mul.Projection)
	if err != nil {
		return fmt.Errorf("mul projection: %w", err)
	}
	defer mRef.Close()
	if !pRef.IsSame(mRef) {
		return fmt.Errorf("%w: pan and mul spatial references differ", ErrGridMismatch)
	}
	return nil
}

// resampleToGrid warps src onto the pixel grid of target, returning the
// scratch raster path. The caller removes it.
func (t *Toolbox) resampleToGrid(src, target RasterHandle, resampling string) (part string, err error) {
	sds, err := gdal.Open(src.Path, gdal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidTif, src.Path)
		return
	}
	defer sds.Close()
	b := target.Bounds()
	px := target.PixelSize()
	part = filepath.Join(t.tmpDir, fmt.Sprintf(TMP_PART_TIF, uuid.NewString()))
	switches := []string{
		"-te", formatFloat(b[0]), formatFloat(b[2]), formatFloat(b[1]), formatFloat(b[3]),
		"-tr", formatFloat(px.X), formatFloat(px.Y),
		"-r", resampling,
		"-overwrite",
	}
	ods, err := gdal.Warp(part, []*Dataset{sds}, switches)
	if err != nil {
		log.Error(t.logTag+"resample to grid failed", zap.String("src", src.Path), zap.Error(err))
		return
	}
	err = ods.Close()
	return
}

func (t *Toolbox) fuseBands(pds, mds, ods *Dataset, pan, mul RasterHandle,
	weights []float64, outNoData *float64) (err error) {
	panBand := pds.Bands()[0]
	mulBands := mds.Bands()
	outBands := ods.Bands()
	nb := len(weights)

	w := pan.XSize
	panBuf := make([]float64, w*ioBlockRows)
	mulBuf := make([][]float64, nb)
	outBuf := make([][]float64, nb)
	for i := range mulBuf {
		mulBuf[i] = make([]float64, w*ioBlockRows)
		outBuf[i] = make([]float64, w*ioBlockRows)
	}
	for y := 0; y < pan.YSize; y += ioBlockRows {
		rows := pan.YSize - y
		if rows > ioBlockRows {
			rows = ioBlockRows
		}
		n := w * rows
		if err = panBand.Read(0, y, panBuf[:n], w, rows); err != nil {
			return fmt.Errorf("%w: %s", ErrTifReadFailed, pan.Path)
		}
		for i := 0; i < nb; i++ {
			if err = mulBands[i].Read(0, y, mulBuf[i][:n], w, rows); err != nil {
				return fmt.Errorf("%w: %s", ErrTifReadFailed, mul.Path)
			}
		}
		for p := 0; p < n; p++ {
			pv := panBuf[p]
			if isNoData(pv, pan.NoData) {
				for i := 0; i < nb; i++ {
					outBuf[i][p] = noDataOr(outNoData, mulBuf[i][p])
				}
				continue
			}
			intensity := 0.0
			for i := 0; i < nb; i++ {
				intensity += weights[i] * mulBuf[i][p]
			}
			for i := 0; i < nb; i++ {
				mv := mulBuf[i][p]
				switch {
				case isNoData(mv, mul.NoData):
					outBuf[i][p] = noDataOr(outNoData, mv)
				case intensity <= IntensityEpsilon:
					// Zero signal: the ratio is undefined, keep the
					// resampled multispectral value as-is.
					outBuf[i][p] = mv
				default:
					outBuf[i][p] = clampToRange(mv*(pv/intensity), mul.DataType)
				}
			}
		}
		for i := 0; i < nb; i++ {
			if err = outBands[i].Write(0, y, outBuf[i][:n], w, rows); err != nil {
				return fmt.Errorf("write sharpened band %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func noDataOr(nd *float64, fallback float64) float64 {
	if nd != nil {
		return *nd
	}
	return fallback
}

func normalizeWeights(weights []float64, bands int) (out []float64, err error) {
	if bands <= 0 {
		err = fmt.Errorf("%w: multispectral raster has no bands", ErrInvalidTif)
		return
	}
	if len(weights) == 0 {
		out = make([]float64, bands)
		for i := range out {
			out[i] = 1 / float64(bands)
		}
		return
	}
	if len(weights) != bands {
		err = fmt.Errorf("%w: %d weights for %d bands", ErrBandWeights, len(weights), bands)
		return
	}
	sum := 0.0
	for _, v := range weights {
		if v < 0 {
			err = fmt.Errorf("%w: negative weight", ErrBandWeights)
			return
		}
		sum += v
	}
	if sum <= 0 {
		err = fmt.Errorf("%w: weights sum to zero", ErrBandWeights)
		return
	}
	out = make([]float64, bands)
	for i, v := range weights {
		out[i] = v / sum
	}
	return
}
