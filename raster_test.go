package wfsai

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	gdal "github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSrid = 32620

var testGeoTransform = [6]float64{500000, 0.5, 0, 4000000, 0, -0.5}

// newTestRaster builds a small georeferenced GTiff filled per band/pixel by
// fill and returns its handle.
func newTestRaster(t *testing.T, path string, xSize, ySize, bands int,
	dt gdal.DataType, noData *float64, fill func(b, x, y int) float64) RasterHandle {
	t.Helper()
	ds, err := gdal.Create(gdal.GTiff, path, bands, dt, xSize, ySize)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(testGeoTransform))
	sr, err := gdal.NewSpatialRefFromEPSG(testSrid)
	require.NoError(t, err)
	require.NoError(t, ds.SetSpatialRef(sr))
	sr.Close()
	buf := make([]float64, xSize*ySize)
	for bi, b := range ds.Bands() {
		if noData != nil {
			require.NoError(t, b.SetNoData(*noData))
		}
		for y := 0; y < ySize; y++ {
			for x := 0; x < xSize; x++ {
				buf[y*xSize+x] = fill(bi, x, y)
			}
		}
		require.NoError(t, b.Write(0, 0, buf, xSize, ySize))
	}
	require.NoError(t, ds.Close())

	h, err := NewToolbox(t.TempDir()).OpenRaster(path)
	require.NoError(t, err)
	return h
}

// readTestBand reads one full band (1-based index) back as float64 pixels.
func readTestBand(t *testing.T, path string, band int) []float64 {
	t.Helper()
	ds, err := gdal.Open(path, gdal.RasterOnly())
	require.NoError(t, err)
	defer ds.Close()
	st := ds.Structure()
	buf := make([]float64, st.SizeX*st.SizeY)
	require.NoError(t, ds.Bands()[band-1].Read(0, 0, buf, st.SizeX, st.SizeY))
	return buf
}

func TestOpenRaster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.tif")
	h := newTestRaster(t, path, 32, 16, 3, gdal.UInt16, nil, func(b, x, y int) float64 {
		return float64(b + 1)
	})
	assert.Equal(t, path, h.Path)
	assert.Equal(t, "GTiff", h.Driver)
	assert.Equal(t, 32, h.XSize)
	assert.Equal(t, 16, h.YSize)
	assert.Equal(t, 3, h.Bands)
	assert.Equal(t, gdal.UInt16, h.DataType)
	assert.Equal(t, testGeoTransform, h.GeoTransform)
	assert.Nil(t, h.NoData)
	assert.Equal(t, PixelSize{X: 0.5, Y: 0.5}, h.PixelSize())

	span := h.Bounds()
	assert.Equal(t, [4]float64{500000, 500016, 3999992, 4000000}, span)
}

func TestOpenRasterMissing(t *testing.T) {
	tb := NewToolbox(t.TempDir())
	_, err := tb.OpenRaster(filepath.Join(t.TempDir(), "nope.tif"))
	assert.ErrorIs(t, err, ErrInvalidTif)
}

func TestOpenRasterNoData(t *testing.T) {
	nd := 9.0
	h := newTestRaster(t, filepath.Join(t.TempDir(), "nd.tif"), 4, 4, 1,
		gdal.Byte, &nd, func(b, x, y int) float64 { return 1 })
	require.NotNil(t, h.NoData)
	assert.Equal(t, nd, *h.NoData)
}

func TestResolveNoData(t *testing.T) {
	zero := 0.0
	neg := -32768.0
	frac := 0.5

	// representable source sentinels survive
	assert.Equal(t, 0.0, resolveNoData(gdal.Byte, &zero))
	assert.Equal(t, neg, resolveNoData(gdal.Int16, &neg))

	// unrepresentable in the output type
	assert.Equal(t, 0.0, resolveNoData(gdal.Byte, &neg))
	assert.Equal(t, 0.0, resolveNoData(gdal.UInt16, &frac))

	// fractional sentinels are fine on float outputs
	lowFrac := -9999.5
	assert.Equal(t, lowFrac, resolveNoData(gdal.Float32, &lowFrac))
	assert.Equal(t, frac, resolveNoData(gdal.Float64, &frac))

	// float outputs default to NaN
	assert.True(t, math.IsNaN(resolveNoData(gdal.Float32, nil)))
	assert.True(t, math.IsNaN(resolveNoData(gdal.Float64, nil)))
	assert.Equal(t, 0.0, resolveNoData(gdal.UInt16, nil))
}

func TestClampToRange(t *testing.T) {
	assert.Equal(t, 255.0, clampToRange(300, gdal.Byte))
	assert.Equal(t, 0.0, clampToRange(-3, gdal.Byte))
	assert.Equal(t, 42.0, clampToRange(42, gdal.Byte))
	assert.Equal(t, 65535.0, clampToRange(1e9, gdal.UInt16))
	assert.Equal(t, 1e300, clampToRange(1e300, gdal.Float64))
}

func TestIsNoData(t *testing.T) {
	nan := math.NaN()
	zero := 0.0
	assert.False(t, isNoData(0, nil))
	assert.True(t, isNoData(0, &zero))
	assert.False(t, isNoData(1, &zero))
	assert.True(t, isNoData(math.NaN(), &nan))
	assert.False(t, isNoData(1, &nan))
}

func TestFinishOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "final.tif")
	tmp := tmpOutputPath(out)
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0o644))
	require.NoError(t, finishOutput(tmp, out))
	_, err := os.Stat(out)
	assert.NoError(t, err)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}
