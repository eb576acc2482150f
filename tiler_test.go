package wfsai

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	gdal "github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileGrid(t *testing.T) {
	spec := ChunkSpec{Bands: 1, YSize: 200, XSize: 200}
	tiles := TileGrid(spec, 450, 450)
	require.Len(t, tiles, 9)

	// row-major order
	assert.Equal(t, 0, tiles[0].Row)
	assert.Equal(t, 0, tiles[0].Col)
	assert.Equal(t, 0, tiles[1].Row)
	assert.Equal(t, 1, tiles[1].Col)
	assert.Equal(t, 1, tiles[3].Row)

	// interior tiles are full size
	assert.Equal(t, 200, tiles[0].XSize)
	assert.Equal(t, 200, tiles[0].YSize)

	// edge tiles keep the unpadded remainder
	last := tiles[8]
	assert.Equal(t, 2, last.Row)
	assert.Equal(t, 2, last.Col)
	assert.Equal(t, 400, last.XOff)
	assert.Equal(t, 400, last.YOff)
	assert.Equal(t, 50, last.XSize)
	assert.Equal(t, 50, last.YSize)
}

func TestTileGridExactFit(t *testing.T) {
	tiles := TileGrid(ChunkSpec{Bands: 1, YSize: 100, XSize: 100}, 200, 100)
	require.Len(t, tiles, 2)
	for _, tl := range tiles {
		assert.Equal(t, 100, tl.XSize)
		assert.Equal(t, 100, tl.YSize)
	}
}

func TestTileRaster(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene.tif")
	h := newTestRaster(t, src, 450, 450, 3, gdal.UInt16, nil, func(b, x, y int) float64 {
		return float64(b*1000 + x + y)
	})
	tb := NewToolbox(dir)
	outDir := filepath.Join(dir, "tiles")
	spec := ChunkSpec{Bands: 1, YSize: 200, XSize: 200}

	tiles, err := tb.TileRaster(h, spec, outDir)
	require.NoError(t, err)
	require.Len(t, tiles, 9)

	for _, tl := range tiles {
		th, err := tb.OpenRaster(tl.Path)
		require.NoError(t, err)
		assert.Equal(t, tl.XSize, th.XSize)
		assert.Equal(t, tl.YSize, th.YSize)
		assert.Equal(t, 1, th.Bands)
		// tile origin shifted by its pixel offset
		assert.InDelta(t, h.GeoTransform[0]+float64(tl.XOff)*h.GeoTransform[1], th.GeoTransform[0], 1e-6)
		assert.InDelta(t, h.GeoTransform[3]+float64(tl.YOff)*h.GeoTransform[5], th.GeoTransform[3], 1e-6)
	}
	assert.Equal(t, "scene_r002_c002.tif", filepath.Base(tiles[8].Path))

	// pixel content of the edge tile matches the source window
	edge := readTestBand(t, tiles[8].Path, 1)
	require.Len(t, edge, 50*50)
	assert.Equal(t, float64(400+400), edge[0])
	assert.Equal(t, float64(449+449), edge[len(edge)-1])
}

func TestTileRasterDeterministic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene.tif")
	h := newTestRaster(t, src, 120, 90, 2, gdal.Byte, nil, func(b, x, y int) float64 {
		return float64((b + x + y) % 251)
	})
	tb := NewToolbox(dir)
	outDir := filepath.Join(dir, "tiles")
	spec := ChunkSpec{Bands: 2, YSize: 64, XSize: 64}

	first, err := tb.TileRaster(h, spec, outDir)
	require.NoError(t, err)
	sums := map[string][32]byte{}
	for _, tl := range first {
		raw, err := os.ReadFile(tl.Path)
		require.NoError(t, err)
		sums[tl.Path] = sha256.Sum256(raw)
	}

	second, err := tb.TileRaster(h, spec, outDir)
	require.NoError(t, err)
	require.Equal(t, first, second)
	for _, tl := range second {
		raw, err := os.ReadFile(tl.Path)
		require.NoError(t, err)
		assert.Equal(t, sums[tl.Path], sha256.Sum256(raw), tl.Path)
	}
}

func TestTileRasterUnreadableSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene.tif")
	h := newTestRaster(t, src, 40, 40, 2, gdal.Byte, nil,
		func(b, x, y int) float64 { return 1 })
	require.NoError(t, os.Remove(src))
	tb := NewToolbox(dir)

	// Every worker fails to open the source; the call must still return
	// instead of wedging on its job feed.
	done := make(chan struct{})
	var (
		tiles []Tile
		err   error
	)
	go func() {
		defer close(done)
		tiles, err = tb.TileRaster(h, ChunkSpec{Bands: 1, YSize: 16, XSize: 16}, filepath.Join(dir, "out"))
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("TileRaster did not return on unreadable source")
	}
	assert.ErrorIs(t, err, ErrInvalidTif)
	assert.Nil(t, tiles)
}

func TestTileRasterBadSpec(t *testing.T) {
	dir := t.TempDir()
	h := newTestRaster(t, filepath.Join(dir, "s.tif"), 10, 10, 2, gdal.Byte, nil,
		func(b, x, y int) float64 { return 0 })
	tb := NewToolbox(dir)
	_, err := tb.TileRaster(h, ChunkSpec{Bands: 3, YSize: 5, XSize: 5}, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrChunkSpec)
	_, err = tb.TileRaster(h, ChunkSpec{Bands: 1, YSize: 0, XSize: 5}, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrChunkSpec)
}
