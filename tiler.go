package wfsai

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"
)

// TileOptions carries the per-call parameters of the tiling stage.
type TileOptions struct {
	// Workers bounds the tile worker pool; defaults to the CPU count.
	Workers int
}

// TileGrid lays out the deterministic tile grid for a raster of the given
// pixel dimensions: row-major windows of the chunk size, with unpadded
// remainders at the right and bottom edges. Paths are not filled in.
func TileGrid(spec ChunkSpec, xSize, ySize int) []Tile {
	rows := ceilDiv(ySize, spec.YSize)
	cols := ceilDiv(xSize, spec.XSize)
	tiles := make([]Tile, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			tl := Tile{
				Row:   row,
				Col:   col,
				XOff:  col * spec.XSize,
				YOff:  row * spec.YSize,
				XSize: spec.XSize,
				YSize: spec.YSize,
			}
			if rest := xSize - tl.XOff; rest < tl.XSize {
				tl.XSize = rest
			}
			if rest := ySize - tl.YOff; rest < tl.YSize {
				tl.YSize = rest
			}
			tiles = append(tiles, tl)
		}
	}
	return tiles
}

// TileRaster partitions the raster into chunk-sized, band-limited windows
// and persists each window as an independent georeferenced file in outDir.
// Re-running with identical inputs regenerates the identical tile set,
// overwriting same-named files.
func (t *Toolbox) TileRaster(r RasterHandle, spec ChunkSpec, outDir string, opts ...TileOptions) (tiles []Tile, err error) {
	if err = spec.Validate(r.Bands); err != nil {
		err = fmt.Errorf("%w: bands=%d y=%d x=%d against %d-band raster",
			ErrChunkSpec, spec.Bands, spec.YSize, spec.XSize, r.Bands)
		return
	}
	if err = os.MkdirAll(outDir, os.ModePerm); err != nil {
		err = fmt.Errorf("output dir: %w", err)
		return
	}
	var opt TileOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	tiles = TileGrid(spec, r.XSize, r.YSize)
	stem := utils.GetFilenameWithoutExt(r.Path)
	for i := range tiles {
		tiles[i].Path = filepath.Join(outDir, fmt.Sprintf(TileNameTemplate, stem, tiles[i].Row, tiles[i].Col))
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(tiles) {
		workers = len(tiles)
	}
	log.Info(t.logTag+"start tiling", zap.String("raster", r.Path),
		zap.Int("tiles", len(tiles)), zap.Int("workers", workers),
		zap.String("outDir", outDir))

	var (
		wg       sync.WaitGroup
		jobs     = make(chan int, len(tiles))
		errOnce  sync.Mutex
		firstErr error
	)
	fail := func(e error) {
		errOnce.Lock()
		if firstErr == nil {
			firstErr = e
		}
		errOnce.Unlock()
	}
	// Queue every tile up front so a worker that bails out early never
	// leaves the feed blocked on an abandoned send.
	for i := range tiles {
		jobs <- i
	}
	close(jobs)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// GDAL dataset handles are not safe to share between
			// goroutines, so each worker opens its own.
			sds, e := gdal.Open(r.Path, gdal.RasterOnly())
			if e != nil {
				fail(fmt.Errorf("%w: %s", ErrInvalidTif, r.Path))
				return
			}
			defer sds.Close()
			for i := range jobs {
				if e = writeTile(sds, r, spec, tiles[i]); e != nil {
					fail(e)
				}
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		err = firstErr
		tiles = nil
		return
	}
	log.Info(t.logTag+"tiling done", zap.Int("tiles", len(tiles)))
	return
}

// writeTile extracts one window into its own file, going through a scratch
// path so the final name only ever holds a complete tile.
func writeTile(sds *Dataset, r RasterHandle, spec ChunkSpec, tl Tile) (err error) {
	switches := []string{
		"-srcwin",
		strconv.Itoa(tl.XOff), strconv.Itoa(tl.YOff),
		strconv.Itoa(tl.XSize), strconv.Itoa(tl.YSize),
		"-co", "COMPRESS=LZW",
	}
	if spec.Bands < r.Bands {
		for b := 1; b <= spec.Bands; b++ {
			switches = append(switches, "-b", strconv.Itoa(b))
		}
	}
	tmp := tmpOutputPath(tl.Path)
	ods, err := sds.Translate(tmp, switches)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("tile r%d c%d: %w", tl.Row, tl.Col, err)
	}
	if err = ods.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("tile r%d c%d: %w", tl.Row, tl.Col, err)
	}
	return finishOutput(tmp, tl.Path)
}
