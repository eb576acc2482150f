// Package pipeline drives whole scenes through the processing stages:
// rectification of the pan and multispectral halves, pan-sharpening,
// optional AOI masking and tiling, with a results manifest at the end.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	wfsai "github.com/matsco/wfsai"
	"github.com/matsco/wfsai/config"
	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

const (
	manifestName = "results.yaml"
	tileSubDir   = "tiles"
)

// Processor is the imagery stage surface the runner drives. *wfsai.Toolbox
// satisfies it.
type Processor interface {
	OpenRaster(tif string) (wfsai.RasterHandle, error)
	Rectify(src string, typ wfsai.BandSource, opt wfsai.OrthoOptions) (wfsai.RasterHandle, error)
	Sharpen(pan, mul wfsai.RasterHandle, opt wfsai.SharpenOptions) (wfsai.RasterHandle, error)
	LoadMaskGeometry(path string, dilation float64) (wfsai.MaskGeometry, error)
	ApplyMask(r wfsai.RasterHandle, m wfsai.MaskGeometry, opt wfsai.MaskOptions) (wfsai.RasterHandle, error)
	TileRaster(r wfsai.RasterHandle, spec wfsai.ChunkSpec, outDir string, opts ...wfsai.TileOptions) ([]wfsai.Tile, error)
}

// Runner executes the configured scenes with a bounded worker pool. Scene
// failures are isolated: one bad scene is recorded and its siblings keep
// going.
type Runner struct {
	proc   Processor
	cfg    *config.Config
	logTag string
}

// SceneResult is the manifest entry of one scene.
type SceneResult struct {
	Scene   string   `json:"scene"`
	Final   string   `json:"final,omitempty"`
	Tiles   []string `json:"tiles,omitempty"`
	Error   string   `json:"error,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

// Results is the full run manifest, written as results.yaml in the output
// directory.
type Results struct {
	RunTag string        `json:"run_tag"`
	Scenes []SceneResult `json:"scenes"`
	Failed int           `json:"failed"`
}

func New(proc Processor, cfg *config.Config) *Runner {
	return &Runner{
		proc:   proc,
		cfg:    cfg,
		logTag: "Runner:",
	}
}

// Run processes every configured scene and writes the results manifest.
// The returned Results always covers all scenes; the error reports manifest
// write failure or context cancellation, not per-scene failures.
func (r *Runner) Run(ctx context.Context) (res Results, err error) {
	res.RunTag = utils.GetNowTimeTag()
	res.Scenes = make([]SceneResult, len(r.cfg.Scenes))
	workers := r.cfg.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(r.cfg.Scenes) {
		workers = len(r.cfg.Scenes)
	}
	log.Info(r.logTag+"run starting", zap.String("runTag", res.RunTag),
		zap.Int("scenes", len(r.cfg.Scenes)), zap.Int("workers", workers))

	var (
		wg   sync.WaitGroup
		jobs = make(chan int)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res.Scenes[i] = r.runScene(ctx, r.cfg.Scenes[i])
			}
		}()
	}
feed:
	for i := range r.cfg.Scenes {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := range res.Scenes {
		if res.Scenes[i].Scene == "" {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = context.Canceled
			}
			res.Scenes[i] = SceneResult{Scene: r.cfg.Scenes[i].Name, Error: cause.Error()}
		}
		if res.Scenes[i].Error != "" {
			res.Failed++
		}
	}
	if err = r.writeManifest(res); err != nil {
		return
	}
	err = ctx.Err()
	log.Info(r.logTag+"run finished", zap.String("runTag", res.RunTag),
		zap.Int("failed", res.Failed))
	return
}

// runScene walks one scene through the enabled stages. Disabled upstream
// stages fall back to the raw inputs so downstream ones can still run.
func (r *Runner) runScene(ctx context.Context, sc config.Scene) (res SceneResult) {
	res.Scene = sc.Name
	log.Info(r.logTag+"scene starting", zap.String("scene", sc.Name))
	outDir := filepath.Join(r.cfg.OutputDir, sc.Name)
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		res.Error = err.Error()
		return
	}
	fail := func(stage string, err error) SceneResult {
		log.Error(r.logTag+"scene failed", zap.String("scene", sc.Name),
			zap.String("stage", stage), zap.Error(err))
		res.Error = fmt.Sprintf("%s: %v", stage, err)
		return res
	}

	var (
		pan, mul wfsai.RasterHandle
		err      error
	)
	if r.cfg.ElementEnabled(config.ElementOrtho) {
		if err = ctx.Err(); err != nil {
			return fail(config.ElementOrtho, err)
		}
		if pan, err = r.proc.Rectify(sc.Pan, wfsai.SourcePan, r.orthoOptions(wfsai.SourcePan, sc, outDir)); err != nil {
			return fail(config.ElementOrtho, err)
		}
		if mul, err = r.proc.Rectify(sc.Mul, wfsai.SourceMul, r.orthoOptions(wfsai.SourceMul, sc, outDir)); err != nil {
			return fail(config.ElementOrtho, err)
		}
	} else {
		res.Skipped = append(res.Skipped, config.ElementOrtho)
		if pan, err = r.proc.OpenRaster(sc.Pan); err != nil {
			return fail(config.ElementOrtho, err)
		}
		if mul, err = r.proc.OpenRaster(sc.Mul); err != nil {
			return fail(config.ElementOrtho, err)
		}
	}

	working := mul
	if r.cfg.ElementEnabled(config.ElementSharpen) {
		if err = ctx.Err(); err != nil {
			return fail(config.ElementSharpen, err)
		}
		opt := wfsai.SharpenOptions{
			Weights:    r.cfg.Sharpen.Weights,
			Resampling: r.cfg.Sharpen.Resampling,
			Output:     filepath.Join(outDir, sc.Name+"_pansharp"+wfsai.FILE_EXT_TIF),
		}
		if working, err = r.proc.Sharpen(pan, mul, opt); err != nil {
			return fail(config.ElementSharpen, err)
		}
	} else {
		res.Skipped = append(res.Skipped, config.ElementSharpen)
	}

	if sc.Mask != "" && r.cfg.ElementEnabled(config.ElementMask) {
		if err = ctx.Err(); err != nil {
			return fail(config.ElementMask, err)
		}
		var m wfsai.MaskGeometry
		if m, err = r.proc.LoadMaskGeometry(sc.Mask, r.cfg.Mask.Dilation); err != nil {
			return fail(config.ElementMask, err)
		}
		opt := wfsai.MaskOptions{
			Sentinel:   r.cfg.Mask.Sentinel,
			AllTouched: r.cfg.Mask.AllTouched,
			Output:     filepath.Join(outDir, sc.Name+"_masked"+wfsai.FILE_EXT_TIF),
		}
		if working, err = r.proc.ApplyMask(working, m, opt); err != nil {
			return fail(config.ElementMask, err)
		}
	} else if sc.Mask != "" {
		res.Skipped = append(res.Skipped, config.ElementMask)
	}
	res.Final = working.Path

	if r.cfg.ElementEnabled(config.ElementTile) {
		if err = ctx.Err(); err != nil {
			return fail(config.ElementTile, err)
		}
		spec := wfsai.ChunkSpec{
			Bands: r.cfg.Tile.Bands,
			YSize: r.cfg.Tile.YSize,
			XSize: r.cfg.Tile.XSize,
		}
		if spec.Bands == 0 {
			spec.Bands = working.Bands
		}
		var tiles []wfsai.Tile
		if tiles, err = r.proc.TileRaster(working, spec, filepath.Join(outDir, tileSubDir)); err != nil {
			return fail(config.ElementTile, err)
		}
		res.Tiles = make([]string, len(tiles))
		for i, tl := range tiles {
			res.Tiles[i] = tl.Path
		}
	} else {
		res.Skipped = append(res.Skipped, config.ElementTile)
	}
	log.Info(r.logTag+"scene done", zap.String("scene", sc.Name),
		zap.String("final", res.Final), zap.Int("tiles", len(res.Tiles)))
	return
}

func (r *Runner) orthoOptions(typ wfsai.BandSource, sc config.Scene, outDir string) wfsai.OrthoOptions {
	opt := wfsai.OrthoOptions{
		DEM:        r.cfg.Ortho.Dem,
		TargetSRID: r.cfg.TargetSrid,
		Resampling: r.cfg.Ortho.Resampling,
		SrcNoData:  r.cfg.Ortho.SrcNoData,
		DstNoData:  r.cfg.Ortho.DstNoData,
		Output:     filepath.Join(outDir, fmt.Sprintf("%s_%s_ortho%s", sc.Name, typ, wfsai.FILE_EXT_TIF)),
	}
	size := r.cfg.Ortho.PanPixelSize
	if typ == wfsai.SourceMul {
		size = r.cfg.Ortho.MulPixelSize
	}
	if size > 0 {
		opt.PixelSize = &wfsai.PixelSize{X: size, Y: size}
	}
	return opt
}

func (r *Runner) writeManifest(res Results) error {
	raw, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.cfg.OutputDir, manifestName), raw, 0o644)
}
