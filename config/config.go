// Package config holds the YAML workflow configuration of the processing
// pipeline: which scenes to process, the per-stage parameters, and the
// datastore layout of the pipeline directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"sigs.k8s.io/yaml"
)

const (
	FileExtYaml = ".yaml"

	// Pipeline element names, matched against the elements list.
	ElementOrtho   = "ortho"
	ElementSharpen = "pansharpen"
	ElementMask    = "mask"
	ElementTile    = "tile"
)

var (
	ErrNotYaml   = errors.New("config file must be an existing .yaml file")
	ErrNoScenes  = errors.New("config lists no scenes")
	ErrSceneSpec = errors.New("scene needs a name and pan/mul inputs")
)

// Config is the full workflow configuration.
type Config struct {
	TmpDir      string `json:"tmp_dir"`
	OutputDir   string `json:"output_dir"`
	Concurrency int    `json:"concurrency"`
	TargetSrid  int    `json:"target_srid"`

	Ortho   OrthoConfig   `json:"ortho"`
	Sharpen SharpenConfig `json:"sharpen"`
	Mask    MaskConfig    `json:"mask"`
	Tile    TileConfig    `json:"tile"`

	PipelineElements PipelineElements `json:"pipeline_elements"`
	Datastores       []Datastore      `json:"datastores"`
	Scenes           []Scene          `json:"scenes"`
}

// Scene is one acquisition to push through the pipeline. Mask is optional;
// a scene without one skips the masking stage.
type Scene struct {
	Name string `json:"name"`
	Pan  string `json:"pan"`
	Mul  string `json:"mul"`
	Mask string `json:"mask,omitempty"`
}

type OrthoConfig struct {
	Dem          string   `json:"dem,omitempty"`
	Resampling   string   `json:"resampling,omitempty"`
	PanPixelSize float64  `json:"pan_pixel_size,omitempty"`
	MulPixelSize float64  `json:"mul_pixel_size,omitempty"`
	SrcNoData    *float64 `json:"src_nodata,omitempty"`
	DstNoData    *float64 `json:"dst_nodata,omitempty"`
}

type SharpenConfig struct {
	Weights    []float64 `json:"weights,omitempty"`
	Resampling string    `json:"resampling,omitempty"`
}

type MaskConfig struct {
	Dilation   float64  `json:"dilation,omitempty"`
	AllTouched bool     `json:"all_touched,omitempty"`
	Sentinel   *float64 `json:"sentinel,omitempty"`
}

type TileConfig struct {
	Bands int `json:"bands"`
	YSize int `json:"y_size"`
	XSize int `json:"x_size"`
}

// PipelineElements gates individual stages. An element is disabled only by
// an explicit enabled: false entry naming it; everything else runs.
type PipelineElements struct {
	Elements []Element `json:"elements,omitempty"`
}

type Element struct {
	Script  string `json:"script"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// ElementEnabled reports whether the named pipeline element should run.
func (c *Config) ElementEnabled(name string) bool {
	for _, e := range c.PipelineElements.Elements {
		if e.Script == name && e.Enabled != nil && !*e.Enabled {
			return false
		}
	}
	return true
}

// Datastore maps a local directory of the pipeline tree to either a plain
// directory or a symlink into remote storage.
type Datastore struct {
	LocalDir  string `json:"local_dir"`
	RemoteDir string `json:"remote_dir,omitempty"`
	Symbolic  bool   `json:"symbolic,omitempty"`
}

// checkPath verifies the path names an existing non-directory yaml file.
func checkPath(path string) bool {
	if filepath.Ext(path) != FileExtYaml {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// Load reads and validates a workflow configuration.
func Load(path string) (c *Config, err error) {
	if !checkPath(path) {
		err = ErrNotYaml
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	c = &Config{}
	if err = yaml.Unmarshal(raw, c); err != nil {
		c = nil
		return
	}
	err = c.normalize()
	return
}

func (c *Config) normalize() error {
	if c.TmpDir == "" {
		c.TmpDir = os.TempDir()
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if len(c.Scenes) == 0 {
		return ErrNoScenes
	}
	for _, s := range c.Scenes {
		if s.Name == "" || s.Pan == "" || s.Mul == "" {
			return fmt.Errorf("%w: %+v", ErrSceneSpec, s)
		}
	}
	return nil
}

// Display renders the loaded configuration back as YAML.
func Display(path string, w io.Writer) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// SetupDatastores prepares the datastore directories under root: plain
// entries become directories, symbolic entries become links into their
// remote directory.
func SetupDatastores(root string, stores []Datastore) error {
	for _, ds := range stores {
		if ds.LocalDir == "" {
			continue
		}
		local := filepath.Join(root, ds.LocalDir)
		if ds.RemoteDir == "" {
			if err := os.MkdirAll(local, os.ModePerm); err != nil {
				return err
			}
			continue
		}
		if !ds.Symbolic {
			continue
		}
		if _, err := os.Lstat(local); err == nil {
			continue
		}
		if err := os.Symlink(ds.RemoteDir, local); err != nil {
			return err
		}
	}
	return nil
}
