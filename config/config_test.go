package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYaml = `
tmp_dir: /tmp/wfsai
output_dir: /data/out
concurrency: 2
target_srid: 32620
ortho:
  dem: /data/dem.tif
  resampling: bilinear
  pan_pixel_size: 0.5
  mul_pixel_size: 2.0
sharpen:
  weights: [1, 1, 1, 2]
mask:
  dilation: 5
tile:
  bands: 3
  y_size: 512
  x_size: 512
pipeline_elements:
  elements:
    - script: mask
      enabled: false
    - script: tile
      enabled: true
datastores:
  - local_dir: chips
  - local_dir: archive
    remote_dir: /mnt/remote/archive
    symbolic: true
scenes:
  - name: scene-a
    pan: /data/a_pan.tif
    mul: /data/a_mul.tif
    mask: /data/a_aoi.zip
  - name: scene-b
    pan: /data/b_pan.tif
    mul: /data/b_mul.tif
`

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, sampleYaml))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wfsai", c.TmpDir)
	assert.Equal(t, 2, c.Concurrency)
	assert.Equal(t, 32620, c.TargetSrid)
	assert.Equal(t, "/data/dem.tif", c.Ortho.Dem)
	assert.Equal(t, []float64{1, 1, 1, 2}, c.Sharpen.Weights)
	assert.Equal(t, 5.0, c.Mask.Dilation)
	assert.Equal(t, 512, c.Tile.YSize)
	require.Len(t, c.Scenes, 2)
	assert.Equal(t, "/data/a_aoi.zip", c.Scenes[0].Mask)
	assert.Empty(t, c.Scenes[1].Mask)
}

func TestLoadRejectsNonYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNotYaml)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrNotYaml)
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, `
scenes:
  - name: s
    pan: p.tif
    mul: m.tif
`))
	require.NoError(t, err)
	assert.Equal(t, os.TempDir(), c.TmpDir)
	assert.Equal(t, ".", c.OutputDir)
	assert.Equal(t, runtime.NumCPU(), c.Concurrency)
}

func TestLoadNoScenes(t *testing.T) {
	_, err := Load(writeConfig(t, "tmp_dir: /tmp\n"))
	assert.ErrorIs(t, err, ErrNoScenes)
}

func TestLoadBadScene(t *testing.T) {
	_, err := Load(writeConfig(t, `
scenes:
  - name: s
    pan: p.tif
`))
	assert.ErrorIs(t, err, ErrSceneSpec)
}

func TestElementEnabled(t *testing.T) {
	c, err := Load(writeConfig(t, sampleYaml))
	require.NoError(t, err)
	assert.False(t, c.ElementEnabled(ElementMask))
	assert.True(t, c.ElementEnabled(ElementTile))
	// unlisted elements default to enabled
	assert.True(t, c.ElementEnabled(ElementOrtho))
	assert.True(t, c.ElementEnabled("no-such-element"))
}

func TestDisplay(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Display(writeConfig(t, sampleYaml), &buf))
	out := buf.String()
	assert.Contains(t, out, "scene-a")
	assert.Contains(t, out, "target_srid: 32620")
}

func TestSetupDatastores(t *testing.T) {
	root := t.TempDir()
	remote := t.TempDir()
	stores := []Datastore{
		{LocalDir: "chips"},
		{LocalDir: "archive", RemoteDir: remote, Symbolic: true},
		{LocalDir: ""},
	}
	require.NoError(t, SetupDatastores(root, stores))

	fi, err := os.Stat(filepath.Join(root, "chips"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	target, err := os.Readlink(filepath.Join(root, "archive"))
	require.NoError(t, err)
	assert.Equal(t, remote, target)

	// re-running over existing dirs and links is a no-op
	assert.NoError(t, SetupDatastores(root, stores))
}
