package wfsai

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A solid square must survive the erode/dilate round trip while a sliver
// thinner than twice the erode distance collapses and is dropped.
func TestPruneLinesDropsSlivers(t *testing.T) {
	dir := t.TempDir()
	tb := NewToolbox(dir)
	shp := filepath.Join(dir, "aoi.shp")
	writeTestAoi(t, tb, shp,
		AoiFeature{Location: "solid", Geom: polyWkb(t, tb, testSrid, [4]float64{0, 10, 0, 10})},
		AoiFeature{Location: "sliver", Geom: polyWkb(t, tb, testSrid, [4]float64{20, 40, 0, 0.5})},
	)

	out, err := tb.PruneLines(shp, DefaultErodeDistance, 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "aoi"+PRUNE_SUFFIX+FILE_EXT_SHP), out)

	feats, srid, err := tb.readAoiFeatures(out, true)
	require.NoError(t, err)
	assert.Equal(t, testSrid, srid)
	require.Len(t, feats, 1)
	assert.Equal(t, "solid", feats[0].Location)

	// restored area stays close to the original 100 square units
	ref, err := tb.getSridRef(srid)
	require.NoError(t, err)
	geo, err := tb.parseWKB(feats[0].Geom, ref)
	require.NoError(t, err)
	defer geo.Destroy()
	assert.InDelta(t, 100, geo.Area(), 1.0)
}

func TestPruneLinesCullsSmallAreas(t *testing.T) {
	dir := t.TempDir()
	tb := NewToolbox(dir)
	shp := filepath.Join(dir, "aoi.shp")
	writeTestAoi(t, tb, shp,
		AoiFeature{Location: "big", Geom: polyWkb(t, tb, testSrid, [4]float64{0, 10, 0, 10})},
		AoiFeature{Location: "small", Geom: polyWkb(t, tb, testSrid, [4]float64{20, 24, 0, 4})},
	)

	out, err := tb.PruneLines(shp, 0.5, 20)
	require.NoError(t, err)
	feats, _, err := tb.readAoiFeatures(out, true)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "big", feats[0].Location)
}

func TestPruneLinesExplicitOutput(t *testing.T) {
	dir := t.TempDir()
	tb := NewToolbox(dir)
	shp := filepath.Join(dir, "aoi.shp")
	writeTestAoi(t, tb, shp,
		AoiFeature{Location: "solid", Geom: polyWkb(t, tb, testSrid, [4]float64{0, 10, 0, 10})})

	want := filepath.Join(dir, "cleaned.shp")
	out, err := tb.PruneLines(shp, DefaultErodeDistance, 0, want)
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestPruneLinesMissingLocationField(t *testing.T) {
	dir := t.TempDir()
	tb := NewToolbox(dir)
	// a mask-style shapefile without attributes
	shp := filepath.Join(dir, "plain.shp")
	ds, _, layer, err := tb.getShpDriver(shp, testSrid)
	require.NoError(t, err)
	ref, err := tb.getSridRef(testSrid)
	require.NoError(t, err)
	geo, err := tb.parseWKT(SpanToWkt([4]float64{0, 1, 0, 1}), ref)
	require.NoError(t, err)
	ft := layer.Definition().Create()
	require.NoError(t, ft.SetGeometryDirectly(geo))
	require.NoError(t, layer.Create(ft))
	ft.Destroy()
	ds.Destroy()

	_, err = tb.PruneLines(shp, DefaultErodeDistance, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), SHP_FIELD_LOCATION)
}
