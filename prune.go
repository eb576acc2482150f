package wfsai

import (
	"strings"

	"github.com/matsco/wfsai/log"

	"github.com/lukeroth/gdal"
	"go.uber.org/zap"
)

// PruneLines cleans an AOI shapefile of zero-area line artifacts: each
// polygon is eroded by erodeDist, then dilated back by the same distance.
// Slivers thinner than twice the erode distance collapse and disappear,
// while solid shapes come back at approximately their original extent.
// Multipolygon round-trip results are split into separate features, and any
// part with area at or below maxCullArea is dropped. The Location attribute
// is carried through.
//
// When output is omitted the result lands alongside the source with a
// "_prunelines" suffix. Returns the output shapefile path.
func (t *Toolbox) PruneLines(path string, erodeDist, maxCullArea float64, output ...string) (out string, err error) {
	log.Info(t.logTag+"start prunelines", zap.String("shp", path),
		zap.Float64("erodeDist", erodeDist), zap.Float64("maxCullArea", maxCullArea))
	shp, utf8, err := t.resolveShpInput(path)
	if err != nil {
		return
	}
	feats, srid, err := t.readAoiFeatures(shp, utf8)
	if err != nil {
		return
	}
	ref, err := t.getSridRef(srid)
	if err != nil {
		return
	}
	var (
		pruned = make([]AoiFeature, 0, len(feats))
		geo    gdal.Geometry
		e      error
		gc     []destroyable
	)
	defer func() {
		for _, v := range gc {
			v.Destroy()
		}
	}()
	for _, v := range feats {
		if geo, e = t.parseWKB(v.Geom, ref); e != nil {
			continue
		}
		gc = append(gc, geo)
		eroded := geo.Buffer(-erodeDist, PruneQuadSegs)
		gc = append(gc, eroded)
		restored := eroded.Buffer(erodeDist, PruneQuadSegs)
		gc = append(gc, restored)
		pruned = appendPrunedParts(pruned, restored, v.Location, maxCullArea)
	}
	if len(output) > 0 && output[0] != "" {
		out = output[0]
	} else {
		out = strings.TrimSuffix(shp, FILE_EXT_SHP) + PRUNE_SUFFIX + FILE_EXT_SHP
	}
	if err = t.WriteAoiShapefile(out, srid, pruned...); err != nil {
		return
	}
	log.Info(t.logTag+"prunelines done", zap.String("out", out),
		zap.Int("in", len(feats)), zap.Int("kept", len(pruned)))
	return
}

// appendPrunedParts splits a round-trip buffer result into single polygons
// and keeps those above the cull threshold.
func appendPrunedParts(dst []AoiFeature, geo gdal.Geometry, location string, maxCullArea float64) []AoiFeature {
	if geo.IsEmpty() {
		return dst
	}
	var parts []gdal.Geometry
	switch geo.Type() {
	case gdal.GT_Polygon:
		parts = []gdal.Geometry{geo}
	case gdal.GT_MultiPolygon:
		parts = make([]gdal.Geometry, geo.GeometryCount())
		for i := range parts {
			parts[i] = geo.Geometry(i)
		}
	default:
		return dst
	}
	for _, p := range parts {
		if p.Area() <= maxCullArea {
			continue
		}
		wkb, e := p.ToWKB()
		if e != nil {
			continue
		}
		dst = append(dst, AoiFeature{Location: location, Geom: wkb})
	}
	return dst
}
