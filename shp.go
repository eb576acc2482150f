package wfsai

import (
	"fmt"
	"strings"

	"github.com/matsco/wfsai/log"
	"github.com/matsco/wfsai/utils"

	"github.com/lukeroth/gdal"
	"go.uber.org/zap"
)

// resolveShpInput accepts either a bare .shp path or a zipped shapefile
// bundle. Zips are extracted into a unique scratch subdirectory; the utf8
// flag reports whether the sidecar .cpg declares UTF-8 (bare shapefiles are
// assumed UTF-8).
func (t *Toolbox) resolveShpInput(path string) (shp string, utf8 bool, err error) {
	if !strings.HasSuffix(path, FILE_EXT_ZIP) {
		shp, utf8 = path, true
		return
	}
	dir, err := utils.GetUniqSubDir(t.tmpDir)
	if err != nil {
		return
	}
	shp, utf8, err = utils.GetShpInZip(path, dir)
	if err != nil {
		log.Error(t.logTag+"extract shp from zip failed", zap.String("zip", path), zap.Error(err))
	}
	return
}

// collectPolygons splits a feature geometry into bare polygon WKBs.
// Multipolygons contribute one entry per part; other geometry types are
// skipped.
func collectPolygons(geo gdal.Geometry, out []GdalGeo) []GdalGeo {
	switch geo.Type() {
	case gdal.GT_Polygon:
		if wkb, e := geo.ToWKB(); e == nil {
			out = append(out, wkb)
		}
	case gdal.GT_MultiPolygon:
		for i, n := 0, geo.GeometryCount(); i < n; i++ {
			if wkb, e := geo.Geometry(i).ToWKB(); e == nil {
				out = append(out, wkb)
			}
		}
	}
	return out
}

// LoadMaskGeometry reads the polygons of an area-of-interest shapefile (or
// zipped bundle) in their native spatial reference, to be applied as a
// raster mask with the given dilation distance.
func (t *Toolbox) LoadMaskGeometry(path string, dilation float64) (m MaskGeometry, err error) {
	log.Info(t.logTag+"start loading mask geometry", zap.String("path", path))
	shp, _, err := t.resolveShpInput(path)
	if err != nil {
		return
	}
	driver := gdal.OGRDriverByName(SHP_DRIVER_NAME)
	ds, ok := driver.Open(shp, 0)
	if !ok {
		err = ErrGdalDriverOpen
		return
	}
	defer ds.Destroy()
	layer := ds.LayerByIndex(0)
	if m.Srid, err = t.getSrid(layer.SpatialReference()); err != nil {
		return
	}
	var (
		feature *gdal.Feature
		gc      []destroyable
	)
	defer func() {
		for _, v := range gc {
			v.Destroy()
		}
	}()
	for {
		if feature = layer.NextFeature(); feature == nil {
			break
		}
		gc = append(gc, *feature)
		m.Polygons = collectPolygons(feature.Geometry(), m.Polygons)
	}
	if len(m.Polygons) == 0 {
		err = ErrGdalEmptyShp
		return
	}
	m.Dilation = dilation
	log.Info(t.logTag+"mask geometry loaded", zap.String("shp", shp),
		zap.Int("polygons", len(m.Polygons)), zap.Int("srid", m.Srid))
	return
}

// readAoiFeatures loads every feature of an AOI shapefile with its Location
// attribute. Attribute text is decoded from GBK unless the bundle declared
// UTF-8.
func (t *Toolbox) readAoiFeatures(shp string, utf8 bool) (feats []AoiFeature, srid int, err error) {
	driver := gdal.OGRDriverByName(SHP_DRIVER_NAME)
	ds, ok := driver.Open(shp, 0)
	if !ok {
		err = ErrGdalDriverOpen
		return
	}
	defer ds.Destroy()
	layer := ds.LayerByIndex(0)
	if srid, err = t.getSrid(layer.SpatialReference()); err != nil {
		return
	}
	locIdx := layer.Definition().FieldIndex(SHP_FIELD_LOCATION)
	if locIdx < 0 {
		err = fmt.Errorf(ErrColumnMissingTemplate, SHP_FIELD_LOCATION)
		return
	}
	var (
		feature *gdal.Feature
		loc     string
		wkb     []byte
		e       error
		gc      []destroyable
	)
	defer func() {
		for _, v := range gc {
			v.Destroy()
		}
	}()
	for {
		if feature = layer.NextFeature(); feature == nil {
			break
		}
		gc = append(gc, *feature)
		loc = feature.FieldAsString(locIdx)
		if !utf8 {
			if loc, e = utils.GbkStrToUtf8(loc); e != nil {
				log.Warn(t.logTag+"field decode failed", zap.Error(e))
			}
		}
		// DBF strings can carry NUL padding and stray bytes.
		loc = utils.PurifyForUtf8(loc)
		if wkb, e = feature.Geometry().ToWKB(); e != nil {
			log.Error(t.logTag+"err in wkb convert", zap.Error(e))
			continue
		}
		feats = append(feats, AoiFeature{Location: loc, Geom: wkb})
	}
	if len(feats) == 0 {
		err = ErrGdalEmptyShp
	}
	return
}

func (t *Toolbox) getShpDriver(shp string, srid int) (ds gdal.DataSource, ref gdal.SpatialReference, layer gdal.Layer, err error) {
	log.Info(t.logTag+"output shp files", zap.String("shp", shp), zap.Int("srid", srid))
	driver := gdal.OGRDriverByName(SHP_DRIVER_NAME)
	ds, ok := driver.Create(shp, nil)
	if !ok {
		err = ErrGdalDriverCreate
		return
	}
	if ref, err = t.getSridRef(srid); err != nil {
		return
	}
	layer = ds.CreateLayer("", ref, gdal.GT_Unknown, []string{ENCODING_OPTION})
	return
}

func (t *Toolbox) initShpLayer(layer gdal.Layer, field string) (err error) {
	def := gdal.CreateFieldDefinition(field, gdal.FT_String)
	def.SetWidth(64)
	err = layer.CreateField(def, false)
	return
}

// WriteAoiShapefile writes AOI features into a new shapefile, preserving the
// Location attribute.
func (t *Toolbox) WriteAoiShapefile(shp string, srid int, feats ...AoiFeature) (err error) {
	ds, ref, layer, err := t.getShpDriver(shp, srid)
	if err != nil {
		return
	}
	defer ds.Destroy() // flushes the shp files
	if err = t.initShpLayer(layer, SHP_FIELD_LOCATION); err != nil {
		return
	}
	var (
		def    = layer.Definition()
		locIdx = def.FieldIndex(SHP_FIELD_LOCATION)
		ft     gdal.Feature
		geo    gdal.Geometry
		valid  int
		e      error
		gc     = make([]destroyable, len(feats))
	)
	for i, v := range feats {
		ft = def.Create()
		gc[i] = ft
		if e = ft.SetFID(int64(i)); e != nil {
			log.Error(t.logTag+"err in set feature fid", zap.Error(e))
			continue
		}
		ft.SetFieldString(locIdx, v.Location)
		if geo, e = t.parseWKB(v.Geom, ref); e != nil {
			continue
		}
		if e = ft.SetGeometryDirectly(geo); e != nil {
			log.Error(t.logTag+"err in set geom of feature", zap.Error(e))
			continue
		}
		if e = layer.Create(ft); e != nil {
			log.Error(t.logTag+"err in create feature of layer", zap.Error(e))
			continue
		}
		valid++
	}
	for _, v := range gc {
		v.Destroy()
	}
	log.Info(t.logTag+"shp files created", zap.String("shp", shp),
		zap.Int("total", len(feats)), zap.Int("valid", valid))
	return
}
