package wfsai

import (
	"strconv"
	"strings"
	"sync"

	"github.com/matsco/wfsai/log"

	"github.com/lukeroth/gdal"
	"go.uber.org/zap"
)

// Toolbox is the imagery processing service. It is configuration-scoped and
// stateless apart from a reusable cache of spatial references; all stage
// methods are pure functions of (input handles, parameters) -> output handle.
type Toolbox struct {
	refMap map[int]gdal.SpatialReference
	rLock  sync.Mutex
	tmpDir string
	logTag string
}

// Memory objects created by the GDAL C library need an explicit Destroy.
type destroyable interface {
	Destroy()
}

// NewToolbox builds a Toolbox. tmpDir is an optional scratch directory for
// intermediate warp artifacts (defaults to the current directory).
func NewToolbox(tmpDir ...string) *Toolbox {
	t := &Toolbox{
		refMap: map[int]gdal.SpatialReference{},
		logTag: "Toolbox:",
	}
	if len(tmpDir) > 0 && tmpDir[0] != "" {
		t.tmpDir = tmpDir[0]
	}
	return t
}

// getSridRef returns the cached spatial reference for an EPSG id. Cached
// refs are shared and must not be destroyed by callers.
func (t *Toolbox) getSridRef(srid int) (ref gdal.SpatialReference, err error) {
	t.rLock.Lock()
	defer t.rLock.Unlock()
	ref, ok := t.refMap[srid]
	if ok {
		return
	}
	ref = gdal.CreateSpatialReference("")
	if err = ref.FromEPSG(srid); err != nil {
		log.Error(t.logTag+"set ref srid failed", zap.Int("srid", srid), zap.Error(err))
		ref.Destroy()
		return
	}
	// Keep the traditional (lon,lat) data axis order regardless of what the
	// CRS authority mandates, so coordinate transforms never swap axes.
	ref.SetAxisMappingStrategy(gdal.OAMS_TraditionalGisOrder)
	t.refMap[srid] = ref
	return
}

// getWktRef builds a spatial reference from raster projection WKT. The
// caller owns the returned ref and must Destroy it.
func (t *Toolbox) getWktRef(wkt string) (ref gdal.SpatialReference, err error) {
	if wkt == "" {
		err = ErrNoGeoreference
		return
	}
	ref = gdal.CreateSpatialReference(wkt)
	ref.SetAxisMappingStrategy(gdal.OAMS_TraditionalGisOrder)
	return
}

func (t *Toolbox) getSrid(sp gdal.SpatialReference) (srid int, err error) {
	wkt, _ := sp.ToWKT()
	rawId, ok := sp.AttrValue("AUTHORITY", 1)
	if !ok {
		if strings.Contains(wkt, "CGCS_2000") {
			rawId = "4490"
		} else {
			err = ErrVoidSrid
			return
		}
	}
	srid, err = strconv.Atoi(rawId)
	return
}

// GetSridOfShapefile reads the EPSG id of the first layer of a shapefile.
func (t *Toolbox) GetSridOfShapefile(shp string) (srid int, err error) {
	driver := gdal.OGRDriverByName(SHP_DRIVER_NAME)
	ds, ok := driver.Open(shp, 0)
	if !ok {
		err = ErrGdalDriverOpen
		return
	}
	defer ds.Destroy()
	layer := ds.LayerByIndex(0)
	return t.getSrid(layer.SpatialReference())
}

func (t *Toolbox) parseWKB(wkb GdalGeo, ref gdal.SpatialReference) (ret gdal.Geometry, err error) {
	ret, err = gdal.CreateFromWKB(wkb, ref, len(wkb))
	if err != nil {
		log.Error(t.logTag+"parse wkb failed", zap.Error(err))
	}
	return
}

func (t *Toolbox) parseWKT(wkt string, ref gdal.SpatialReference) (ret gdal.Geometry, err error) {
	ret, err = gdal.CreateFromWKT(wkt, ref)
	if err != nil {
		log.Error(t.logTag+"parse wkt failed", zap.Error(err))
		err = ErrInvalidWKT
	}
	return
}

// TransformWkt converts WKT between two EPSG references.
func (t *Toolbox) TransformWkt(wkt string, srid, tSrid int) (ret string, err error) {
	if tSrid == srid {
		ret = wkt
		return
	}
	ref, err := t.getSridRef(srid)
	if err != nil {
		return
	}
	tRef, err := t.getSridRef(tSrid)
	if err != nil {
		return
	}
	geo, err := t.parseWKT(wkt, ref)
	if err != nil {
		return
	}
	defer geo.Destroy()
	if err = geo.TransformTo(tRef); err != nil {
		log.Error(t.logTag+"geo transform failed", zap.Error(err))
		return
	}
	ret, err = geo.ToWKT()
	return
}

// GetWktSpan returns the [minX, maxX, minY, maxY] envelope of a WKT
// geometry.
func (t *Toolbox) GetWktSpan(wkt string, srid int) (span [4]float64, err error) {
	ref, err := t.getSridRef(srid)
	if err != nil {
		return
	}
	geo, err := t.parseWKT(wkt, ref)
	if err != nil {
		return
	}
	defer geo.Destroy()
	envelop := geo.Envelope()
	span[0] = envelop.MinX()
	span[1] = envelop.MaxX()
	span[2] = envelop.MinY()
	span[3] = envelop.MaxY()
	return
}
