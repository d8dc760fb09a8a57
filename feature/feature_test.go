package feature

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func mustGeom(t *testing.T, wkt string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(wkt)
	require.NoError(t, err)
	return g
}

func TestValueOf(t *testing.T) {
	assert.Equal(t, KindNull, ValueOf(nil).Kind())
	assert.True(t, ValueOf(3).Equal(Number(3)))
	assert.True(t, ValueOf(json.Number("2.5")).Equal(Number(2.5)))
	assert.True(t, ValueOf(json.Number("x")).Equal(Text("x")))
	assert.True(t, ValueOf(true).Equal(Text("true")))
	assert.True(t, ValueOf("abc").Equal(Text("abc")))
	assert.True(t, ValueOf([]int{1}).IsNull())

	assert.False(t, Number(1).Equal(Text("1")))
	assert.Equal(t, "1.5", Number(1.5).String())
	assert.Equal(t, "", Null().String())
	f, ok := Text("1").Float()
	assert.False(t, ok)
	assert.Zero(t, f)
}

func TestAttributes_JSONKeepsOrder(t *testing.T) {
	attrs := Attributes{
		{Name: "zeta", Value: Number(1)},
		{Name: "alpha", Value: Null()},
		{Name: "名称", Value: Text("东湖")},
	}
	data, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":null,"名称":"东湖"}`, string(data))

	clone := attrs.Clone()
	clone[0].Value = Number(2)
	v, _ := attrs.Get("zeta")
	assert.True(t, v.Equal(Number(1)))

	assert.Nil(t, Attributes(nil).Clone())
}

func TestNullsFor(t *testing.T) {
	nulls := NullsFor([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, nulls.Names())
	for _, a := range nulls {
		assert.True(t, a.Value.IsNull())
	}
}

func TestCollection_AddFillsSchema(t *testing.T) {
	c := NewCollection("zones", []string{"id", "name"})
	f := c.Add(Attributes{{Name: "name", Value: Text("x")}, {Name: "extra", Value: Number(1)}}, nil)
	assert.Equal(t, []string{"id", "name"}, f.Attributes.Names())
	v, _ := f.Attributes.Get("id")
	assert.True(t, v.IsNull())
	assert.Equal(t, 1, c.Len())
}

func TestCollection_IDs(t *testing.T) {
	c := NewCollection("zones", []string{"code"})
	c.Add(Attributes{{Name: "code", Value: Text("a")}}, nil)
	c.Add(Attributes{{Name: "code", Value: Text("b")}}, nil)

	ids, err := c.IDs("")
	require.NoError(t, err)
	assert.Equal(t, []Value{Number(0), Number(1)}, ids)

	ids, err = c.IDs("code")
	require.NoError(t, err)
	assert.Equal(t, []Value{Text("a"), Text("b")}, ids)

	_, err = c.IDs("missing")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing", cfgErr.Field)
}

func TestCollection_Validate(t *testing.T) {
	c := NewCollection("empty", nil)
	var empty *EmptyCollectionError
	assert.ErrorAs(t, c.Validate(), &empty)

	c = NewCollection("mixed", nil)
	c.Add(nil, mustGeom(t, "POLYGON((0 0, 1 0, 1 1, 0 0))"))
	c.Add(nil, mustGeom(t, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 0)))"))
	require.NoError(t, c.Validate())

	c.Add(nil, mustGeom(t, "POINT(1 1)"))
	c.Add(nil, nil)
	var typeErr *GeometryTypeError
	require.ErrorAs(t, c.Validate(), &typeErr)
	assert.Equal(t, []string{"MultiPolygon", "Null", "Point", "Polygon"}, typeErr.Types)
}

func TestPreflight_CollectsEveryProblem(t *testing.T) {
	src := NewCollection("parcels", []string{"code"})
	tgt := NewCollection("zones", []string{"zone_id"})

	err := Preflight(src, tgt, "OBJECTID", "zone")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `layer "parcels" contains no features`)
	assert.Contains(t, msg, `layer "zones" contains no features`)
	assert.Contains(t, msg, `"OBJECTID"`)
	assert.Contains(t, msg, `"zone"`)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

const zonesGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:4490"}},
  "features": [
    {"type": "Feature", "properties": {"zone_id": 7, "名称": "北区", "area": 1.5},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"名称": null, "extra": true, "zone_id": 8},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[2,0],[3,0],[3,1],[2,1],[2,0]]]]}}
  ]
}`

func TestLoadGeoJSON(t *testing.T) {
	c, err := LoadGeoJSON(strings.NewReader(zonesGeoJSON), "zones")
	require.NoError(t, err)

	assert.Equal(t, "zones", c.Name)
	assert.Equal(t, "EPSG:4490", c.CRS)
	assert.Equal(t, []string{"zone_id", "名称", "area", "extra"}, c.Fields)
	require.Equal(t, 2, c.Len())

	first := c.Features[0]
	assert.Equal(t, []string{"zone_id", "名称", "area", "extra"}, first.Attributes.Names())
	v, _ := first.Attributes.Get("zone_id")
	assert.True(t, v.Equal(Number(7)))
	v, _ = first.Attributes.Get("extra")
	assert.True(t, v.IsNull())

	second := c.Features[1]
	v, _ = second.Attributes.Get("extra")
	assert.True(t, v.Equal(Text("true")))
	v, _ = second.Attributes.Get("名称")
	assert.True(t, v.IsNull())
	assert.Equal(t, geos.TypeIDMultiPolygon, second.Geometry.TypeID())
}

func TestLoadGeoJSON_Malformed(t *testing.T) {
	_, err := LoadGeoJSON(strings.NewReader(`{"type":"FeatureCollection","features":[`), "bad")
	assert.Error(t, err)
}

func TestLoad_Dispatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(path, []byte(zonesGeoJSON), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zones", c.Name)

	_, err = Load(filepath.Join(dir, "zones.kml"))
	assert.Error(t, err)
}

func TestLoadShapefile_GBKAndHoles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gbk.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 20), shp.NumberField("CODE", 10)}))

	// Clockwise exterior with a counter-clockwise hole.
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	polygon := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole}))
	n := int(w.Write(&polygon))

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("东湖")
	require.NoError(t, err)
	require.NoError(t, w.WriteAttribute(n, 0, gbk))
	require.NoError(t, w.WriteAttribute(n, 1, "          "))
	w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gbk.cpg"), []byte("GBK"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gbk.prj"), []byte(" GEOGCS[\"CGCS2000\"] \n"), 0o644))

	c, err := LoadShapefile(path, "gbk")
	require.NoError(t, err)
	assert.Equal(t, `GEOGCS["CGCS2000"]`, c.CRS)
	assert.Equal(t, []string{"NAME", "CODE"}, c.Fields)
	require.Equal(t, 1, c.Len())

	v, _ := c.Features[0].Attributes.Get("NAME")
	assert.Equal(t, "东湖", v.String())
	v, _ = c.Features[0].Attributes.Get("CODE")
	assert.True(t, v.IsNull())

	g := c.Features[0].Geometry
	assert.Equal(t, geos.TypeIDPolygon, g.TypeID())
	assert.Equal(t, 1, g.NumInteriorRings())
	assert.InDelta(t, 96.0, g.Area(), 1e-9)
}

func TestDescribe(t *testing.T) {
	c := NewCollection("grid", []string{"id"})
	c.CRS = `GEOGCS["WGS 84",DATUM["WGS_1984"]]`
	c.Add(nil, mustGeom(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))"))
	c.Add(nil, mustGeom(t, "POLYGON((1 0, 2 0, 2 1, 1 1, 1 0))"))
	c.Add(nil, nil)

	info := Describe(c)
	assert.Equal(t, 3, info.FeatureCount)
	assert.Equal(t, "Polygon", info.GeometryType)
	assert.Equal(t, map[string]int{"Polygon": 2, "Null": 1}, info.GeometryCounts)
	assert.Equal(t, [4]float64{0, 0, 2, 1}, info.Bounds)
	assert.True(t, info.Geographic)
	// Two 1x1 degree cells at the equator.
	assert.InEpsilon(t, 2*1.2364e10, info.GeodesicAreaM2, 0.01)

	projected := NewCollection("projected", nil)
	projected.Add(nil, mustGeom(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))"))
	info = Describe(projected)
	assert.Equal(t, "undefined", info.CRS)
	assert.False(t, info.Geographic)
	assert.Zero(t, info.GeodesicAreaM2)
}

func TestIsGeographicCRS(t *testing.T) {
	assert.True(t, IsGeographicCRS("EPSG:4326"))
	assert.True(t, IsGeographicCRS("urn:ogc:def:crs:OGC:1.3:CRS84"))
	assert.False(t, IsGeographicCRS(`PROJCS["CGCS2000 / 3-degree Gauss-Kruger CM 114E",GEOGCS["China Geodetic Coordinate System 2000"]]`))
	assert.False(t, IsGeographicCRS("EPSG:3857"))
	assert.False(t, IsGeographicCRS(""))
}

func TestConvert_RoundTrip(t *testing.T) {
	g := mustGeom(t, "POLYGON((0 0, 4 0, 4 4, 0 4, 0 0), (1 1, 1 2, 2 2, 2 1, 1 1))")
	t1, err := ToGeom(g)
	require.NoError(t, err)
	back, err := FromGeom(t1)
	require.NoError(t, err)
	assert.True(t, g.Equals(back))

	none, err := ToGeom(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
