package feature

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geos"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Load reads a layer from disk, choosing the decoder by file extension.
func Load(path string) (*Collection, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path, name)
	case ".geojson", ".json":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer file.Close()
		return LoadGeoJSON(file, name)
	default:
		return nil, fmt.Errorf("unsupported layer format: %s", path)
	}
}

// LoadShapefile reads a polygon shapefile with its DBF attributes. The .prj
// text becomes the layer CRS; the .cpg code page selects how DBF names and
// text cells are decoded.
func LoadShapefile(path, name string) (*Collection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer reader.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	decoder := codePageDecoder(base + ".cpg")

	shpFields := reader.Fields()
	names := make([]string, len(shpFields))
	for i, f := range shpFields {
		names[i] = decodeDBF(decoder, bytes.TrimRight(f.Name[:], "\x00"))
	}

	c := NewCollection(name, names)
	if prj, err := os.ReadFile(base + ".prj"); err == nil {
		c.CRS = strings.TrimSpace(string(prj))
	}

	for reader.Next() {
		n, shape := reader.Shape()
		g, err := shapeToGeom(shape)
		if err != nil {
			return nil, fmt.Errorf("error creating geometry for feature %d: %w", n, err)
		}
		attrs := make(Attributes, len(shpFields))
		for k, f := range shpFields {
			cell := strings.Trim(reader.ReadAttribute(n, k), " \x00")
			attrs[k] = Attribute{Name: names[k], Value: dbfValue(decoder, f.Fieldtype, cell)}
		}
		c.Add(attrs, g)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("reading shapefile %s: %w", path, err)
	}
	return c, nil
}

// codePageDecoder returns a GBK decoder when the .cpg names a Chinese code
// page. A nil decoder means UTF-8 with a GBK fallback for invalid bytes.
func codePageDecoder(cpgPath string) *encoding.Decoder {
	raw, err := os.ReadFile(cpgPath)
	if err != nil {
		return nil
	}
	switch strings.ToUpper(strings.TrimSpace(string(raw))) {
	case "GBK", "GB2312", "CP936", "936", "GB18030":
		return simplifiedchinese.GBK.NewDecoder()
	default:
		return nil
	}
}

func decodeDBF(decoder *encoding.Decoder, raw []byte) string {
	if decoder == nil {
		if utf8.Valid(raw) {
			return string(raw)
		}
		decoder = simplifiedchinese.GBK.NewDecoder()
	}
	out, err := decoder.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// dbfValue converts a DBF cell. DBF has no null, so blank cells map to null.
func dbfValue(decoder *encoding.Decoder, fieldType byte, cell string) Value {
	if cell == "" {
		return Null()
	}
	switch fieldType {
	case 'N', 'F':
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			return Number(v)
		}
		return Null()
	default:
		return Text(decodeDBF(decoder, []byte(cell)))
	}
}

func shapeToGeom(shape shp.Shape) (*geos.Geom, error) {
	var parts []int32
	var points []shp.Point
	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	case *shp.Null, nil:
		return nil, nil
	default:
		return shapeToOtherGeom(shape)
	}
	t, err := assemblePolygon(parts, points)
	if err != nil {
		return nil, err
	}
	return FromGeom(t)
}

// assemblePolygon rebuilds polygon structure from shapefile parts. Outer
// rings are clockwise and holes counter-clockwise; each hole is attached to
// the first outer ring that contains it.
func assemblePolygon(parts []int32, points []shp.Point) (geom.T, error) {
	var outers [][]geom.Coord
	var holes [][]geom.Coord
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 4 {
			continue
		}
		ring := make([]geom.Coord, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, geom.Coord{p.X, p.Y})
		}
		if xy.IsRingCounterClockwise(geom.XY, flatten(ring)) {
			holes = append(holes, ring)
		} else {
			outers = append(outers, ring)
		}
	}
	if len(outers) == 0 {
		outers, holes = holes, nil
	}

	polygons := make([][][]geom.Coord, len(outers))
	for i, outer := range outers {
		polygons[i] = [][]geom.Coord{outer}
	}
	for _, hole := range holes {
		attached := false
		for i, outer := range outers {
			if xy.IsPointInRing(geom.XY, hole[0], flatten(outer)) {
				polygons[i] = append(polygons[i], hole)
				attached = true
				break
			}
		}
		if !attached {
			polygons = append(polygons, [][]geom.Coord{hole})
		}
	}

	switch len(polygons) {
	case 0:
		return geom.NewPolygon(geom.XY), nil
	case 1:
		return geom.NewPolygon(geom.XY).SetCoords(polygons[0])
	}
	return geom.NewMultiPolygon(geom.XY).SetCoords(polygons)
}

// shapeToOtherGeom keeps non-polygon shapes as GEOS geometries so that
// layer validation can report their type instead of failing the load.
func shapeToOtherGeom(shape shp.Shape) (*geos.Geom, error) {
	switch s := shape.(type) {
	case *shp.Point:
		return FromGeom(geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}))
	case *shp.PolyLine:
		lines := make([][]geom.Coord, 0, len(s.Parts))
		for i, start := range s.Parts {
			end := int32(len(s.Points))
			if i+1 < len(s.Parts) {
				end = s.Parts[i+1]
			}
			line := make([]geom.Coord, 0, end-start)
			for _, p := range s.Points[start:end] {
				line = append(line, geom.Coord{p.X, p.Y})
			}
			lines = append(lines, line)
		}
		t, err := geom.NewMultiLineString(geom.XY).SetCoords(lines)
		if err != nil {
			return nil, err
		}
		return FromGeom(t)
	default:
		return nil, fmt.Errorf("unsupported shape type %T", shape)
	}
}

func flatten(ring []geom.Coord) []float64 {
	flat := make([]float64, 0, 2*len(ring))
	for _, c := range ring {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
