package feature

import (
	"math"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"
)

// earthRadiusMeters is the mean Earth radius used for geodesic areas.
const earthRadiusMeters = 6371008.8

// LayerInfo summarises a loaded layer for inspection output.
type LayerInfo struct {
	Name           string         `json:"name"`
	FeatureCount   int            `json:"featureCount"`
	CRS            string         `json:"crs"`
	GeometryType   string         `json:"geometryType"`
	GeometryCounts map[string]int `json:"geometryCounts"`
	Fields         []string       `json:"fields"`
	FieldCount     int            `json:"fieldCount"`
	Bounds         [4]float64     `json:"bounds"`
	Geographic     bool           `json:"geographic"`
	GeodesicAreaM2 float64        `json:"geodesicAreaM2,omitempty"`
}

// Describe builds the LayerInfo for c. The geodesic area is only computed
// when the CRS is geographic (longitude/latitude degrees).
func Describe(c *Collection) LayerInfo {
	info := LayerInfo{
		Name:           c.Name,
		FeatureCount:   len(c.Features),
		CRS:            c.CRS,
		GeometryCounts: make(map[string]int),
		Fields:         append([]string(nil), c.Fields...),
		FieldCount:     len(c.Fields),
		Geographic:     IsGeographicCRS(c.CRS),
	}
	if info.CRS == "" {
		info.CRS = "undefined"
	}

	bounds := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	best := 0
	for _, f := range c.Features {
		name := geometryTypeName(f.Geometry)
		info.GeometryCounts[name]++
		if info.GeometryCounts[name] > best {
			best = info.GeometryCounts[name]
			info.GeometryType = name
		}
		if f.Geometry == nil || f.Geometry.IsEmpty() {
			continue
		}
		b := f.Geometry.Bounds()
		bounds[0] = math.Min(bounds[0], b.MinX)
		bounds[1] = math.Min(bounds[1], b.MinY)
		bounds[2] = math.Max(bounds[2], b.MaxX)
		bounds[3] = math.Max(bounds[3], b.MaxY)
		if info.Geographic {
			if t, err := ToGeom(f.Geometry); err == nil {
				info.GeodesicAreaM2 += geodesicArea(t)
			}
		}
	}
	if !math.IsInf(bounds[0], 1) {
		info.Bounds = bounds
	}
	if info.GeometryType == "" {
		info.GeometryType = "unknown"
	}
	return info
}

// IsGeographicCRS reports whether a CRS string (WKT or authority code)
// describes longitude/latitude coordinates.
func IsGeographicCRS(crs string) bool {
	upper := strings.ToUpper(crs)
	switch {
	case upper == "":
		return false
	case strings.Contains(upper, "PROJCS"), strings.Contains(upper, "PROJCRS"):
		return false
	case strings.Contains(upper, "GEOGCS"), strings.Contains(upper, "GEOGCRS"):
		return true
	case strings.HasSuffix(upper, ":4326"), strings.HasSuffix(upper, ":4490"), strings.Contains(upper, "CRS84"):
		return true
	default:
		return false
	}
}

// geodesicArea returns the area in square metres of a lon/lat polygonal
// geometry, holes subtracted.
func geodesicArea(t geom.T) float64 {
	switch g := t.(type) {
	case *geom.Polygon:
		area := 0.0
		for i := range g.NumLinearRings() {
			ringArea := ringSteradians(g.LinearRing(i).FlatCoords())
			if i == 0 {
				area += ringArea
			} else {
				area -= ringArea
			}
		}
		return math.Max(area, 0) * earthRadiusMeters * earthRadiusMeters
	case *geom.MultiPolygon:
		total := 0.0
		for i := range g.NumPolygons() {
			total += geodesicArea(g.Polygon(i))
		}
		return total
	default:
		return 0
	}
}

func ringSteradians(flat []float64) float64 {
	n := len(flat) / 2
	if n > 1 && flat[0] == flat[2*(n-1)] && flat[1] == flat[2*(n-1)+1] {
		n--
	}
	if n < 3 {
		return 0
	}
	points := make([]s2.Point, n)
	for i := range n {
		points[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(flat[2*i+1], flat[2*i]))
	}
	loop := s2.LoopFromPoints(points)
	loop.Normalize()
	return loop.Area()
}
