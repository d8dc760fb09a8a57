package utils

import (
	"fmt"
	"slices"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geos"
)

// Ring is a closed sequence of [x, y] coordinates.
type Ring [][]float64

// PolygonRings walks every polygon of g and returns its rings, exterior
// first and holes after it. Degenerate rings with fewer than four points are
// dropped; a polygon without a usable exterior ring is skipped entirely.
func PolygonRings(g *geos.Geom) ([][]Ring, error) {
	if g == nil {
		return nil, fmt.Errorf(`geometry is nil`)
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		if rings := singlePolygonRings(g); rings != nil {
			return [][]Ring{rings}, nil
		}
		return [][]Ring{}, nil
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		polygons := make([][]Ring, 0, g.NumGeometries())
		for i := range g.NumGeometries() {
			member, err := PolygonRings(g.Geometry(i))
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, member...)
		}
		return polygons, nil
	default:
		return [][]Ring{}, nil
	}
}

func singlePolygonRings(polygon *geos.Geom) []Ring {
	if polygon.IsEmpty() {
		return nil
	}
	outer := ringCoords(polygon.ExteriorRing())
	if len(outer) < 4 {
		return nil
	}
	rings := []Ring{outer}
	for r := range polygon.NumInteriorRings() {
		if hole := ringCoords(polygon.InteriorRing(r)); len(hole) >= 4 {
			rings = append(rings, hole)
		}
	}
	return rings
}

func ringCoords(ring *geos.Geom) Ring {
	if ring == nil {
		return nil
	}
	seq := ring.CoordSeq()
	coords := make(Ring, 0, seq.Size())
	for j := range seq.Size() {
		coords = append(coords, []float64{seq.X(j), seq.Y(j)})
	}
	return coords
}

// IsCounterClockwise reports the winding of a closed ring.
func (r Ring) IsCounterClockwise() bool {
	flat := make([]float64, 0, 2*len(r))
	for _, c := range r {
		flat = append(flat, c[0], c[1])
	}
	return xy.IsRingCounterClockwise(geom.XY, flat)
}

// Oriented returns the ring wound in the requested direction, reversing a
// copy when needed.
func (r Ring) Oriented(counterClockwise bool) Ring {
	if len(r) < 4 || r.IsCounterClockwise() == counterClockwise {
		return r
	}
	reversed := slices.Clone(r)
	slices.Reverse(reversed)
	return reversed
}
