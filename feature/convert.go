package feature

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// ToGeom converts a GEOS geometry into a go-geom value through WKB.
func ToGeom(g *geos.Geom) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	t, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decoding WKB: %w", err)
	}
	return t, nil
}

// FromGeom converts a go-geom value into a GEOS geometry through WKB.
func FromGeom(t geom.T) (*geos.Geom, error) {
	if t == nil {
		return nil, nil
	}
	b, err := wkb.Marshal(t, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("encoding WKB: %w", err)
	}
	g, err := geos.NewGeomFromWKB(b)
	if err != nil {
		return nil, fmt.Errorf("creating geometry: %w", err)
	}
	return g, nil
}
