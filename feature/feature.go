// Package feature holds the in-memory layer model shared by the join engine
// and the exporters: polygon features with ordered, variant-typed attribute
// rows, plus loaders for shapefiles and GeoJSON.
package feature

import (
	"errors"
	"slices"

	"github.com/twpayne/go-geos"
)

// Feature is one polygonal record. Geometry is never modified after load;
// repaired copies live in the join engine.
type Feature struct {
	Attributes Attributes
	Geometry   *geos.Geom
}

// Collection is an ordered layer of features sharing one CRS and one
// attribute schema. CRS is opaque and only passed through to outputs.
type Collection struct {
	Name     string
	CRS      string
	Fields   []string
	Features []*Feature
}

func NewCollection(name string, fields []string) *Collection {
	return &Collection{
		Name:     name,
		Fields:   slices.Clone(fields),
		Features: make([]*Feature, 0),
	}
}

// Add appends a feature. Attributes missing from the row are stored as null
// so every feature carries the full schema.
func (c *Collection) Add(attrs Attributes, geom *geos.Geom) *Feature {
	row := make(Attributes, 0, len(c.Fields))
	for _, name := range c.Fields {
		v, _ := attrs.Get(name)
		row = append(row, Attribute{Name: name, Value: v})
	}
	f := &Feature{Attributes: row, Geometry: geom}
	c.Features = append(c.Features, f)
	return f
}

func (c *Collection) Len() int { return len(c.Features) }

func (c *Collection) HasField(name string) bool {
	return slices.Contains(c.Fields, name)
}

// IDs returns one identifier per feature: the value of field, or the
// feature's 0-based position when field is empty.
func (c *Collection) IDs(field string) ([]Value, error) {
	ids := make([]Value, len(c.Features))
	if field == "" {
		for i := range c.Features {
			ids[i] = Number(float64(i))
		}
		return ids, nil
	}
	if !c.HasField(field) {
		return nil, &ConfigurationError{Collection: c.Name, Field: field}
	}
	for i, f := range c.Features {
		ids[i], _ = f.Attributes.Get(field)
	}
	return ids, nil
}

// GeometryTypes lists the distinct geometry type names in the layer, sorted.
func (c *Collection) GeometryTypes() []string {
	seen := make(map[string]bool)
	for _, f := range c.Features {
		seen[geometryTypeName(f.Geometry)] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Validate checks that the layer can take part in a join: it must have
// features and every geometry must be a Polygon or MultiPolygon.
func (c *Collection) Validate() error {
	if len(c.Features) == 0 {
		return &EmptyCollectionError{Collection: c.Name}
	}
	for _, f := range c.Features {
		if !IsPolygonal(f.Geometry) {
			return &GeometryTypeError{Collection: c.Name, Types: c.GeometryTypes()}
		}
	}
	return nil
}

// Preflight validates a source/target pair and the requested id fields,
// returning every problem found rather than just the first.
func Preflight(source, target *Collection, sourceIDField, targetIDField string) error {
	var errs []error
	for _, c := range []*Collection{source, target} {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if sourceIDField != "" && !source.HasField(sourceIDField) {
		errs = append(errs, &ConfigurationError{Collection: source.Name, Field: sourceIDField})
	}
	if targetIDField != "" && !target.HasField(targetIDField) {
		errs = append(errs, &ConfigurationError{Collection: target.Name, Field: targetIDField})
	}
	return errors.Join(errs...)
}

// IsPolygonal reports whether g is a Polygon or MultiPolygon.
func IsPolygonal(g *geos.Geom) bool {
	if g == nil {
		return false
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return true
	default:
		return false
	}
}

func geometryTypeName(g *geos.Geom) string {
	if g == nil {
		return "Null"
	}
	return g.Type()
}
