package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/aidingjing/shp-data/feature"
)

type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// crsFeatureCollection is a FeatureCollection carrying the legacy named crs
// member, which go-geom's type does not model.
type crsFeatureCollection struct {
	Type     string             `json:"type"`
	Name     string             `json:"name,omitempty"`
	CRS      *namedCRS          `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// WriteGeoJSON writes t as a GeoJSON FeatureCollection at path.
func WriteGeoJSON(path string, t *Table) error {
	return writeFileAtomic(path, func(f *os.File) error {
		return EncodeGeoJSON(f, t)
	})
}

// EncodeGeoJSON writes t as a GeoJSON FeatureCollection to w. Feature ids
// are the row positions.
func EncodeGeoJSON(w io.Writer, t *Table) error {
	fc := crsFeatureCollection{
		Type:     "FeatureCollection",
		Name:     t.Name,
		Features: make([]*geojson.Feature, 0, len(t.Rows)),
	}
	if t.CRS != "" {
		fc.CRS = &namedCRS{Type: "name"}
		fc.CRS.Properties.Name = t.CRS
	}

	for i, row := range t.Rows {
		g, err := feature.ToGeom(row.Geometry)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		props := make(map[string]any, len(t.Columns))
		for k, col := range t.Columns {
			props[col.Name] = row.Values[k].Interface()
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         fmt.Sprint(i),
			Geometry:   g,
			Properties: props,
		})
	}

	enc := json.NewEncoder(w)
	return enc.Encode(fc)
}
