package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// rawFeatureCollection captures the parts of a GeoJSON document that the
// go-geom decoder drops: the legacy crs member and property key order.
type rawFeatureCollection struct {
	CRS *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
	Features []struct {
		Properties json.RawMessage `json:"properties"`
	} `json:"features"`
}

// LoadGeoJSON reads a GeoJSON FeatureCollection. The attribute schema is the
// union of property keys in the order they first appear.
func LoadGeoJSON(r io.Reader, name string) (*Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse feature collection %s: %w", name, err)
	}
	var raw rawFeatureCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse feature collection %s: %w", name, err)
	}

	orders := make([][]string, len(raw.Features))
	var fields []string
	seen := make(map[string]bool)
	for i, f := range raw.Features {
		keys, err := keyOrder(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d properties: %w", i, err)
		}
		orders[i] = keys
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}

	c := NewCollection(name, fields)
	if raw.CRS != nil {
		c.CRS = raw.CRS.Properties.Name
	}
	for i, f := range fc.Features {
		g, err := FromGeom(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("error creating geometry for feature %d: %w", i, err)
		}
		var attrs Attributes
		if i < len(orders) {
			for _, k := range orders[i] {
				attrs = append(attrs, Attribute{Name: k, Value: ValueOf(f.Properties[k])})
			}
		}
		c.Add(attrs, g)
	}
	return c, nil
}

// keyOrder lists the keys of a JSON object in document order.
func keyOrder(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("properties is not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
