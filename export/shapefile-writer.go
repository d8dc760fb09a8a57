package export

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"

	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/utils"
)

// shapefileParts are the sidecar extensions a shapefile export can produce.
var shapefileParts = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

const (
	minStringField = 50
	maxStringField = 254
	intFieldSize   = 18
	floatFieldSize = 20
	floatPrecision = 8
)

// WriteShapefile writes t as a polygon shapefile at path (which must end in
// .shp) together with its .shx, .dbf, .cpg and, when t has a CRS, .prj. The
// files are generated in a staging directory next to path and only moved
// into place once all of them are complete.
func WriteShapefile(path string, t *Table) error {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return &ExportIOError{Path: path, Op: "validate", Err: errors.New("shapefile path must end in .shp")}
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ExportIOError{Path: path, Op: "mkdir", Err: err}
	}
	stage, err := os.MkdirTemp(dir, ".shp-data-*")
	if err != nil {
		return &ExportIOError{Path: path, Op: "stage", Err: err}
	}
	defer os.RemoveAll(stage)

	if err := generateShapefile(filepath.Join(stage, base+".shp"), t); err != nil {
		return &ExportIOError{Path: path, Op: "write", Err: err}
	}

	var moved []string
	for _, ext := range shapefileParts {
		src := filepath.Join(stage, base+ext)
		dst := filepath.Join(dir, base+ext)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			// A stale sidecar from an earlier export would describe the
			// wrong layer.
			os.Remove(dst)
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			for _, m := range moved {
				os.Remove(m)
			}
			return &ExportIOError{Path: path, Op: "rename", Err: err}
		}
		moved = append(moved, dst)
	}
	return nil
}

// RemoveShapefile deletes every component of the shapefile at path.
func RemoveShapefile(path string) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range shapefileParts {
		os.Remove(base + ext)
	}
}

// generateShapefile creates the shapefile components at shapefilePath.
func generateShapefile(shapefilePath string, t *Table) error {
	shape, err := shp.Create(shapefilePath, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("failed to create shapefile: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			shape.Close()
		}
	}()

	fields := createFieldsFromTable(t)
	if err := shape.SetFields(fields); err != nil {
		return fmt.Errorf("failed to set fields: %w", err)
	}

	extent, hasExtent := layerExtent(t)
	hasEmpty := false
	for i, row := range t.Rows {
		geom, err := polygonShape(row.Geometry, extent)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		if p, ok := geom.(*shp.Polygon); ok && p.NumParts == 0 {
			hasEmpty = true
		}
		n := int(shape.Write(geom))
		for k, field := range fields {
			if err := shape.WriteAttribute(n, k, dbfCell(field, row.Values[k])); err != nil {
				return fmt.Errorf("feature %d field %s: %w", i, t.Columns[k].Name, err)
			}
		}
	}
	shape.Close()
	closed = true

	base := strings.TrimSuffix(shapefilePath, filepath.Ext(shapefilePath))
	if hasEmpty && hasExtent {
		// go-shp widens the header box with (0,0) for records without points.
		for _, ext := range []string{".shp", ".shx"} {
			if err := writeHeaderExtent(base+ext, extent); err != nil {
				return fmt.Errorf("failed to write extent: %w", err)
			}
		}
	}

	if err := os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return fmt.Errorf("failed to write code page: %w", err)
	}
	if t.CRS != "" {
		if err := os.WriteFile(base+".prj", []byte(t.CRS), 0o644); err != nil {
			return fmt.Errorf("failed to write projection: %w", err)
		}
	}
	return nil
}

// writeHeaderExtent overwrites the XY bounding box of a .shp or .shx main
// file header, stored little-endian at byte 36.
func writeHeaderExtent(path string, box shp.Box) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, 32)
	for i, v := range []float64{box.MinX, box.MinY, box.MaxX, box.MaxY} {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if _, err := f.WriteAt(buf, 36); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// createFieldsFromTable picks a DBF field per column from the values it
// holds: whole numbers become N fields, other numbers F fields, and
// anything with text a C field sized to its longest value.
func createFieldsFromTable(t *Table) []shp.Field {
	fields := make([]shp.Field, len(t.Columns))
	for c, col := range t.Columns {
		numeric, integral, hasValue := true, true, false
		longest := 0
		for _, row := range t.Rows {
			v := row.Values[c]
			switch v.Kind() {
			case feature.KindNumber:
				hasValue = true
				f, _ := v.Float()
				if f != math.Trunc(f) || math.Abs(f) >= 1e15 {
					integral = false
				}
				longest = max(longest, len(v.String()))
			case feature.KindText:
				hasValue = true
				numeric = false
				longest = max(longest, len(v.String()))
			}
		}

		switch {
		case hasValue && numeric && integral:
			fields[c] = shp.NumberField(col.Name, intFieldSize)
		case hasValue && numeric:
			fields[c] = shp.FloatField(col.Name, floatFieldSize, floatPrecision)
		default:
			length := min(max(longest, minStringField), maxStringField)
			fields[c] = shp.StringField(col.Name, uint8(length))
		}
	}
	return fields
}

// dbfCell renders v for field, always filling the full field width so that
// null cells read back as blank.
func dbfCell(field shp.Field, v feature.Value) string {
	size := int(field.Size)
	if v.IsNull() {
		return strings.Repeat(" ", size)
	}
	var s string
	switch field.Fieldtype {
	case 'N':
		f, _ := v.Float()
		s = strconv.FormatFloat(f, 'f', 0, 64)
	case 'F':
		f, _ := v.Float()
		s = strconv.FormatFloat(f, 'f', int(field.Precision), 64)
		if len(s) > size {
			s = strconv.FormatFloat(f, 'E', size-8, 64)
		}
		return fmt.Sprintf("%*s", size, s)
	default:
		s = truncateUTF8(v.String(), size)
		return s + strings.Repeat(" ", size-len(s))
	}
	return fmt.Sprintf("%*s", size, s)
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// layerExtent is the bounding box of every non-empty geometry in t.
func layerExtent(t *Table) (shp.Box, bool) {
	var box shp.Box
	found := false
	for _, row := range t.Rows {
		if row.Geometry == nil || row.Geometry.IsEmpty() {
			continue
		}
		b := row.Geometry.Bounds()
		next := shp.Box{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
		if !found {
			box, found = next, true
			continue
		}
		box.Extend(next)
	}
	return box, found
}

// emptyPolygon is a polygon record without parts, standing in for a missing
// geometry so the DBF row keeps its position. Its own box is the degenerate
// lower-left corner of the layer extent.
func emptyPolygon(extent shp.Box) *shp.Polygon {
	return &shp.Polygon{
		Box:    shp.Box{MinX: extent.MinX, MinY: extent.MinY, MaxX: extent.MinX, MaxY: extent.MinY},
		Parts:  []int32{},
		Points: []shp.Point{},
	}
}

// polygonShape converts a polygonal geometry into a shapefile polygon with
// clockwise exteriors and counter-clockwise holes. Missing or empty
// geometries become empty polygon records so rows stay aligned with the DBF.
func polygonShape(g *geos.Geom, extent shp.Box) (shp.Shape, error) {
	if g == nil || g.IsEmpty() {
		return emptyPolygon(extent), nil
	}
	polygons, err := utils.PolygonRings(g)
	if err != nil {
		return nil, err
	}
	var parts [][]shp.Point
	for _, rings := range polygons {
		for r, ring := range rings {
			oriented := ring.Oriented(r != 0)
			points := make([]shp.Point, len(oriented))
			for j, c := range oriented {
				points[j] = shp.Point{X: c[0], Y: c[1]}
			}
			parts = append(parts, points)
		}
	}
	if len(parts) == 0 {
		return emptyPolygon(extent), nil
	}
	polygon := shp.Polygon(*shp.NewPolyLine(parts))
	return &polygon, nil
}
