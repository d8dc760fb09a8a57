// Package export turns join results into output tables and writes them as
// shapefiles, GeoJSON or CSV.
package export

import (
	"fmt"

	"github.com/twpayne/go-geos"

	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/join"
	"github.com/aidingjing/shp-data/schema"
)

// Fixed columns appended to every augmented table.
const (
	ColRelation   = "rel_type"
	ColInterArea  = "inter_area"
	ColOverlapRat = "overlap_r"
)

// Column is one output column: its encoded field name and the attribute
// name it was derived from.
type Column struct {
	Name   string
	Origin string
}

// Row is a geometry with one value per table column.
type Row struct {
	Geometry *geos.Geom
	Values   []feature.Value
}

// Table is a feature layer whose column names are already legal DBF field
// names.
type Table struct {
	Name    string
	CRS     string
	Columns []Column
	Rows    []Row
}

// ColumnIndex returns the position of the column with encoded name name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Value returns the cell at row for the column named name, or null.
func (t *Table) Value(row int, name string) feature.Value {
	i, ok := t.ColumnIndex(name)
	if !ok || row < 0 || row >= len(t.Rows) {
		return feature.Null()
	}
	return t.Rows[row].Values[i]
}

// ToAugmentedCollection copies source and appends the matched target's
// attributes and the match columns to every feature, using a fresh schema
// with the built-in vocabulary.
func ToAugmentedCollection(source *feature.Collection, records []join.MatchRecord, fieldPrefix string) (*Table, error) {
	return Augment(schema.DefaultEncoder().NewSchema(), source, records, fieldPrefix)
}

// Augment is ToAugmentedCollection with a caller-supplied schema, for
// example one seeded with fields that already exist at the destination.
//
// Source fields keep their names (encoded without prefix). Target fields are
// encoded with fieldPrefix, in the order they are first seen across records,
// followed by rel_type, inter_area and overlap_r. Row i takes its added
// cells from records[i]; rows without a record leave them null.
func Augment(sch *schema.Schema, source *feature.Collection, records []join.MatchRecord, fieldPrefix string) (*Table, error) {
	if source == nil {
		return nil, fmt.Errorf("augment: source collection is nil")
	}
	for _, name := range []string{ColRelation, ColInterArea, ColOverlapRat} {
		if !sch.Reserve(name) {
			return nil, fmt.Errorf("augment: fixed column %q is already taken", name)
		}
	}

	t := &Table{Name: source.Name, CRS: source.CRS}
	for _, name := range source.Fields {
		t.Columns = append(t.Columns, Column{Name: sch.Encode(name, ""), Origin: name})
	}
	nSource := len(t.Columns)

	targetNames := targetFieldOrder(records)
	for _, name := range targetNames {
		t.Columns = append(t.Columns, Column{Name: sch.Encode(name, fieldPrefix), Origin: name})
	}
	t.Columns = append(t.Columns,
		Column{Name: ColRelation, Origin: "relation_type"},
		Column{Name: ColInterArea, Origin: "intersection_area"},
		Column{Name: ColOverlapRat, Origin: "overlap_ratio"},
	)

	for i, f := range source.Features {
		values := make([]feature.Value, len(t.Columns))
		for k, name := range source.Fields {
			values[k], _ = f.Attributes.Get(name)
		}
		if i < len(records) {
			rec := records[i]
			for k, name := range targetNames {
				values[nSource+k], _ = rec.TargetAttributes.Get(name)
			}
			n := nSource + len(targetNames)
			values[n] = feature.Text(rec.Relation.String())
			values[n+1] = feature.Number(rec.IntersectionArea)
			values[n+2] = feature.Number(rec.OverlapRatio)
		}
		t.Rows = append(t.Rows, Row{Geometry: f.Geometry, Values: values})
	}
	return t, nil
}

func targetFieldOrder(records []join.MatchRecord) []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range records {
		for _, a := range rec.TargetAttributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	return names
}

// Report is a flat, geometry-free table with one row per match record.
type Report struct {
	Columns []string
	Rows    [][]feature.Value
}

// ToFlatReport lays records out as source_id, target_id, relation_type,
// intersection_area, overlap_ratio, then source_<name> and target_<name>
// for every attribute seen, in first-seen order.
func ToFlatReport(records []join.MatchRecord) *Report {
	var sourceNames []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, a := range rec.SourceAttributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				sourceNames = append(sourceNames, a.Name)
			}
		}
	}
	targetNames := targetFieldOrder(records)

	r := &Report{Columns: []string{"source_id", "target_id", "relation_type", "intersection_area", "overlap_ratio"}}
	taken := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		taken[c] = true
	}
	for _, name := range sourceNames {
		r.Columns = append(r.Columns, reportColumn("source_"+name, taken))
	}
	for _, name := range targetNames {
		r.Columns = append(r.Columns, reportColumn("target_"+name, taken))
	}

	for _, rec := range records {
		row := make([]feature.Value, 0, len(r.Columns))
		row = append(row,
			rec.SourceID,
			rec.TargetID,
			feature.Text(rec.Relation.String()),
			feature.Number(rec.IntersectionArea),
			feature.Number(rec.OverlapRatio),
		)
		for _, name := range sourceNames {
			v, _ := rec.SourceAttributes.Get(name)
			row = append(row, v)
		}
		for _, name := range targetNames {
			v, _ := rec.TargetAttributes.Get(name)
			row = append(row, v)
		}
		r.Rows = append(r.Rows, row)
	}
	return r
}

// reportColumn returns base, or base_1, base_2, ... when base is already a
// report column, and marks the result as taken.
func reportColumn(base string, taken map[string]bool) string {
	name := base
	for n := 1; taken[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	taken[name] = true
	return name
}
