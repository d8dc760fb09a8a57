package handlers

import (
	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/repair"
)

// Error describes one invalid feature and what repair would make of it.
type Error struct {
	Ref          int    `json:"ref"`
	ID           string `json:"id,omitempty"`
	ErrorMessage string `json:"errorMessage"`
	Repair       string `json:"repair"`
	Lossy        bool   `json:"lossy,omitempty"`
}

// CheckGeometry validates every feature of c. Features whose ids come from
// idField are reported with that id; an unknown idField is an error.
func CheckGeometry(c *feature.Collection, idField string, r repair.Repairer) ([]Error, error) {
	ids, err := c.IDs(idField)
	if err != nil {
		return nil, err
	}

	errors := make([]Error, 0)
	for i, f := range c.Features {
		shape := f.Geometry
		if shape == nil {
			errors = append(errors, Error{Ref: i, ID: ids[i].String(), ErrorMessage: "missing geometry", Repair: repair.Failed.String()})
			continue
		}
		if shape.IsValid() {
			continue
		}
		res := r.Repair(shape)
		errors = append(errors, Error{
			Ref:          i,
			ID:           ids[i].String(),
			ErrorMessage: shape.IsValidReason(),
			Repair:       res.Outcome.String(),
			Lossy:        res.Lossy,
		})
	}
	return errors, nil
}
