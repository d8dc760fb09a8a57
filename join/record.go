package join

import (
	"encoding/json"
	"fmt"

	"github.com/aidingjing/shp-data/feature"
)

// RelationType classifies how a source feature relates to its matched
// target.
type RelationType int

const (
	NoIntersection RelationType = iota
	PartialOverlap
	Contained
)

func (r RelationType) String() string {
	switch r {
	case Contained:
		return "contained"
	case PartialOverlap:
		return "partial_overlap"
	case NoIntersection:
		return "no_intersection"
	default:
		return fmt.Sprintf("RelationType(%d)", int(r))
	}
}

func (r RelationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// MatchRecord is the join result for one source feature. TargetIndex is the
// matched target's position in its layer, or -1 when nothing matched; in
// that case TargetID is null and TargetAttributes holds every target field
// set to null.
type MatchRecord struct {
	SourceID         feature.Value      `json:"source_id"`
	SourceAttributes feature.Attributes `json:"source_attributes"`
	TargetIndex      int                `json:"-"`
	TargetID         feature.Value      `json:"target_id"`
	TargetAttributes feature.Attributes `json:"target_attributes"`
	Relation         RelationType       `json:"relation_type"`
	IntersectionArea float64            `json:"intersection_area"`
	OverlapRatio     float64            `json:"overlap_ratio"`
}

// Matched reports whether the record carries a target.
func (m MatchRecord) Matched() bool {
	return m.Relation != NoIntersection
}
