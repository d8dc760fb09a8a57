// Package repair turns invalid polygons into valid ones before they are
// compared. It applies one heuristic (zero-width buffer, then a
// topology-preserving simplification) and never fails: when nothing valid
// can be recovered the input is handed back untouched.
package repair

import (
	"fmt"

	"github.com/twpayne/go-geos"
)

// DefaultSimplifyTolerance is in the geometry's own coordinate units.
const DefaultSimplifyTolerance = 0.0001

// DefaultQuadSegs is the arc resolution passed to the zero-width buffer.
const DefaultQuadSegs = 8

// Outcome records which repair step produced a result.
type Outcome int

const (
	Unchanged Outcome = iota
	Buffered
	Simplified
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Buffered:
		return "buffered"
	case Simplified:
		return "simplified"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the repaired geometry plus how it was obtained.
//
// Lossy is set when the repair collapsed into a mixed collection and only
// its largest polygon was kept. That is an approximation that can silently
// drop real parts; callers that need strict results should treat it as a
// warning.
type Result struct {
	Geom    *geos.Geom
	Outcome Outcome
	Lossy   bool
	Reason  string
}

// Repairer holds repair settings only; it has no working state and is safe
// to share between goroutines.
type Repairer struct {
	SimplifyTolerance float64
	QuadSegs          int
}

func Default() Repairer {
	return Repairer{
		SimplifyTolerance: DefaultSimplifyTolerance,
		QuadSegs:          DefaultQuadSegs,
	}
}

// Repair applies the default Repairer and returns only the geometry.
func Repair(g *geos.Geom) *geos.Geom {
	return Default().Repair(g).Geom
}

// Repair returns g itself when it is empty or already valid, so repairing a
// repaired geometry is a no-op. Otherwise it buffers by zero, simplifies if
// still invalid, and reduces a mixed collection to its largest polygon.
func (r Repairer) Repair(g *geos.Geom) (result Result) {
	result = Result{Geom: g, Outcome: Unchanged}
	if g == nil {
		return result
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Geom: g, Outcome: Failed, Reason: fmt.Sprintf("geos: %v", rec)}
		}
	}()

	if g.IsEmpty() || g.IsValid() {
		return result
	}
	reason := g.IsValidReason()

	quadSegs := r.QuadSegs
	if quadSegs <= 0 {
		quadSegs = DefaultQuadSegs
	}
	tolerance := r.SimplifyTolerance
	if tolerance <= 0 {
		tolerance = DefaultSimplifyTolerance
	}

	fixed := g.Buffer(0, quadSegs)
	outcome := Buffered
	if fixed != nil && !fixed.IsValid() {
		fixed = fixed.TopologyPreserveSimplify(tolerance)
		outcome = Simplified
	}
	if fixed == nil {
		return Result{Geom: g, Outcome: Failed, Reason: reason}
	}

	lossy := false
	if fixed.TypeID() == geos.TypeIDGeometryCollection {
		fixed, lossy = LargestPolygon(fixed)
	}
	if fixed == nil || fixed.IsEmpty() || !isPolygonal(fixed) || !fixed.IsValid() {
		return Result{Geom: g, Outcome: Failed, Reason: reason}
	}

	return Result{Geom: fixed, Outcome: outcome, Lossy: lossy, Reason: reason}
}

// LargestPolygon picks the polygonal member with the largest area from a
// geometry collection, discarding everything else. Ties keep the member
// that comes first. The second result reports whether anything was dropped.
// A polygonal input is returned as is; nil means no polygonal member exists.
func LargestPolygon(g *geos.Geom) (*geos.Geom, bool) {
	if g == nil {
		return nil, false
	}
	if isPolygonal(g) {
		return g, false
	}
	if g.TypeID() != geos.TypeIDGeometryCollection {
		return nil, true
	}

	var best *geos.Geom
	bestArea := -1.0
	n := g.NumGeometries()
	for i := range n {
		member := g.Geometry(i)
		if !isPolygonal(member) {
			continue
		}
		if area := member.Area(); area > bestArea {
			best, bestArea = member, area
		}
	}
	if best == nil {
		return nil, n > 0
	}
	return best.Clone(), n > 1
}

func isPolygonal(g *geos.Geom) bool {
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return true
	default:
		return false
	}
}
