// Package join attaches to every source polygon the attributes of the one
// target polygon it belongs to: the first target that fully contains it, or
// else the target it overlaps most.
package join

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/metrics"
	"github.com/aidingjing/shp-data/repair"
	"github.com/aidingjing/shp-data/utils"
)

// Options configure an Engine. The zero value joins sequentially with a
// full scan of the target layer and the default repair settings.
type Options struct {
	// SourceIDField and TargetIDField name the attribute used as feature
	// id. Empty means the feature's 0-based position.
	SourceIDField string
	TargetIDField string

	Repairer repair.Repairer

	// UseIndex narrows the targets tested per source feature with an R-tree
	// over target bounding boxes. Results are identical either way.
	UseIndex bool

	// Workers is the number of source features matched concurrently.
	Workers int

	// Progress, if set, is called once per matched source feature. With
	// more than one worker it is called from several goroutines.
	Progress func(done, total int)

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.Repairer == (repair.Repairer{}) {
		opts.Repairer = repair.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{opts: opts}
}

// Join returns one MatchRecord per source feature, in source order. The
// input collections are not modified.
func (e *Engine) Join(ctx context.Context, source, target *feature.Collection) ([]MatchRecord, error) {
	if err := feature.Preflight(source, target, e.opts.SourceIDField, e.opts.TargetIDField); err != nil {
		return nil, err
	}
	sourceIDs, err := source.IDs(e.opts.SourceIDField)
	if err != nil {
		return nil, err
	}
	targetIDs, err := target.IDs(e.opts.TargetIDField)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := e.opts.Logger.With(zap.String("run_id", uuid.NewString()))
	log.Info("join started",
		zap.String("source", source.Name),
		zap.Int("source_features", source.Len()),
		zap.String("target", target.Name),
		zap.Int("target_features", target.Len()),
		zap.Bool("use_index", e.opts.UseIndex),
		zap.Int("workers", e.opts.Workers))

	r := &run{
		opts:        e.opts,
		log:         log,
		source:      source,
		target:      target,
		sourceIDs:   sourceIDs,
		targetIDs:   targetIDs,
		targets:     make([]lazyTarget, target.Len()),
		targetNulls: feature.NullsFor(target.Fields),
	}
	if e.opts.UseIndex {
		r.index = utils.NewSpatialIndex()
		for i, f := range target.Features {
			r.index.AddGeometry(f.Geometry, i)
		}
		log.Debug("target index built", zap.Int("entries", r.index.Size()))
	}

	tracker := utils.NewProgressTracker(int64(source.Len()), "join", e.opts.Progress)
	pp := utils.NewParallelProcessor(e.opts.Workers)
	records, err := utils.ProcessOrdered(ctx, pp, source.Features, r.match, tracker)
	if err != nil {
		done, total, pct := tracker.GetProgress()
		log.Warn("join aborted",
			zap.Error(err),
			zap.Int64("processed", done),
			zap.Int64("total", total),
			zap.Float64("percent", pct))
		return nil, fmt.Errorf("join %s onto %s: %w", source.Name, target.Name, err)
	}

	for _, rec := range records {
		e.opts.Metrics.ObserveRecord(rec.Relation.String())
	}
	elapsed := time.Since(start)
	e.opts.Metrics.ObserveJoin(elapsed)

	s := Summarize(records)
	log.Info("join finished",
		zap.Int("total", s.Total),
		zap.Int("contained", s.Contained),
		zap.Int("partial_overlap", s.Partial),
		zap.Int("no_intersection", s.None),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Duration("elapsed", elapsed),
		zap.Float64("features_per_sec", tracker.Rate()))
	return records, nil
}

// lazyTarget is a target geometry repaired on first use and shared by all
// workers afterwards.
type lazyTarget struct {
	once sync.Once
	geom *geos.Geom
}

type run struct {
	opts        Options
	log         *zap.Logger
	source      *feature.Collection
	target      *feature.Collection
	sourceIDs   []feature.Value
	targetIDs   []feature.Value
	targets     []lazyTarget
	targetNulls feature.Attributes
	index       *utils.SpatialIndex
}

func (r *run) match(ctx context.Context, i int, f *feature.Feature) (MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return MatchRecord{}, err
	}

	rec := MatchRecord{
		SourceID:         r.sourceIDs[i],
		SourceAttributes: f.Attributes.Clone(),
		TargetIndex:      -1,
		TargetID:         feature.Null(),
		TargetAttributes: r.targetNulls.Clone(),
		Relation:         NoIntersection,
	}

	src := r.repair(r.source.Name, i, f.Geometry)
	candidates := r.candidates(src)

	for _, j := range candidates {
		tgt := r.targetGeom(j)
		if r.within(src, tgt) {
			r.setTarget(&rec, j)
			rec.Relation = Contained
			rec.IntersectionArea = r.area(src)
			rec.OverlapRatio = 1
			return rec, nil
		}
	}

	best, bestArea := -1, 0.0
	for _, j := range candidates {
		area := r.intersectionArea(src, r.targetGeom(j))
		if area > bestArea {
			best, bestArea = j, area
		}
	}
	if best < 0 {
		return rec, nil
	}

	r.setTarget(&rec, best)
	rec.Relation = PartialOverlap
	rec.IntersectionArea = bestArea
	if srcArea := r.area(src); srcArea > 0 {
		rec.OverlapRatio = min(max(bestArea/srcArea, 0), 1)
	}
	return rec, nil
}

func (r *run) setTarget(rec *MatchRecord, j int) {
	rec.TargetIndex = j
	rec.TargetID = r.targetIDs[j]
	rec.TargetAttributes = r.target.Features[j].Attributes.Clone()
}

// candidates lists target positions worth testing, always ascending so that
// the first-match rules see targets in layer order.
func (r *run) candidates(src *geos.Geom) []int {
	if r.index != nil {
		return r.index.Candidates(src)
	}
	all := make([]int, len(r.targets))
	for j := range all {
		all[j] = j
	}
	return all
}

func (r *run) targetGeom(j int) *geos.Geom {
	t := &r.targets[j]
	t.once.Do(func() {
		t.geom = r.repair(r.target.Name, j, r.target.Features[j].Geometry)
	})
	return t.geom
}

func (r *run) repair(layer string, i int, g *geos.Geom) *geos.Geom {
	res := r.opts.Repairer.Repair(g)
	if res.Outcome == repair.Unchanged {
		return res.Geom
	}
	r.opts.Metrics.ObserveRepair(res.Outcome.String())
	fields := []zap.Field{
		zap.String("layer", layer),
		zap.Int("feature", i),
		zap.Stringer("outcome", res.Outcome),
		zap.String("reason", res.Reason),
	}
	switch {
	case res.Outcome == repair.Failed:
		r.log.Warn("geometry could not be repaired; using it as is", fields...)
	case res.Lossy:
		r.log.Warn("repair kept only the largest polygon", fields...)
	default:
		r.log.Debug("geometry repaired", fields...)
	}
	return res.Geom
}

// within treats a predicate that GEOS cannot evaluate as not contained.
func (r *run) within(src, tgt *geos.Geom) (ok bool) {
	if src == nil || tgt == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.predicateFailed("within", rec)
			ok = false
		}
	}()
	return src.Within(tgt)
}

// intersectionArea returns 0 for disjoint pairs and for pairs whose overlay
// GEOS cannot compute.
func (r *run) intersectionArea(src, tgt *geos.Geom) (area float64) {
	if src == nil || tgt == nil {
		return 0
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.predicateFailed("intersection", rec)
			area = 0
		}
	}()
	if !src.Intersects(tgt) {
		return 0
	}
	inter := src.Intersection(tgt)
	if inter == nil {
		return 0
	}
	return inter.Area()
}

func (r *run) area(g *geos.Geom) (area float64) {
	if g == nil {
		return 0
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.predicateFailed("area", rec)
			area = 0
		}
	}()
	return g.Area()
}

func (r *run) predicateFailed(op string, rec any) {
	r.opts.Metrics.ObservePredicateError()
	r.log.Warn("spatial operation failed", zap.String("op", op), zap.Any("panic", rec))
}
