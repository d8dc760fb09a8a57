package utils

import (
	"math"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geos"
)

// SpatialIndex is an R-tree over geometry bounding boxes. It only narrows
// the set of geometries worth testing; exact predicates are still run by
// the caller.
type SpatialIndex struct {
	tree *rtreego.Rtree
	size int
}

// IndexedGeometry is the R-tree entry for one geometry, keyed by its
// position in the indexed layer.
type IndexedGeometry struct {
	Index int
	box   rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (ig *IndexedGeometry) Bounds() rtreego.Rect {
	return ig.box
}

func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{tree: rtreego.NewTree(2, 25, 50)}
}

// AddGeometry indexes geom under index. Nil and empty geometries are
// skipped since they cannot intersect anything.
func (si *SpatialIndex) AddGeometry(geom *geos.Geom, index int) bool {
	box, ok := boundsRect(geom)
	if !ok {
		return false
	}
	si.tree.Insert(&IndexedGeometry{Index: index, box: box})
	si.size++
	return true
}

func (si *SpatialIndex) Size() int { return si.size }

// Candidates returns the indexes of geometries whose bounding boxes meet
// geom's bounding box, in ascending order.
func (si *SpatialIndex) Candidates(geom *geos.Geom) []int {
	box, ok := boundsRect(geom)
	if !ok {
		return []int{}
	}
	hits := si.tree.SearchIntersect(box)
	indexes := make([]int, 0, len(hits))
	for _, hit := range hits {
		indexes = append(indexes, hit.(*IndexedGeometry).Index)
	}
	slices.Sort(indexes)
	return indexes
}

// boundsRect converts GEOS bounds into an R-tree rectangle. The box is
// padded slightly so that touching and zero-width boxes still register as
// intersecting; rtreego rejects zero lengths.
func boundsRect(geom *geos.Geom) (rtreego.Rect, bool) {
	if geom == nil || geom.IsEmpty() {
		return rtreego.Rect{}, false
	}
	b := geom.Bounds()
	if b == nil {
		return rtreego.Rect{}, false
	}
	scale := math.Max(1, math.Max(math.Max(math.Abs(b.MinX), math.Abs(b.MaxX)), math.Max(math.Abs(b.MinY), math.Abs(b.MaxY))))
	eps := scale * 1e-9

	point := rtreego.Point{b.MinX - eps, b.MinY - eps}
	lengths := []float64{b.MaxX - b.MinX + 2*eps, b.MaxY - b.MinY + 2*eps}
	rect, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
