// Package spatial answers proximity queries over one tick's snapshot using a
// k-d tree.
package spatial

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/sim/body"
)

// randoms is the sample size used to pick a pivot at each tree level.
const randoms = 100

// TagFilter selects objects by tag bits: every All bit set, at least one Any
// bit set when Any is non-zero, and no None bit set. The zero filter matches
// everything.
type TagFilter struct {
	All  uint32
	Any  uint32
	None uint32
}

func (f TagFilter) Match(tags uint32) bool {
	if tags&f.All != f.All {
		return false
	}
	if f.Any != 0 && tags&f.Any == 0 {
		return false
	}
	return tags&f.None == 0
}

// Hit is one radius query result.
type Hit struct {
	ID    uint64
	Index int // row in the view's snapshot
	Dist2 float64
}

// Pair is two objects whose bounding spheres overlap or touch, A < B.
type Pair struct {
	A, B uint64
}

// View is the query structure for one tick. It is read-only once built.
type View struct {
	snap      *body.Snapshot
	tree      *kdtree.Tree
	maxRadius float64
}

// Build indexes every object of s.
func Build(s *body.Snapshot) *View {
	n := s.Len()
	pts := make(points, n)
	v := &View{snap: s}
	for i := 0; i < n; i++ {
		j := 3 * i
		pts[i] = point{id: s.IDs[i], idx: i, pos: [3]float64{s.Pos[j], s.Pos[j+1], s.Pos[j+2]}}
		if r := s.Radius[i]; r > v.maxRadius {
			v.maxRadius = r
		}
	}
	if n > 0 {
		v.tree = kdtree.New(pts, false)
	}
	return v
}

func (v *View) Snapshot() *body.Snapshot { return v.snap }
func (v *View) Tick() uint64             { return v.snap.Tick }
func (v *View) Len() int                 { return v.snap.Len() }

// Within returns every object whose distance to p is <= radius and whose tags
// pass f, ordered by distance then id.
func (v *View) Within(p mathx.Vec3, radius float64, f TagFilter) []Hit {
	if v.tree == nil || radius < 0 {
		return nil
	}
	keep := kdtree.NewDistKeeper(radius * radius)
	v.tree.NearestSet(keep, point{pos: [3]float64{p.X, p.Y, p.Z}})

	out := make([]Hit, 0, keep.Len())
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		q := c.Comparable.(point)
		if !f.Match(v.snap.Tags[q.idx]) {
			continue
		}
		out = append(out, Hit{ID: q.id, Index: q.idx, Dist2: c.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dist2 != out[j].Dist2 {
			return out[i].Dist2 < out[j].Dist2
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// QueryRadius is Within reduced to object ids.
func (v *View) QueryRadius(p mathx.Vec3, radius float64, f TagFilter) []uint64 {
	hits := v.Within(p, radius, f)
	if len(hits) == 0 {
		return nil
	}
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// QueryCollisions returns every pair whose distance is <= the sum of their
// radii, sorted by (A, B).
func (v *View) QueryCollisions() []Pair {
	s := v.snap
	var out []Pair
	for i := 0; i < s.Len(); i++ {
		ri := s.Radius[i]
		for _, h := range v.Within(s.Position(i), ri+v.maxRadius, TagFilter{}) {
			if h.Index == i || h.ID < s.IDs[i] {
				continue
			}
			reach := ri + s.Radius[h.Index]
			if h.Dist2 <= reach*reach {
				out = append(out, Pair{A: s.IDs[i], B: h.ID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

type point struct {
	id  uint64
	idx int
	pos [3]float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.pos[d] - q.pos[d]
}

func (p point) Dims() int { return 3 }

// Distance is squared, as the tree's pruning expects.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx := p.pos[0] - q.pos[0]
	dy := p.pos[1] - q.pos[1]
	dz := p.pos[2] - q.pos[2]
	return dx*dx + dy*dy + dz*dz
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Pivot(d kdtree.Dim) int                { return plane{Dim: d, points: p}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool { return p.points[i].pos[p.Dim] < p.points[j].pos[p.Dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfRandoms(p, randoms)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
