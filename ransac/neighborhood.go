package ransac

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// NeighborhoodGraph is the symmetric adjacency structure over correspondence indices
// used by the spatial coherence term. It is read-only once built.
type NeighborhoodGraph struct {
	adjacency [][]int
	edges     int
}

// Neighbors returns the sorted neighbor indices of correspondence i. The slice must not be modified.
func (g *NeighborhoodGraph) Neighbors(i int) []int {
	return g.adjacency[i]
}

// Len returns the number of vertices
func (g *NeighborhoodGraph) Len() int {
	return len(g.adjacency)
}

// EdgeCount returns the number of undirected edges
func (g *NeighborhoodGraph) EdgeCount() int {
	return g.edges
}

// BuildNeighborhoodGraph connects every pair of correspondences whose distance in the
// configured space is at most radius. Queries fan out over `workers` goroutines.
func BuildNeighborhoodGraph(ctx context.Context, set *CorrespondenceSet, radius float64, index NeighborhoodIndex, space NeighborhoodSpace, workers int) (*NeighborhoodGraph, error) {
	if radius <= 0 || math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: neighborhood radius must be > 0, got %v", ErrInvalidConfiguration, radius)
	}
	n := set.Len()
	lists := make([][]int, n)

	var query func(i int) []int
	switch index {
	case IndexQuadtree:
		if space == SpaceJoint {
			return nil, fmt.Errorf("%w: quadtree index cannot search the joint space", ErrInvalidConfiguration)
		}
		q, err := newQuadtreeIndex(set, space)
		if err != nil {
			return nil, err
		}
		query = func(i int) []int { return q.within(i, radius) }
	case IndexKDTree:
		k := newKDTreeIndex(set, space)
		query = func(i int) []int { return k.within(i, radius) }
	default:
		return nil, fmt.Errorf("%w: unknown neighborhood index %q", ErrInvalidConfiguration, index)
	}

	err := parallelFor(ctx, workers, n, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			lists[i] = query(i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return symmetrize(lists), nil
}

func symmetrize(lists [][]int) *NeighborhoodGraph {
	adjacency := make([][]int, len(lists))
	for i, list := range lists {
		for _, j := range list {
			if i == j {
				continue
			}
			adjacency[i] = append(adjacency[i], j)
			adjacency[j] = append(adjacency[j], i)
		}
	}
	edges := 0
	for i := range adjacency {
		slices.Sort(adjacency[i])
		adjacency[i] = slices.Compact(adjacency[i])
		edges += len(adjacency[i])
	}
	return &NeighborhoodGraph{adjacency: adjacency, edges: edges / 2}
}

func spacePoint(c Correspondence, space NeighborhoodSpace) orb.Point {
	if space == SpaceDestination {
		return orb.Point{c.Destination.X, c.Destination.Y}
	}
	return orb.Point{c.Source.X, c.Source.Y}
}

// indexedPoint lets the quadtree hand back correspondence indices
type indexedPoint struct {
	index int
	point orb.Point
}

func (p indexedPoint) Point() orb.Point { return p.point }

type quadtreeIndex struct {
	tree   *quadtree.Quadtree
	points []indexedPoint
}

func newQuadtreeIndex(set *CorrespondenceSet, space NeighborhoodSpace) (*quadtreeIndex, error) {
	points := make([]indexedPoint, set.Len())
	mp := make(orb.MultiPoint, set.Len())
	for i := range points {
		p := spacePoint(set.At(i), space)
		points[i] = indexedPoint{index: i, point: p}
		mp[i] = p
	}
	tree := quadtree.New(mp.Bound().Pad(1))
	for _, p := range points {
		if err := tree.Add(p); err != nil {
			return nil, fmt.Errorf("indexing correspondence %d: %w", p.index, err)
		}
	}
	return &quadtreeIndex{tree: tree, points: points}, nil
}

func (q *quadtreeIndex) within(i int, radius float64) []int {
	center := q.points[i].point
	found := q.tree.InBound(nil, center.Bound().Pad(radius))
	var out []int
	for _, f := range found {
		p := f.(indexedPoint)
		if p.index != i && planar.Distance(center, p.point) <= radius {
			out = append(out, p.index)
		}
	}
	return out
}

// kdPoint is a correspondence in a 2-D or 4-D search space
type kdPoint struct {
	index  int
	coords []float64
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(kdPoint).coords[d]
}

func (p kdPoint) Dims() int { return len(p.coords) }

// Distance returns the squared Euclidean distance
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	var sum float64
	for d, v := range p.coords {
		diff := v - q.coords[d]
		sum += diff * diff
	}
	return sum
}

// kdPoints satisfies kdtree.Interface
type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p kdPoints) Pivot(d kdtree.Dim) int {
	plane := kdPlane{kdPoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, 100))
}

// kdPlane implements sort.Interface and kdtree.SortSlicer for kdPoints
type kdPlane struct {
	kdPoints
	kdtree.Dim
}

func (p kdPlane) Less(i, j int) bool {
	return p.kdPoints[i].coords[p.Dim] < p.kdPoints[j].coords[p.Dim]
}

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	return kdPlane{kdPoints: p.kdPoints[start:end], Dim: p.Dim}
}

func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}

type kdTreeIndex struct {
	tree   *kdtree.Tree
	points []kdPoint // by correspondence index; the tree holds a reordered copy
}

func newKDTreeIndex(set *CorrespondenceSet, space NeighborhoodSpace) *kdTreeIndex {
	points := make([]kdPoint, set.Len())
	for i := range points {
		c := set.At(i)
		switch space {
		case SpaceJoint:
			points[i] = kdPoint{index: i, coords: []float64{c.Source.X, c.Source.Y, c.Destination.X, c.Destination.Y}}
		case SpaceDestination:
			points[i] = kdPoint{index: i, coords: []float64{c.Destination.X, c.Destination.Y}}
		default:
			points[i] = kdPoint{index: i, coords: []float64{c.Source.X, c.Source.Y}}
		}
	}
	return &kdTreeIndex{
		tree:   kdtree.New(slices.Clone(kdPoints(points)), false),
		points: points,
	}
}

func (k *kdTreeIndex) within(i int, radius float64) []int {
	keeper := kdtree.NewDistKeeper(radius * radius)
	k.tree.NearestSet(keeper, k.points[i])
	var out []int
	for _, item := range keeper.Heap {
		if item.Comparable == nil {
			continue
		}
		p := item.Comparable.(kdPoint)
		if p.index != i && item.Dist <= radius*radius {
			out = append(out, p.index)
		}
	}
	return out
}
