package ransac

import (
	"fmt"
	"math"
)

// Point represents a 2D image coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Correspondence pairs a point in the source image with its match in the destination image
type Correspondence struct {
	Index       int   `json:"index"`
	Source      Point `json:"source"`
	Destination Point `json:"destination"`
}

// CorrespondenceSet is the read-only input table of a run.
// Index i always addresses the correspondence whose Index field is i.
type CorrespondenceSet struct {
	points []Correspondence
}

// NewCorrespondenceSet copies the given correspondences into an immutable set.
// Indices are reassigned to match slice positions.
func NewCorrespondenceSet(points []Correspondence) (*CorrespondenceSet, error) {
	set := &CorrespondenceSet{points: make([]Correspondence, len(points))}
	for i, c := range points {
		if !finitePoint(c.Source) || !finitePoint(c.Destination) {
			return nil, fmt.Errorf("correspondence %d has non-finite coordinates", i)
		}
		c.Index = i
		set.points[i] = c
	}
	return set, nil
}

// CorrespondencesFromRows builds a set from [x1, y1, x2, y2] rows
func CorrespondencesFromRows(rows [][4]float64) (*CorrespondenceSet, error) {
	points := make([]Correspondence, len(rows))
	for i, r := range rows {
		points[i] = Correspondence{
			Source:      Point{X: r[0], Y: r[1]},
			Destination: Point{X: r[2], Y: r[3]},
		}
	}
	return NewCorrespondenceSet(points)
}

// Len returns the number of correspondences
func (s *CorrespondenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// At returns the correspondence at index i
func (s *CorrespondenceSet) At(i int) Correspondence {
	return s.points[i]
}

// Rows returns the set as [x1, y1, x2, y2] rows
func (s *CorrespondenceSet) Rows() [][4]float64 {
	rows := make([][4]float64, s.Len())
	for i, c := range s.points {
		rows[i] = [4]float64{c.Source.X, c.Source.Y, c.Destination.X, c.Destination.Y}
	}
	return rows
}

// Subset returns the correspondences at the given indices, in order
func (s *CorrespondenceSet) Subset(indices []int) []Correspondence {
	out := make([]Correspondence, len(indices))
	for i, idx := range indices {
		out[i] = s.points[idx]
	}
	return out
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}

func finitePoint(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// collinear reports whether three points lie on a common line within tol
// (twice the triangle area, normalized by the longest side).
func collinear(a, b, c Point, tol float64) bool {
	cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	longest := math.Max(Distance(a, b), math.Max(Distance(b, c), Distance(a, c)))
	if longest < tol {
		return true
	}
	return math.Abs(cross)/longest < tol
}

// coincident reports whether any two points of the slice are within tol of each other
func coincident(points []Point, tol float64) bool {
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if Distance(points[i], points[j]) < tol {
				return true
			}
		}
	}
	return false
}
