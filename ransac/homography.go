package ransac

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Homography is a projective 3x3 transform from the source to the destination image,
// scaled to unit Frobenius norm.
type Homography struct {
	H Matrix3 `json:"h"`
}

// Project maps a source point into the destination image. ok is false for points
// sent to infinity.
func (h Homography) Project(p Point) (Point, bool) {
	x, y, w := h.H.Apply(p.X, p.Y)
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{X: x / w, Y: y / w}, true
}

// HomographyEstimator fits homographies with the normalized direct linear transform.
type HomographyEstimator struct {
	// Tolerance for coincident and collinear sample points, in pixels. Zero uses 1e-6.
	Tolerance float64
}

func (e HomographyEstimator) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return 1e-6
}

func (HomographyEstimator) SampleSize() int { return 4 }

func (HomographyEstimator) NonMinimalSampleSize() int { return 4 }

func (e HomographyEstimator) IsDegenerate(set *CorrespondenceSet, sample []int) bool {
	return sampleDegenerate(set.Subset(sample), e.tolerance(), true)
}

func (e HomographyEstimator) EstimateMinimal(set *CorrespondenceSet, sample []int) []Homography {
	if len(sample) != e.SampleSize() || e.IsDegenerate(set, sample) {
		return nil
	}
	h, ok := solveHomography(set.Subset(sample), nil)
	if !ok || !e.IsValid(h) {
		return nil
	}
	return []Homography{h}
}

func (e HomographyEstimator) EstimateNonMinimal(set *CorrespondenceSet, indices []int, weights []float64) (Homography, bool) {
	if len(indices) < e.NonMinimalSampleSize() {
		return Homography{}, false
	}
	h, ok := solveHomography(set.Subset(indices), weights)
	if !ok || !e.IsValid(h) {
		return Homography{}, false
	}
	return h, true
}

// Residual is the forward transfer error |H·x1 − x2|
func (HomographyEstimator) Residual(h Homography, c Correspondence) float64 {
	p, ok := h.Project(c.Source)
	if !ok {
		return math.Inf(1)
	}
	return Distance(p, c.Destination)
}

func (HomographyEstimator) IsValid(h Homography) bool {
	if !h.H.Finite() || h.H.Norm() == 0 {
		return false
	}
	return math.Abs(h.H.Scaled().Det()) > 1e-10
}

func solveHomography(cs []Correspondence, weights []float64) (Homography, bool) {
	n1, ok := normalizePoints(sourcePoints(cs))
	if !ok {
		return Homography{}, false
	}
	n2, ok := normalizePoints(destinationPoints(cs))
	if !ok {
		return Homography{}, false
	}

	rows := 2 * len(cs)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range cs {
		w := weightAt(weights, i)
		x, y := n1.points[i].X, n1.points[i].Y
		u, v := n2.points[i].X, n2.points[i].Y
		a.SetRow(2*i, []float64{-w * x, -w * y, -w, 0, 0, 0, w * u * x, w * u * y, w * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -w * x, -w * y, -w, w * v * x, w * v * y, w * v})
	}

	vectors, values, ok := nullSpace(a, 1)
	if !ok {
		return Homography{}, false
	}
	// A unique solution needs rank 8
	if values[7] < 1e-10*values[0] {
		return Homography{}, false
	}
	var hn Matrix3
	copy(hn[:], vectors[0])

	h := n2.inverse().Mul(hn).Mul(n1.T)
	if !h.Finite() || h.Norm() == 0 {
		return Homography{}, false
	}
	return Homography{H: h.Scaled()}, true
}
