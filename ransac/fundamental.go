package ransac

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// FundamentalMatrix relates the two images by x2ᵀ·F·x1 = 0. It is rank 2 and
// scaled to unit Frobenius norm.
type FundamentalMatrix struct {
	F Matrix3 `json:"f"`
}

// FundamentalEstimator fits fundamental matrices: the 7-point algorithm for minimal
// samples and the normalized 8-point algorithm for larger sets.
type FundamentalEstimator struct {
	// Tolerance for coincident sample points, in pixels. Zero uses 1e-6.
	Tolerance float64
}

func (e FundamentalEstimator) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return 1e-6
}

func (FundamentalEstimator) SampleSize() int { return 7 }

func (FundamentalEstimator) NonMinimalSampleSize() int { return 8 }

func (e FundamentalEstimator) IsDegenerate(set *CorrespondenceSet, sample []int) bool {
	return sampleDegenerate(set.Subset(sample), e.tolerance(), false)
}

// EstimateMinimal returns up to three fundamental matrices, one per real root of
// det(α·F1 + (1−α)·F2) = 0.
func (e FundamentalEstimator) EstimateMinimal(set *CorrespondenceSet, sample []int) []FundamentalMatrix {
	if len(sample) != e.SampleSize() || e.IsDegenerate(set, sample) {
		return nil
	}
	cs := set.Subset(sample)
	n1, ok := normalizePoints(sourcePoints(cs))
	if !ok {
		return nil
	}
	n2, ok := normalizePoints(destinationPoints(cs))
	if !ok {
		return nil
	}

	a := epipolarDesign(n1.points, n2.points, nil)
	vectors, values, ok := nullSpace(a, 2)
	if !ok || values[6] < 1e-10*values[0] {
		return nil
	}
	var f1, f2 Matrix3
	copy(f1[:], vectors[0])
	copy(f2[:], vectors[1])

	mix := func(alpha float64) Matrix3 {
		var m Matrix3
		for i := range m {
			m[i] = alpha*f1[i] + (1-alpha)*f2[i]
		}
		return m
	}

	// det(mix(α)) = c0 + c1·α + c2·α² + c3·α³, recovered from four samples
	d0 := mix(0).Det()
	d1 := mix(1).Det()
	dm1 := mix(-1).Det()
	d2 := mix(2).Det()
	c0 := d0
	c2 := (d1+dm1)/2 - c0
	s := (d1 - dm1) / 2
	t := d2 - c0 - 4*c2
	c3 := (t - 2*s) / 6
	c1 := s - c3

	var models []FundamentalMatrix
	for _, alpha := range realCubicRoots(c3, c2, c1, c0) {
		f := n2.T.T().Mul(mix(alpha)).Mul(n1.T)
		if !f.Finite() || f.Norm() == 0 {
			continue
		}
		m := FundamentalMatrix{F: f.Scaled()}
		if e.IsValid(m) {
			models = append(models, m)
		}
	}
	return models
}

// EstimateNonMinimal runs the weighted normalized 8-point algorithm and enforces rank 2.
func (e FundamentalEstimator) EstimateNonMinimal(set *CorrespondenceSet, indices []int, weights []float64) (FundamentalMatrix, bool) {
	if len(indices) < e.NonMinimalSampleSize() {
		return FundamentalMatrix{}, false
	}
	cs := set.Subset(indices)
	n1, ok := normalizePoints(sourcePoints(cs))
	if !ok {
		return FundamentalMatrix{}, false
	}
	n2, ok := normalizePoints(destinationPoints(cs))
	if !ok {
		return FundamentalMatrix{}, false
	}

	a := epipolarDesign(n1.points, n2.points, weights)
	vectors, values, ok := nullSpace(a, 1)
	if !ok || values[7] < 1e-10*values[0] {
		return FundamentalMatrix{}, false
	}
	var fn Matrix3
	copy(fn[:], vectors[0])

	fn, ok = enforceRank2(fn)
	if !ok {
		return FundamentalMatrix{}, false
	}
	f := n2.T.T().Mul(fn).Mul(n1.T)
	if !f.Finite() || f.Norm() == 0 {
		return FundamentalMatrix{}, false
	}
	m := FundamentalMatrix{F: f.Scaled()}
	if !e.IsValid(m) {
		return FundamentalMatrix{}, false
	}
	return m, true
}

// Residual is the square root of the Sampson distance
func (FundamentalEstimator) Residual(m FundamentalMatrix, c Correspondence) float64 {
	f := m.F
	x1, y1 := c.Source.X, c.Source.Y
	x2, y2 := c.Destination.X, c.Destination.Y

	fx0, fx1, fx2 := f.Apply(x1, y1)
	ftx0 := f[0]*x2 + f[3]*y2 + f[6]
	ftx1 := f[1]*x2 + f[4]*y2 + f[7]

	algebraic := x2*fx0 + y2*fx1 + fx2
	den := fx0*fx0 + fx1*fx1 + ftx0*ftx0 + ftx1*ftx1
	if den < 1e-300 {
		return math.Inf(1)
	}
	return math.Sqrt(algebraic * algebraic / den)
}

// IsValid requires finite entries and a non-zero matrix
func (FundamentalEstimator) IsValid(m FundamentalMatrix) bool {
	return m.F.Finite() && m.F.Norm() > 1e-12
}

// epipolarDesign builds the rows of x2ᵀ·F·x1 = 0, padded to at least nine rows
func epipolarDesign(src, dst []Point, weights []float64) *mat.Dense {
	rows := len(src)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range src {
		w := weightAt(weights, i)
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(i, []float64{w * u * x, w * u * y, w * u, w * v * x, w * v * y, w * v, w * x, w * y, w})
	}
	return a
}

func enforceRank2(f Matrix3) (Matrix3, bool) {
	var svd mat.SVD
	if !svd.Factorize(f.dense(), mat.SVDFull) {
		return Matrix3{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	d := mat.NewDiagDense(3, []float64{s[0], s[1], 0})

	var r mat.Dense
	r.Product(&u, d, v.T())
	return matrix3From(&r), true
}

// realCubicRoots returns the real roots of c3·x³ + c2·x² + c1·x + c0, falling back
// to the quadratic or linear case when leading coefficients vanish.
func realCubicRoots(c3, c2, c1, c0 float64) []float64 {
	scale := math.Max(math.Max(math.Abs(c0), math.Abs(c1)), math.Max(math.Abs(c2), math.Abs(c3)))
	if scale == 0 {
		return nil
	}
	const eps = 1e-12
	switch {
	case math.Abs(c3) > eps*scale:
		companion := mat.NewDense(3, 3, []float64{
			-c2 / c3, -c1 / c3, -c0 / c3,
			1, 0, 0,
			0, 1, 0,
		})
		var eig mat.Eigen
		if !eig.Factorize(companion, mat.EigenNone) {
			return nil
		}
		var roots []float64
		for _, z := range eig.Values(nil) {
			if math.Abs(imag(z)) < 1e-10*math.Max(1, cmplx.Abs(z)) {
				roots = append(roots, real(z))
			}
		}
		return roots
	case math.Abs(c2) > eps*scale:
		disc := c1*c1 - 4*c2*c0
		if disc < 0 {
			return nil
		}
		sq := math.Sqrt(disc)
		return []float64{(-c1 + sq) / (2 * c2), (-c1 - sq) / (2 * c2)}
	case math.Abs(c1) > eps*scale:
		return []float64{-c0 / c1}
	}
	return nil
}
