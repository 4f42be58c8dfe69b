package ransac

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator is the model-fitting capability the engine is generic over.
// Implementations must be deterministic and safe for concurrent calls to
// Residual, since scoring fans out across workers.
type Estimator[M any] interface {
	// SampleSize is the number of correspondences in a minimal sample.
	SampleSize() int

	// NonMinimalSampleSize is the fewest correspondences EstimateNonMinimal accepts.
	NonMinimalSampleSize() int

	// EstimateMinimal returns zero or more candidate models from a minimal sample.
	EstimateMinimal(set *CorrespondenceSet, sample []int) []M

	// EstimateNonMinimal fits a model to the given correspondences in a least-squares sense.
	// weights may be nil, otherwise it has one non-negative entry per index.
	EstimateNonMinimal(set *CorrespondenceSet, indices []int, weights []float64) (M, bool)

	// Residual is the non-negative fitting error of one correspondence.
	Residual(model M, c Correspondence) float64

	// IsValid rejects numerically unusable models.
	IsValid(model M) bool

	// IsDegenerate reports whether a minimal sample cannot determine a unique model.
	IsDegenerate(set *CorrespondenceSet, sample []int) bool
}

// Matrix3 is a row-major 3x3 matrix
type Matrix3 [9]float64

// Identity3 returns the 3x3 identity matrix
func Identity3() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Mul returns m * o
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[3*i+j] = m[3*i]*o[j] + m[3*i+1]*o[3+j] + m[3*i+2]*o[6+j]
		}
	}
	return r
}

// T returns the transpose
func (m Matrix3) T() Matrix3 {
	return Matrix3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

// Det returns the determinant
func (m Matrix3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Apply multiplies m with the homogeneous vector (x, y, 1)
func (m Matrix3) Apply(x, y float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5], m[6]*x + m[7]*y + m[8]
}

// Norm returns the Frobenius norm
func (m Matrix3) Norm() float64 {
	var s float64
	for _, v := range m {
		s += v * v
	}
	return math.Sqrt(s)
}

// Scaled returns m divided by its Frobenius norm, with a non-negative last non-zero entry
func (m Matrix3) Scaled() Matrix3 {
	n := m.Norm()
	if n == 0 {
		return m
	}
	sign := 1.0
	for i := 8; i >= 0; i-- {
		if math.Abs(m[i]) > 1e-12 {
			if m[i] < 0 {
				sign = -1
			}
			break
		}
	}
	var r Matrix3
	for i, v := range m {
		r[i] = sign * v / n
	}
	return r
}

// Finite reports whether every entry is a finite number
func (m Matrix3) Finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (m Matrix3) dense() *mat.Dense {
	return mat.NewDense(3, 3, m[:])
}

func matrix3From(d mat.Matrix) Matrix3 {
	var m Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[3*i+j] = d.At(i, j)
		}
	}
	return m
}

// normalization is the Hartley conditioning of one image's points:
// translate the centroid to the origin and scale the mean distance to sqrt(2).
type normalization struct {
	T      Matrix3
	points []Point
}

func normalizePoints(points []Point) (normalization, bool) {
	c := Centroid(points)
	var mean float64
	for _, p := range points {
		mean += Distance(p, c)
	}
	mean /= float64(len(points))
	if mean < 1e-12 {
		return normalization{}, false
	}
	s := math.Sqrt2 / mean
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{X: s * (p.X - c.X), Y: s * (p.Y - c.Y)}
	}
	return normalization{
		T:      Matrix3{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1},
		points: out,
	}, true
}

// inverse undoes the conditioning transform
func (n normalization) inverse() Matrix3 {
	s, tx, ty := n.T[0], n.T[2], n.T[5]
	return Matrix3{1 / s, 0, -tx / s, 0, 1 / s, -ty / s, 0, 0, 1}
}

// nullSpace returns the right singular vectors of a belonging to the
// `count` smallest singular values, smallest last, together with all singular values.
func nullSpace(a *mat.Dense, count int) ([][]float64, []float64, bool) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, nil, false
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	vectors := make([][]float64, 0, count)
	for k := cols - count; k < cols; k++ {
		vectors = append(vectors, mat.Col(nil, k, &v))
	}
	return vectors, svd.Values(nil), true
}

// sourcePoints and destinationPoints extract one side of the given correspondences
func sourcePoints(cs []Correspondence) []Point {
	out := make([]Point, len(cs))
	for i, c := range cs {
		out[i] = c.Source
	}
	return out
}

func destinationPoints(cs []Correspondence) []Point {
	out := make([]Point, len(cs))
	for i, c := range cs {
		out[i] = c.Destination
	}
	return out
}

// sampleDegenerate is the shared geometric degeneracy test: coincident points in
// either image, or (when checkCollinear) any collinear triple in either image.
func sampleDegenerate(cs []Correspondence, tol float64, checkCollinear bool) bool {
	src, dst := sourcePoints(cs), destinationPoints(cs)
	if coincident(src, tol) || coincident(dst, tol) {
		return true
	}
	if !checkCollinear {
		return false
	}
	for i := 0; i < len(cs); i++ {
		for j := i + 1; j < len(cs); j++ {
			for k := j + 1; k < len(cs); k++ {
				if collinear(src[i], src[j], src[k], tol) || collinear(dst[i], dst[j], dst[k], tol) {
					return true
				}
			}
		}
	}
	return false
}
