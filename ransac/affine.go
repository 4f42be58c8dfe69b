package ransac

import "math"

// AffineModel for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineModel struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// IdentityAffine returns the transform that maps every point onto itself
func IdentityAffine() AffineModel {
	return AffineModel{A: 1, D: 1}
}

// Apply maps a source point into the destination image
func (m AffineModel) Apply(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// Det returns the determinant of the linear part
func (m AffineModel) Det() float64 {
	return m.A*m.D - m.B*m.C
}

// Compose returns m * o: applying the result is equivalent to applying o first, then m
func (m AffineModel) Compose(o AffineModel) AffineModel {
	return AffineModel{
		A:  m.A*o.A + m.B*o.C,
		B:  m.A*o.B + m.B*o.D,
		Tx: m.A*o.Tx + m.B*o.Ty + m.Tx,
		C:  m.C*o.A + m.D*o.C,
		D:  m.C*o.B + m.D*o.D,
		Ty: m.C*o.Tx + m.D*o.Ty + m.Ty,
	}
}

// Invert returns the inverse transform, false when the linear part is singular
func (m AffineModel) Invert() (AffineModel, bool) {
	det := m.Det()
	if math.Abs(det) < 1e-10 {
		return AffineModel{}, false
	}
	invDet := 1.0 / det
	return AffineModel{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, true
}

// translation returns the pure shift by p
func translation(p Point) AffineModel {
	t := IdentityAffine()
	t.Tx, t.Ty = p.X, p.Y
	return t
}

// AffineEstimator fits AffineModel values. Residuals are transfer errors in the destination image.
type AffineEstimator struct {
	// Tolerance for coincident and collinear sample points, in pixels. Zero uses 1e-6.
	Tolerance float64
}

func (e AffineEstimator) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return 1e-6
}

func (AffineEstimator) SampleSize() int { return 3 }

func (AffineEstimator) NonMinimalSampleSize() int { return 3 }

func (e AffineEstimator) IsDegenerate(set *CorrespondenceSet, sample []int) bool {
	return sampleDegenerate(set.Subset(sample), e.tolerance(), true)
}

func (e AffineEstimator) EstimateMinimal(set *CorrespondenceSet, sample []int) []AffineModel {
	if len(sample) != e.SampleSize() || e.IsDegenerate(set, sample) {
		return nil
	}
	m, ok := solveAffine(set.Subset(sample), nil)
	if !ok || !e.IsValid(m) {
		return nil
	}
	return []AffineModel{m}
}

func (e AffineEstimator) EstimateNonMinimal(set *CorrespondenceSet, indices []int, weights []float64) (AffineModel, bool) {
	if len(indices) < e.NonMinimalSampleSize() {
		return AffineModel{}, false
	}
	m, ok := solveAffine(set.Subset(indices), weights)
	if !ok || !e.IsValid(m) {
		return AffineModel{}, false
	}
	return m, true
}

func (AffineEstimator) Residual(m AffineModel, c Correspondence) float64 {
	return Distance(m.Apply(c.Source), c.Destination)
}

func (AffineEstimator) IsValid(m AffineModel) bool {
	for _, v := range []float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(m.Det()) > 1e-8
}

// solveAffine computes the (weighted) least-squares affine transform.
// Solves the system: [x' y'] = [x y 1] * [[a c] [b d] [tx ty]]
// Points are centered first so the normal equations stay well conditioned for pixel coordinates.
func solveAffine(cs []Correspondence, weights []float64) (AffineModel, bool) {
	var wsum float64
	var src, dst Point
	for i, c := range cs {
		w := weightAt(weights, i)
		wsum += w
		src.X += w * c.Source.X
		src.Y += w * c.Source.Y
		dst.X += w * c.Destination.X
		dst.Y += w * c.Destination.Y
	}
	if wsum <= 0 {
		return AffineModel{}, false
	}
	src = Point{X: src.X / wsum, Y: src.Y / wsum}
	dst = Point{X: dst.X / wsum, Y: dst.Y / wsum}

	var n, sumX, sumY, sumXX, sumXY, sumYY float64
	var sumXp, sumYp, sumXXp, sumXYp, sumYXp, sumYYp float64
	for i, c := range cs {
		w := weightAt(weights, i)
		x, y := c.Source.X-src.X, c.Source.Y-src.Y
		xp, yp := c.Destination.X-dst.X, c.Destination.Y-dst.Y

		n += w
		sumX += w * x
		sumY += w * y
		sumXX += w * x * x
		sumXY += w * x * y
		sumYY += w * y * y
		sumXp += w * xp
		sumYp += w * yp
		sumXXp += w * x * xp
		sumXYp += w * x * yp
		sumYXp += w * y * xp
		sumYYp += w * y * yp
	}

	// Cramer's rule on [[sumXX, sumXY, sumX], [sumXY, sumYY, sumY], [sumX, sumY, n]]
	det := sumXX*(sumYY*n-sumY*sumY) - sumXY*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumY-sumYY*sumX)
	scale := sumXX*sumYY + 1
	if math.Abs(det) < 1e-12*scale*n {
		return AffineModel{}, false
	}
	invDet := 1.0 / det

	detA := sumXXp*(sumYY*n-sumY*sumY) - sumXY*(sumYXp*n-sumY*sumXp) + sumX*(sumYXp*sumY-sumYY*sumXp)
	detB := sumXX*(sumYXp*n-sumY*sumXp) - sumXXp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumXp-sumYXp*sumX)
	detTx := sumXX*(sumYY*sumXp-sumYXp*sumY) - sumXY*(sumXY*sumXp-sumYXp*sumX) + sumXXp*(sumXY*sumY-sumYY*sumX)

	detC := sumXYp*(sumYY*n-sumY*sumY) - sumXY*(sumYYp*n-sumY*sumYp) + sumX*(sumYYp*sumY-sumYY*sumYp)
	detD := sumXX*(sumYYp*n-sumY*sumYp) - sumXYp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumYp-sumYYp*sumX)
	detTy := sumXX*(sumYY*sumYp-sumYYp*sumY) - sumXY*(sumXY*sumYp-sumYYp*sumX) + sumXYp*(sumXY*sumY-sumYY*sumX)

	centered := AffineModel{
		A: detA * invDet, B: detB * invDet, Tx: detTx * invDet,
		C: detC * invDet, D: detD * invDet, Ty: detTy * invDet,
	}

	// Undo the centering: x' = L(x - src) + t + dst
	fromSource, ok := translation(src).Invert()
	if !ok {
		return AffineModel{}, false
	}
	return translation(dst).Compose(centered).Compose(fromSource), true
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	w := weights[i]
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}
