package ransac

import (
	"fmt"
	"math"
	"math/rand"
)

// SceneOptions describes a synthetic two-view scene
type SceneOptions struct {
	Problem  Problem `yaml:"problem" json:"problem"`
	Inliers  int     `yaml:"inliers" json:"inliers"`
	Outliers int     `yaml:"outliers" json:"outliers"`
	Noise    float64 `yaml:"noise" json:"noise"` // Gaussian sigma in pixels added to both images
	Width    float64 `yaml:"width" json:"width"`
	Height   float64 `yaml:"height" json:"height"`
	Seed     int64   `yaml:"seed" json:"seed"`
}

// DefaultSceneOptions is a 640x480 fundamental-matrix scene with 140 inliers out of 200
func DefaultSceneOptions() SceneOptions {
	return SceneOptions{
		Problem:  ProblemFundamental,
		Inliers:  140,
		Outliers: 60,
		Noise:    0.5,
		Width:    640,
		Height:   480,
		Seed:     1,
	}
}

// Scene is a generated correspondence set with its ground truth
type Scene struct {
	Set         *CorrespondenceSet
	Inlier      []bool // ground-truth label per correspondence
	Fundamental FundamentalMatrix
	Homography  Homography
	Affine      AffineModel
}

// SyntheticScene generates correspondences consistent with a random model of the
// requested problem, mixed with uniformly distributed outliers in random order.
func SyntheticScene(opts SceneOptions) (*Scene, error) {
	if opts.Inliers < 0 || opts.Outliers < 0 || opts.Inliers+opts.Outliers == 0 {
		return nil, fmt.Errorf("%w: scene needs a positive number of correspondences", ErrInvalidConfiguration)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: scene size must be positive", ErrInvalidConfiguration)
	}
	problem, err := ParseProblem(string(opts.Problem))
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	scene := &Scene{}

	var inliers []Correspondence
	switch problem {
	case ProblemFundamental:
		inliers, scene.Fundamental = twoViewPoints(rng, opts)
	case ProblemHomography:
		scene.Homography = randomHomography(rng, opts)
		for len(inliers) < opts.Inliers {
			src := randomPoint(rng, opts)
			dst, ok := scene.Homography.Project(src)
			if ok {
				inliers = append(inliers, Correspondence{Source: src, Destination: dst})
			}
		}
	case ProblemAffine:
		scene.Affine = randomAffine(rng, opts)
		for len(inliers) < opts.Inliers {
			src := randomPoint(rng, opts)
			inliers = append(inliers, Correspondence{Source: src, Destination: scene.Affine.Apply(src)})
		}
	}

	points := make([]Correspondence, 0, opts.Inliers+opts.Outliers)
	labels := make([]bool, 0, cap(points))
	for _, c := range inliers {
		c.Source = jitter(rng, c.Source, opts.Noise)
		c.Destination = jitter(rng, c.Destination, opts.Noise)
		points = append(points, c)
		labels = append(labels, true)
	}
	for i := 0; i < opts.Outliers; i++ {
		points = append(points, Correspondence{Source: randomPoint(rng, opts), Destination: randomPoint(rng, opts)})
		labels = append(labels, false)
	}
	rng.Shuffle(len(points), func(i, j int) {
		points[i], points[j] = points[j], points[i]
		labels[i], labels[j] = labels[j], labels[i]
	})

	set, err := NewCorrespondenceSet(points)
	if err != nil {
		return nil, err
	}
	scene.Set = set
	scene.Inlier = labels
	return scene, nil
}

func randomPoint(rng *rand.Rand, opts SceneOptions) Point {
	return Point{X: rng.Float64() * opts.Width, Y: rng.Float64() * opts.Height}
}

func jitter(rng *rand.Rand, p Point, sigma float64) Point {
	if sigma <= 0 {
		return p
	}
	return Point{X: p.X + rng.NormFloat64()*sigma, Y: p.Y + rng.NormFloat64()*sigma}
}

// twoViewPoints projects random 3D points into two pinhole cameras and returns the
// image pairs together with the fundamental matrix K⁻ᵀ·[t]×·R·K⁻¹.
func twoViewPoints(rng *rand.Rand, opts SceneOptions) ([]Correspondence, FundamentalMatrix) {
	f := 0.8 * opts.Width
	cx, cy := opts.Width/2, opts.Height/2
	k := Matrix3{f, 0, cx, 0, f, cy, 0, 0, 1}
	kinv := Matrix3{1 / f, 0, -cx / f, 0, 1 / f, -cy / f, 0, 0, 1}

	yaw := 0.05 + 0.1*rng.Float64()
	c, s := math.Cos(yaw), math.Sin(yaw)
	rot := Matrix3{c, 0, s, 0, 1, 0, -s, 0, c}
	t := [3]float64{-1 - rng.Float64(), 0.2 * (rng.Float64() - 0.5), 0.2 * (rng.Float64() - 0.5)}
	tx := Matrix3{0, -t[2], t[1], t[2], 0, -t[0], -t[1], t[0], 0}

	fm := kinv.T().Mul(tx).Mul(rot).Mul(kinv)

	var out []Correspondence
	for len(out) < opts.Inliers {
		z := 4 + 6*rng.Float64()
		x := (rng.Float64() - 0.5) * z * opts.Width / f
		y := (rng.Float64() - 0.5) * z * opts.Height / f

		u1, v1, w1 := k.Apply(x/z, y/z)
		xr := rot[0]*x + rot[1]*y + rot[2]*z + t[0]
		yr := rot[3]*x + rot[4]*y + rot[5]*z + t[1]
		zr := rot[6]*x + rot[7]*y + rot[8]*z + t[2]
		if zr < 0.5 {
			continue
		}
		u2, v2, w2 := k.Apply(xr/zr, yr/zr)
		out = append(out, Correspondence{
			Source:      Point{X: u1 / w1, Y: v1 / w1},
			Destination: Point{X: u2 / w2, Y: v2 / w2},
		})
	}
	return out, FundamentalMatrix{F: fm.Scaled()}
}

func randomHomography(rng *rand.Rand, opts SceneOptions) Homography {
	angle := (rng.Float64() - 0.5) * 0.4
	scale := 0.9 + 0.2*rng.Float64()
	c, s := scale*math.Cos(angle), scale*math.Sin(angle)
	h := Matrix3{
		c, -s, (rng.Float64() - 0.5) * 0.1 * opts.Width,
		s, c, (rng.Float64() - 0.5) * 0.1 * opts.Height,
		(rng.Float64() - 0.5) * 2e-4, (rng.Float64() - 0.5) * 2e-4, 1,
	}
	return Homography{H: h.Scaled()}
}

func randomAffine(rng *rand.Rand, opts SceneOptions) AffineModel {
	return AffineModel{
		A:  0.9 + 0.2*rng.Float64(),
		B:  (rng.Float64() - 0.5) * 0.3,
		Tx: (rng.Float64() - 0.5) * 0.1 * opts.Width,
		C:  (rng.Float64() - 0.5) * 0.3,
		D:  0.9 + 0.2*rng.Float64(),
		Ty: (rng.Float64() - 0.5) * 0.1 * opts.Height,
	}
}
