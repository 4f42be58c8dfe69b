package ransac

import (
	"context"
	"math"
)

// Score ranks models: more inliers win, ties go to the higher truncated quality
type Score struct {
	InlierCount int     `json:"inlierCount"`
	Quality     float64 `json:"quality"`
}

// Better reports whether s strictly beats o
func (s Score) Better(o Score) bool {
	if s.InlierCount != o.InlierCount {
		return s.InlierCount > o.InlierCount
	}
	return s.Quality > o.Quality
}

// scorer evaluates models against the whole correspondence set. Residuals are
// computed in parallel into a reused buffer and reduced sequentially.
type scorer[M any] struct {
	estimator Estimator[M]
	set       *CorrespondenceSet
	threshold float64
	workers   int
	residuals []float64
}

func newScorer[M any](est Estimator[M], set *CorrespondenceSet, threshold float64, workers int) *scorer[M] {
	return &scorer[M]{
		estimator: est,
		set:       set,
		threshold: threshold,
		workers:   workers,
		residuals: make([]float64, set.Len()),
	}
}

// computeResiduals fills s.residuals for model
func (s *scorer[M]) computeResiduals(ctx context.Context, model M) error {
	return parallelFor(ctx, s.workers, s.set.Len(), func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			r := s.estimator.Residual(model, s.set.At(i))
			if math.IsNaN(r) || r < 0 {
				r = math.Inf(1)
			}
			s.residuals[i] = r
		}
		return nil
	})
}

// score returns the model's score without collecting the inlier indices
func (s *scorer[M]) score(ctx context.Context, model M) (Score, error) {
	if err := s.computeResiduals(ctx, model); err != nil {
		return Score{}, err
	}
	return s.reduce(nil), nil
}

// scoreWithInliers returns the score and the sorted inlier indices
func (s *scorer[M]) scoreWithInliers(ctx context.Context, model M) (Score, []int, error) {
	if err := s.computeResiduals(ctx, model); err != nil {
		return Score{}, nil, err
	}
	inliers := make([]int, 0, s.set.Len())
	sc := s.reduce(&inliers)
	return sc, inliers, nil
}

func (s *scorer[M]) reduce(inliers *[]int) Score {
	var sc Score
	t2 := s.threshold * s.threshold
	for i, r := range s.residuals {
		if r > s.threshold {
			continue
		}
		sc.InlierCount++
		sc.Quality += 1 - r*r/t2
		if inliers != nil {
			*inliers = append(*inliers, i)
		}
	}
	return sc
}
