package ransac

import (
	"context"
	"fmt"
	"strings"
)

// Problem names the model family fitted by a run
type Problem string

const (
	ProblemFundamental Problem = "fundamental"
	ProblemHomography  Problem = "homography"
	ProblemAffine      Problem = "affine"
)

// Problems lists every supported problem
var Problems = []Problem{ProblemFundamental, ProblemHomography, ProblemAffine}

// ParseProblem accepts a problem name case-insensitively; empty means fundamental
func ParseProblem(s string) (Problem, error) {
	if s == "" {
		return ProblemFundamental, nil
	}
	p := Problem(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Problems {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown problem %q", ErrInvalidConfiguration, s)
}

// Fit is a non-generic summary of a run used by the CLI, the HTTP API and the run store
type Fit struct {
	Problem    Problem    `json:"problem"`
	Model      []float64  `json:"model"` // row-major matrix entries or affine parameters
	Score      Score      `json:"score"`
	Inliers    []int      `json:"inliers"`
	Points     int        `json:"points"`
	Statistics Statistics `json:"statistics"`
}

// Solve runs a fresh engine for problem over set. On ErrNoModel the returned Fit
// still carries the statistics.
func Solve(ctx context.Context, problem Problem, s Settings, set *CorrespondenceSet, opts ...Option) (Fit, error) {
	switch problem {
	case ProblemFundamental:
		return solve[FundamentalMatrix](ctx, problem, FundamentalEstimator{}, s, set, func(m FundamentalMatrix) []float64 { return m.F[:] }, opts)
	case ProblemHomography:
		return solve[Homography](ctx, problem, HomographyEstimator{}, s, set, func(m Homography) []float64 { return m.H[:] }, opts)
	case ProblemAffine:
		return solve[AffineModel](ctx, problem, AffineEstimator{}, s, set, func(m AffineModel) []float64 {
			return []float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
		}, opts)
	}
	return Fit{}, fmt.Errorf("%w: unknown problem %q", ErrInvalidConfiguration, problem)
}

func solve[M any](ctx context.Context, problem Problem, est Estimator[M], s Settings, set *CorrespondenceSet, params func(M) []float64, opts []Option) (Fit, error) {
	engine, err := NewEngine(est, s, opts...)
	if err != nil {
		return Fit{}, err
	}
	res, err := engine.Run(ctx, set)
	fit := Fit{Problem: problem, Points: set.Len(), Statistics: res.Statistics}
	if err != nil {
		return fit, err
	}
	fit.Model = append([]float64(nil), params(res.Model)...)
	fit.Score = res.Score
	fit.Inliers = res.Inliers
	return fit, nil
}
