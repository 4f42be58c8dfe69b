package ransac

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// truncationFactor scales the threshold into the truncated quadratic cost of the unary term
const truncationFactor = 1.5

// Refinement is the result of one local optimization
type Refinement[M any] struct {
	Model     M
	Score     Score
	Inliers   []int
	GraphCuts int
}

// GraphCutOptimizer refines a model by alternating a binary graph-cut labeling of the
// correspondences (inlier vs outlier, with a Potts term over the neighborhood graph)
// and a non-minimal refit over the labeled inliers.
type GraphCutOptimizer[M any] struct {
	estimator Estimator[M]
	set       *CorrespondenceSet
	graph     *NeighborhoodGraph
	threshold float64
	lambda    float64
	maxRounds int
	workers   int

	scorer *scorer[M]
	rho    []float64
}

// NewGraphCutOptimizer binds an optimizer to one correspondence set and its neighborhood graph
func NewGraphCutOptimizer[M any](est Estimator[M], set *CorrespondenceSet, graph *NeighborhoodGraph, s Settings) *GraphCutOptimizer[M] {
	return &GraphCutOptimizer[M]{
		estimator: est,
		set:       set,
		graph:     graph,
		threshold: s.Threshold,
		lambda:    s.SpatialCoherenceWeight,
		maxRounds: s.MaxLocalOptimizations,
		workers:   s.Cores,
		scorer:    newScorer(est, set, s.Threshold, s.Cores),
		rho:       make([]float64, set.Len()),
	}
}

// Optimize starts from seed and returns a refinement only when it strictly beats
// seedScore. Otherwise the error wraps ErrOptimizationFailure; GraphCuts is set in
// both cases.
func (o *GraphCutOptimizer[M]) Optimize(ctx context.Context, seed M, seedScore Score) (Refinement[M], error) {
	if o.maxRounds == 0 {
		return o.refitOnly(ctx, seed, seedScore)
	}

	best := Refinement[M]{Model: seed, Score: seedScore}
	improved := false
	current := seed
	var previous []bool

	for round := 0; round < o.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			break
		}
		labels, err := o.label(ctx, current)
		if err != nil {
			return Refinement[M]{GraphCuts: best.GraphCuts}, err
		}
		best.GraphCuts++
		if previous != nil && slices.Equal(previous, labels) {
			break
		}
		previous = labels

		indices := make([]int, 0, len(labels))
		weights := make([]float64, 0, len(labels))
		for i, inlier := range labels {
			if inlier {
				indices = append(indices, i)
				weights = append(weights, 1-o.rho[i])
			}
		}
		if len(indices) < o.estimator.NonMinimalSampleSize() {
			break
		}
		if allZero(weights) {
			weights = nil
		}
		refit, ok := o.estimator.EstimateNonMinimal(o.set, indices, weights)
		if !ok || !o.estimator.IsValid(refit) {
			break
		}
		score, err := o.scorer.score(ctx, refit)
		if err != nil {
			break
		}
		if !score.Better(best.Score) {
			break
		}
		best.Model, best.Score = refit, score
		improved = true
		current = refit
	}

	if !improved {
		return Refinement[M]{GraphCuts: best.GraphCuts}, fmt.Errorf("%w: no improvement after %d graph-cuts", ErrOptimizationFailure, best.GraphCuts)
	}
	score, inliers, err := o.scorer.scoreWithInliers(ctx, best.Model)
	if err != nil {
		return Refinement[M]{GraphCuts: best.GraphCuts}, fmt.Errorf("%w: %w", ErrOptimizationFailure, err)
	}
	best.Score, best.Inliers = score, inliers
	return best, nil
}

// Polish refits seed by unweighted least squares over its thresholded inliers.
// Like Optimize it returns a refinement only when it strictly beats seedScore.
func (o *GraphCutOptimizer[M]) Polish(ctx context.Context, seed M, seedScore Score) (Refinement[M], error) {
	return o.refitOnly(ctx, seed, seedScore)
}

// RefitOnly reports whether Optimize skips graph cuts and behaves like Polish
func (o *GraphCutOptimizer[M]) RefitOnly() bool {
	return o.maxRounds == 0
}

// refitOnly is the local optimization used when graph cuts are disabled:
// one least-squares fit over the thresholded inliers.
func (o *GraphCutOptimizer[M]) refitOnly(ctx context.Context, seed M, seedScore Score) (Refinement[M], error) {
	_, inliers, err := o.scorer.scoreWithInliers(ctx, seed)
	if err != nil {
		return Refinement[M]{}, fmt.Errorf("%w: %w", ErrOptimizationFailure, err)
	}
	if len(inliers) < o.estimator.NonMinimalSampleSize() {
		return Refinement[M]{}, fmt.Errorf("%w: %d inliers are too few to refit", ErrOptimizationFailure, len(inliers))
	}
	refit, ok := o.estimator.EstimateNonMinimal(o.set, inliers, nil)
	if !ok || !o.estimator.IsValid(refit) {
		return Refinement[M]{}, fmt.Errorf("%w: refit failed", ErrOptimizationFailure)
	}
	score, refined, err := o.scorer.scoreWithInliers(ctx, refit)
	if err != nil {
		return Refinement[M]{}, fmt.Errorf("%w: %w", ErrOptimizationFailure, err)
	}
	if !score.Better(seedScore) {
		return Refinement[M]{}, fmt.Errorf("%w: refit did not improve", ErrOptimizationFailure)
	}
	return Refinement[M]{Model: refit, Score: score, Inliers: refined}, nil
}

// label solves the min-cut of the inlier/outlier energy for model; true means inlier
func (o *GraphCutOptimizer[M]) label(ctx context.Context, model M) ([]bool, error) {
	if err := o.scorer.computeResiduals(ctx, model); err != nil {
		return nil, err
	}
	tau := truncationFactor * o.threshold
	tau2 := tau * tau
	residuals := o.scorer.residuals
	err := parallelFor(ctx, o.workers, len(residuals), func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			r := residuals[i]
			o.rho[i] = math.Min(r*r/tau2, 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := o.set.Len()
	g := newFlowGraph(n, o.graph.EdgeCount())
	for i := 0; i < n; i++ {
		g.addTerminalWeights(i, o.rho[i], 1-o.rho[i])
	}
	if o.lambda > 0 {
		for i := 0; i < n; i++ {
			for _, j := range o.graph.Neighbors(i) {
				if j > i {
					g.addEdge(i, j, o.lambda)
				}
			}
		}
	}
	if _, err := g.maxFlow(); err != nil {
		return nil, err
	}
	return g.sourceSide(), nil
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v > 0 {
			return false
		}
	}
	return true
}
