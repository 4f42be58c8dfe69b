package ransac

import (
	"math"
	"time"
)

// TerminationReason tells why a run stopped
type TerminationReason string

const (
	ReasonConfidence    TerminationReason = "confidence"
	ReasonMaxIterations TerminationReason = "max_iterations"
	ReasonTimeBudget    TerminationReason = "time_budget"
	ReasonCancelled     TerminationReason = "cancelled"
)

// RequiredIterations returns ceil(log(1−confidence)/log(1−w^m)) for inlier ratio w and
// sample size m, before clamping. An inlier ratio of zero needs infinitely many iterations
// and is reported as math.MaxInt.
func RequiredIterations(confidence float64, inliers, total, sampleSize int) int {
	if total <= 0 || inliers <= 0 {
		return math.MaxInt
	}
	w := float64(inliers) / float64(total)
	if w >= 1 {
		return 0
	}
	pGood := math.Pow(w, float64(sampleSize))
	if pGood <= 0 {
		return math.MaxInt
	}
	denom := math.Log1p(-pGood)
	if denom >= 0 {
		return math.MaxInt
	}
	k := math.Ceil(math.Log(1-confidence) / denom)
	if k >= math.MaxInt32 || math.IsInf(k, 0) || math.IsNaN(k) {
		return math.MaxInt
	}
	return max(int(k), 0)
}

// TerminationCriterion tracks the adaptive iteration bound and the optional wall-clock budget
type TerminationCriterion struct {
	confidence    float64
	minIterations int
	maxIterations int
	sampleSize    int
	total         int
	budget        time.Duration
	hasBudget     bool
	bound         int
}

// NewTerminationCriterion starts with the bound at maxIterations (no inliers known yet)
func NewTerminationCriterion(s Settings, sampleSize, total int) *TerminationCriterion {
	budget, ok := s.Budget()
	return &TerminationCriterion{
		confidence:    s.Confidence,
		minIterations: s.MinIterations,
		maxIterations: s.MaxIterations,
		sampleSize:    sampleSize,
		total:         total,
		budget:        budget,
		hasBudget:     ok,
		bound:         s.MaxIterations,
	}
}

// Update recomputes the bound from the best inlier count
func (t *TerminationCriterion) Update(inliers int) int {
	k := RequiredIterations(t.confidence, inliers, t.total, t.sampleSize)
	t.bound = min(max(k, t.minIterations), t.maxIterations)
	return t.bound
}

// Bound returns the current effective iteration bound
func (t *TerminationCriterion) Bound() int {
	return t.bound
}

// Check reports whether the run must stop before starting iteration `iteration`
// (zero-based count of completed iterations) after `elapsed` time.
func (t *TerminationCriterion) Check(iteration int, elapsed time.Duration) (TerminationReason, bool) {
	if iteration >= t.bound {
		if t.bound >= t.maxIterations {
			return ReasonMaxIterations, true
		}
		return ReasonConfidence, true
	}
	if t.hasBudget && elapsed > t.budget {
		return ReasonTimeBudget, true
	}
	return "", false
}
