package ransac

import (
	"fmt"
	"time"
)

// Statistics reports what happened during a run. It is filled in even when Run
// returns ErrNoModel.
type Statistics struct {
	Iterations           int               `json:"iterations"`
	LocalOptimizations   int               `json:"localOptimizations"`
	GraphCuts            int               `json:"graphCuts"`
	InlierCount          int               `json:"inlierCount"`
	Elapsed              time.Duration     `json:"elapsed"`
	DegenerateSamples    int               `json:"degenerateSamples"`
	RejectedModels       int               `json:"rejectedModels"`
	OptimizationFailures int               `json:"optimizationFailures"`
	Polishes             int               `json:"polishes"` // adopted least-squares polishes
	NeighborEdges        int               `json:"neighborEdges"`
	FinalBound           int               `json:"finalBound"`
	TerminationReason    TerminationReason `json:"terminationReason"`
	Partial              bool              `json:"partial"` // stopped by the time budget or cancellation
}

// String formats the statistics as the report lines printed by the CLI
func (s Statistics) String() string {
	return fmt.Sprintf("Elapsed time = %f secs\nNumber of inliers = %d\nNumber of local optimizations = %d\nNumber of graph-cuts = %d\nNumber of iterations = %d",
		s.Elapsed.Seconds(), s.InlierCount, s.LocalOptimizations, s.GraphCuts, s.Iterations)
}

// Result is the outcome of a run
type Result[M any] struct {
	Model      M          `json:"model"`
	Score      Score      `json:"score"`
	Inliers    []int      `json:"inliers"`
	Statistics Statistics `json:"statistics"`
}
