package ransac

import (
	"fmt"
	"math"
	"time"
)

// NeighborhoodIndex selects the spatial index used to build the neighborhood graph
type NeighborhoodIndex string

const (
	IndexQuadtree NeighborhoodIndex = "quadtree"
	IndexKDTree   NeighborhoodIndex = "kdtree"
)

// NeighborhoodSpace selects which coordinates neighborhoods are measured in
type NeighborhoodSpace string

const (
	SpaceSource      NeighborhoodSpace = "source"
	SpaceDestination NeighborhoodSpace = "destination"
	SpaceJoint       NeighborhoodSpace = "joint" // (x1, y1, x2, y2)
)

// NoFPSLimit disables the frame-rate style time budget
const NoFPSLimit = -1

// Settings holds every tunable of a run. It is validated once by NewEngine
// and never modified afterwards.
type Settings struct {
	Confidence             float64           `yaml:"confidence" json:"confidence"`
	Threshold              float64           `yaml:"threshold" json:"threshold"`                           // Inlier-outlier threshold (pixels)
	SpatialCoherenceWeight float64           `yaml:"spatialCoherenceWeight" json:"spatialCoherenceWeight"` // Potts weight of the graph-cut energy
	NeighborhoodRadius     float64           `yaml:"neighborhoodRadius" json:"neighborhoodRadius"`
	MaxLocalOptimizations  int               `yaml:"maxLocalOptimizations" json:"maxLocalOptimizations"` // Graph-cut rounds per local optimization
	MinIterations          int               `yaml:"minIterations" json:"minIterations"`
	MaxIterations          int               `yaml:"maxIterations" json:"maxIterations"`
	Cores                  int               `yaml:"cores" json:"cores"`
	FPS                    int               `yaml:"fps" json:"fps"`                                   // -1 means never interrupted
	TimeBudget             time.Duration     `yaml:"timeBudget,omitempty" json:"timeBudget,omitempty"` // Explicit budget, wins over FPS when set
	PolishInterval         int               `yaml:"polishInterval" json:"polishInterval"`             // 0 disables periodic polishing
	NeighborhoodIndex      NeighborhoodIndex `yaml:"neighborhoodIndex" json:"neighborhoodIndex"`
	NeighborhoodSpace      NeighborhoodSpace `yaml:"neighborhoodSpace" json:"neighborhoodSpace"`
	Seed                   int64             `yaml:"seed,omitempty" json:"seed,omitempty"` // 0 picks a time-based seed
}

// DefaultSettings returns the tuned defaults: 0.99 confidence, 2 px threshold, λ 0.14, radius 20.
func DefaultSettings() Settings {
	return Settings{
		Confidence:             0.99,
		Threshold:              2.0,
		SpatialCoherenceWeight: 0.14,
		NeighborhoodRadius:     20.0,
		MaxLocalOptimizations:  20,
		MinIterations:          50,
		MaxIterations:          5000,
		Cores:                  4,
		FPS:                    NoFPSLimit,
		PolishInterval:         100,
		NeighborhoodIndex:      IndexQuadtree,
		NeighborhoodSpace:      SpaceSource,
	}
}

// Validate checks every constraint and returns an error wrapping
// ErrInvalidConfiguration that names the first violated field.
func (s Settings) Validate() error {
	switch {
	case math.IsNaN(s.Confidence) || s.Confidence <= 0 || s.Confidence >= 1:
		return invalid("confidence must be in (0,1), got %v", s.Confidence)
	case math.IsNaN(s.Threshold) || s.Threshold <= 0:
		return invalid("threshold must be > 0, got %v", s.Threshold)
	case math.IsNaN(s.SpatialCoherenceWeight) || s.SpatialCoherenceWeight < 0:
		return invalid("spatialCoherenceWeight must be >= 0, got %v", s.SpatialCoherenceWeight)
	case math.IsNaN(s.NeighborhoodRadius) || s.NeighborhoodRadius <= 0:
		return invalid("neighborhoodRadius must be > 0, got %v", s.NeighborhoodRadius)
	case s.MaxLocalOptimizations < 0:
		return invalid("maxLocalOptimizations must be >= 0, got %d", s.MaxLocalOptimizations)
	case s.MinIterations < 0:
		return invalid("minIterations must be >= 0, got %d", s.MinIterations)
	case s.MaxIterations < 1:
		return invalid("maxIterations must be >= 1, got %d", s.MaxIterations)
	case s.MinIterations > s.MaxIterations:
		return invalid("minIterations (%d) must not exceed maxIterations (%d)", s.MinIterations, s.MaxIterations)
	case s.Cores < 1:
		return invalid("cores must be >= 1, got %d", s.Cores)
	case s.FPS == 0 || s.FPS < NoFPSLimit:
		return invalid("fps must be -1 or > 0, got %d", s.FPS)
	case s.TimeBudget < 0:
		return invalid("timeBudget must be >= 0, got %v", s.TimeBudget)
	case s.PolishInterval < 0:
		return invalid("polishInterval must be >= 0, got %d", s.PolishInterval)
	}

	switch s.NeighborhoodIndex {
	case IndexQuadtree, IndexKDTree:
	default:
		return invalid("unknown neighborhoodIndex %q", s.NeighborhoodIndex)
	}
	switch s.NeighborhoodSpace {
	case SpaceSource, SpaceDestination:
	case SpaceJoint:
		if s.NeighborhoodIndex != IndexKDTree {
			return invalid("neighborhoodSpace %q requires neighborhoodIndex %q", SpaceJoint, IndexKDTree)
		}
	default:
		return invalid("unknown neighborhoodSpace %q", s.NeighborhoodSpace)
	}
	return nil
}

// Budget returns the wall-clock budget of a run and whether one is configured.
// An explicit TimeBudget wins; otherwise FPS > 0 allows 1/FPS seconds.
func (s Settings) Budget() (time.Duration, bool) {
	if s.TimeBudget > 0 {
		return s.TimeBudget, true
	}
	if s.FPS > 0 {
		return time.Second / time.Duration(s.FPS), true
	}
	return 0, false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...)
}
