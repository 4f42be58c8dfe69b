package ransac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EngineState is the lifecycle of an Engine: Initialized -> Running -> Terminated
type EngineState int

const (
	StateInitialized EngineState = iota
	StateRunning
	StateTerminated
)

func (s EngineState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("EngineState(%d)", int(s))
}

// ProgressSource tells which step produced a new best model
type ProgressSource string

const (
	FromSample            ProgressSource = "sample"
	FromLocalOptimization ProgressSource = "local_optimization"
	FromPolish            ProgressSource = "polish"
	FromFinal             ProgressSource = "final"
)

// Progress is delivered to observers on every best-model update
type Progress struct {
	Iteration int
	Score     Score
	Bound     int
	Source    ProgressSource
}

type options struct {
	logger    zerolog.Logger
	sampler   Sampler
	observers []func(Progress)
}

// Option configures an Engine
type Option func(*options)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSampler replaces the seeded UniformSampler
func WithSampler(s Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithObserver registers a callback invoked synchronously on every best update
func WithObserver(fn func(Progress)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// Engine runs Graph-Cut RANSAC for one model type. An Engine runs once.
type Engine[M any] struct {
	estimator Estimator[M]
	settings  Settings
	opts      options

	mu    sync.Mutex
	state EngineState
}

// NewEngine validates the settings and returns an engine ready to Run
func NewEngine[M any](est Estimator[M], s Settings, opts ...Option) (*Engine[M], error) {
	if est == nil {
		return nil, fmt.Errorf("%w: nil estimator", ErrInvalidConfiguration)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[M]{estimator: est, settings: s, opts: o}, nil
}

// Settings returns the validated settings
func (e *Engine[M]) Settings() Settings {
	return e.settings
}

// State returns the lifecycle state
func (e *Engine[M]) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// run holds the mutable state of one run; it is owned by the control loop
type run[M any] struct {
	*Engine[M]
	set       *CorrespondenceSet
	scorer    *scorer[M]
	optimizer *GraphCutOptimizer[M]
	term      *TerminationCriterion
	stats     Statistics
	log       zerolog.Logger

	best     Result[M]
	haveBest bool
	// Both refinements are deterministic, so neither reruns on an unchanged best.
	optimized bool
	polished  bool
}

// Run fits a model to set. It returns the best model found with its inliers and
// statistics. When no valid model is found the error is ErrNoModel and the
// statistics are still populated.
func (e *Engine[M]) Run(ctx context.Context, set *CorrespondenceSet) (Result[M], error) {
	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return Result[M]{}, ErrEngineUsed
	}
	e.state = StateRunning
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = StateTerminated
		e.mu.Unlock()
	}()

	m := e.estimator.SampleSize()
	if set.Len() < m {
		return Result[M]{}, fmt.Errorf("%w: have %d, need at least %d", ErrEmptyInput, set.Len(), m)
	}

	start := time.Now()
	sampler := e.opts.sampler
	if sampler == nil {
		seed := e.settings.Seed
		if seed == 0 {
			seed = start.UnixNano()
		}
		sampler = NewUniformSampler(seed)
	}

	r := &run[M]{
		Engine: e,
		set:    set,
		log:    e.opts.logger.With().Str("component", "gcransac").Int("points", set.Len()).Logger(),
	}

	graph, err := BuildNeighborhoodGraph(ctx, set, e.settings.NeighborhoodRadius, e.settings.NeighborhoodIndex, e.settings.NeighborhoodSpace, e.settings.Cores)
	if err != nil {
		r.stats.Elapsed = time.Since(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.stats.TerminationReason = ReasonCancelled
			r.stats.Partial = true
			return Result[M]{Statistics: r.stats}, fmt.Errorf("%w: %w", ErrNoModel, ctxErr)
		}
		return Result[M]{Statistics: r.stats}, fmt.Errorf("building neighborhood graph: %w", err)
	}
	r.stats.NeighborEdges = graph.EdgeCount()
	r.log.Debug().Int("edges", graph.EdgeCount()).Msg("neighborhood graph built")

	r.scorer = newScorer(e.estimator, set, e.settings.Threshold, e.settings.Cores)
	r.optimizer = NewGraphCutOptimizer(e.estimator, set, graph, e.settings)
	r.term = NewTerminationCriterion(e.settings, m, set.Len())

	sample := make([]int, m)
	for {
		if ctx.Err() != nil {
			r.stats.TerminationReason = ReasonCancelled
			r.stats.Partial = true
			break
		}
		if reason, stop := r.term.Check(r.stats.Iterations, time.Since(start)); stop {
			r.stats.TerminationReason = reason
			r.stats.Partial = reason == ReasonTimeBudget
			break
		}
		r.stats.Iterations++

		if err := sampler.Sample(set.Len(), m, sample); err != nil {
			return Result[M]{Statistics: r.stats}, fmt.Errorf("drawing sample: %w", err)
		}
		if err := r.iterate(ctx, sample); err != nil {
			return Result[M]{Statistics: r.stats}, err
		}
		if e.settings.PolishInterval > 0 && r.stats.Iterations%e.settings.PolishInterval == 0 && r.haveBest {
			r.polish(ctx, FromPolish)
		}
	}

	if r.haveBest {
		if !r.optimized {
			r.localOptimize(ctx, FromFinal)
		}
		r.polish(ctx, FromFinal)
	}

	r.stats.Elapsed = time.Since(start)
	r.stats.FinalBound = r.term.Bound()
	if !r.haveBest {
		r.log.Info().Int("iterations", r.stats.Iterations).Str("reason", string(r.stats.TerminationReason)).Msg("no model found")
		return Result[M]{Statistics: r.stats}, ErrNoModel
	}
	r.stats.InlierCount = len(r.best.Inliers)
	r.best.Statistics = r.stats

	r.log.Info().
		Int("inliers", r.stats.InlierCount).
		Int("iterations", r.stats.Iterations).
		Int("local_optimizations", r.stats.LocalOptimizations).
		Int("graph_cuts", r.stats.GraphCuts).
		Dur("elapsed", r.stats.Elapsed).
		Str("reason", string(r.stats.TerminationReason)).
		Bool("partial", r.stats.Partial).
		Msg("run finished")
	return r.best, nil
}

// iterate runs steps (3)-(5) of one iteration for the drawn sample
func (r *run[M]) iterate(ctx context.Context, sample []int) error {
	if r.estimator.IsDegenerate(r.set, sample) {
		r.stats.DegenerateSamples++
		return nil
	}
	candidates := r.estimator.EstimateMinimal(r.set, sample)
	if len(candidates) == 0 {
		r.stats.DegenerateSamples++
		return nil
	}

	var (
		winner      M
		winnerScore Score
		found       bool
	)
	for _, c := range candidates {
		if !r.estimator.IsValid(c) {
			r.stats.RejectedModels++
			continue
		}
		sc, err := r.scorer.score(ctx, c)
		if err != nil {
			return fmt.Errorf("scoring candidate: %w", err)
		}
		if !found || sc.Better(winnerScore) {
			winner, winnerScore, found = c, sc, true
		}
	}
	if !found || (r.haveBest && !winnerScore.Better(r.best.Score)) {
		return nil
	}

	score, inliers, err := r.scorer.scoreWithInliers(ctx, winner)
	if err != nil {
		return fmt.Errorf("scoring candidate: %w", err)
	}
	r.adopt(winner, score, inliers, FromSample)
	r.localOptimize(ctx, FromLocalOptimization)
	return nil
}

// localOptimize runs the graph-cut optimizer seeded at the current best and adopts
// the refinement when it is strictly better. Failures are counted, never fatal.
func (r *run[M]) localOptimize(ctx context.Context, source ProgressSource) {
	r.stats.LocalOptimizations++
	ref, err := r.optimizer.Optimize(ctx, r.best.Model, r.best.Score)
	r.stats.GraphCuts += ref.GraphCuts
	if err != nil {
		if !errors.Is(err, ErrOptimizationFailure) {
			r.log.Warn().Err(err).Msg("local optimization aborted")
		}
		r.stats.OptimizationFailures++
	} else {
		r.adopt(ref.Model, ref.Score, ref.Inliers, source)
	}
	r.optimized = true
	// Without graph cuts the optimizer is the polish itself.
	r.polished = r.polished || r.optimizer.RefitOnly()
}

// polish refits the current best by least squares over its thresholded inliers.
// It runs at most once per best and is counted only when it is adopted.
func (r *run[M]) polish(ctx context.Context, source ProgressSource) {
	if r.polished {
		return
	}
	r.polished = true
	ref, err := r.optimizer.Polish(ctx, r.best.Model, r.best.Score)
	if err != nil {
		return
	}
	r.stats.Polishes++
	r.adopt(ref.Model, ref.Score, ref.Inliers, source)
	r.polished = true
}

func (r *run[M]) adopt(model M, score Score, inliers []int, source ProgressSource) {
	r.best = Result[M]{Model: model, Score: score, Inliers: inliers}
	r.haveBest = true
	r.optimized = false
	r.polished = false
	bound := r.term.Update(score.InlierCount)

	r.log.Debug().
		Int("iteration", r.stats.Iterations).
		Int("inliers", score.InlierCount).
		Float64("quality", score.Quality).
		Int("bound", bound).
		Str("source", string(source)).
		Msg("best model updated")
	for _, fn := range r.opts.observers {
		fn(Progress{Iteration: r.stats.Iterations, Score: score, Bound: bound, Source: source})
	}
}
