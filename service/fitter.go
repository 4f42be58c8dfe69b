package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/ransac"
	"github.com/kwv/gcransac/runstore"
)

// Recorder persists finished fits. *runstore.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, scene string, fit ransac.Fit) (runstore.Run, error)
}

// Fitter loads scenes, runs the estimator and fans the result out to the
// tracker, the run history and MQTT
type Fitter struct {
	config    *Config
	tracker   *ResultTracker
	publisher atomic.Pointer[Publisher]
	recorder  Recorder
	fetchOpts []FetchOption
	log       zerolog.Logger
	now       func() time.Time
}

// FitterOption configures a Fitter
type FitterOption func(*Fitter)

// WithPublisher publishes every result over MQTT
func WithPublisher(p *Publisher) FitterOption {
	return func(f *Fitter) { f.publisher.Store(p) }
}

// WithRecorder stores every successful result
func WithRecorder(r Recorder) FitterOption {
	return func(f *Fitter) { f.recorder = r }
}

// WithFetchOptions passes options to FetchCorrespondences for URL scenes
func WithFetchOptions(opts ...FetchOption) FitterOption {
	return func(f *Fitter) { f.fetchOpts = append(f.fetchOpts, opts...) }
}

// NewFitter creates a fitter. A nil tracker gets an in-memory one.
func NewFitter(config *Config, tracker *ResultTracker, log zerolog.Logger, opts ...FitterOption) *Fitter {
	if config == nil {
		config = DefaultConfig()
	}
	if tracker == nil {
		tracker = NewResultTracker()
	}
	f := &Fitter{
		config:  config,
		tracker: tracker,
		log:     log.With().Str("component", "fitter").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetPublisher starts publishing results; safe to call while requests are served
func (f *Fitter) SetPublisher(p *Publisher) {
	f.publisher.Store(p)
}

// Tracker returns the tracker results are written to
func (f *Fitter) Tracker() *ResultTracker {
	return f.tracker
}

// LoadScene reads the correspondences of a configured scene
func (f *Fitter) LoadScene(ctx context.Context, sc *SceneConfig) (*ransac.CorrespondenceSet, error) {
	switch {
	case sc.Input != "":
		return ParseCorrespondenceFile(sc.Input)
	case sc.URL != "":
		return FetchCorrespondences(ctx, sc.URL, f.fetchOpts...)
	case sc.Synthetic != nil:
		opts := *sc.Synthetic
		if opts.Problem == "" {
			opts.Problem = f.config.ProblemFor(sc)
		}
		scene, err := ransac.SyntheticScene(opts)
		if err != nil {
			return nil, err
		}
		return scene.Set, nil
	}
	return nil, fmt.Errorf("scene %q has no input", sc.Name)
}

// FitScene loads and fits the named scene with the configured settings
func (f *Fitter) FitScene(ctx context.Context, name string) (FitSummary, error) {
	sc := f.config.GetScene(name)
	if sc == nil {
		return FitSummary{}, fmt.Errorf("unknown scene %q", name)
	}
	set, err := f.LoadScene(ctx, sc)
	if err != nil {
		summary := f.failure(name, f.config.ProblemFor(sc), 0, ransac.Statistics{}, err)
		f.tracker.Update(summary)
		return summary, fmt.Errorf("loading scene %s: %w", name, err)
	}
	return f.Fit(ctx, name, f.config.ProblemFor(sc), f.config.Settings, set)
}

// FitAll fits every configured scene in order. Errors are joined; every scene
// is attempted.
func (f *Fitter) FitAll(ctx context.Context) ([]FitSummary, error) {
	var (
		out  []FitSummary
		errs []error
	)
	for _, sc := range f.config.Scenes {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		summary, err := f.FitScene(ctx, sc.Name)
		out = append(out, summary)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Fit runs one estimation over set and records the outcome under scene.
// The summary is returned even when the fit fails.
func (f *Fitter) Fit(ctx context.Context, scene string, problem ransac.Problem, settings ransac.Settings, set *ransac.CorrespondenceSet) (FitSummary, error) {
	log := f.log.With().Str("scene", scene).Str("problem", string(problem)).Logger()

	fit, err := ransac.Solve(ctx, problem, settings, set, ransac.WithLogger(log))
	if err != nil {
		summary := f.failure(scene, problem, set.Len(), fit.Statistics, err)
		f.tracker.Update(summary)
		f.publish(summary)
		log.Warn().Err(err).Msg("fit failed")
		return summary, err
	}

	summary := FitSummary{
		Scene:      scene,
		Problem:    fit.Problem,
		Model:      fit.Model,
		Points:     fit.Points,
		Inliers:    fit.Inliers,
		Statistics: fit.Statistics,
		Timestamp:  f.now(),
	}
	if f.recorder != nil {
		run, rerr := f.recorder.Record(ctx, scene, fit)
		if rerr != nil {
			log.Error().Err(rerr).Msg("recording run")
		} else {
			summary.RunID = run.ID
		}
	}
	f.tracker.Update(summary)
	f.publish(summary)

	log.Info().
		Str("run_id", summary.RunID).
		Int("inliers", fit.Statistics.InlierCount).
		Int("points", fit.Points).
		Msg("fit complete")
	return summary, nil
}

// HandleRequest returns an MQTT RequestHandler that fits inline correspondences
func (f *Fitter) HandleRequest(ctx context.Context) RequestHandler {
	return func(scene string, req *FitRequest, err error) {
		if err != nil {
			summary := f.failure(scene, "", 0, ransac.Statistics{}, err)
			f.tracker.Update(summary)
			f.publish(summary)
			return
		}
		problem, perr := ransac.ParseProblem(string(req.Problem))
		if req.Problem == "" {
			problem, perr = f.config.ProblemFor(f.config.GetScene(scene)), nil
		}
		settings, oerr := req.ResolveSettings(f.config.Settings)
		set, serr := ransac.CorrespondencesFromRows(req.Correspondences)
		if err := errors.Join(perr, oerr, serr); err != nil {
			summary := f.failure(scene, problem, len(req.Correspondences), ransac.Statistics{}, err)
			f.tracker.Update(summary)
			f.publish(summary)
			return
		}
		_, _ = f.Fit(ctx, scene, problem, settings, set)
	}
}

func (f *Fitter) failure(scene string, problem ransac.Problem, points int, stats ransac.Statistics, err error) FitSummary {
	return FitSummary{
		Scene:      scene,
		Problem:    problem,
		Points:     points,
		Statistics: stats,
		Error:      err.Error(),
		Timestamp:  f.now(),
	}
}

func (f *Fitter) publish(summary FitSummary) {
	p := f.publisher.Load()
	if p == nil {
		return
	}
	if err := p.PublishResult(summary); err != nil {
		f.log.Debug().Err(err).Str("scene", summary.Scene).Msg("result not published")
	}
}
