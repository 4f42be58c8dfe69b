package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/internal/logger"
	"github.com/kwv/gcransac/ransac"
	"github.com/kwv/gcransac/render"
	"github.com/kwv/gcransac/runstore"
	"github.com/kwv/gcransac/service"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *service.Config
	Tracker    *service.ResultTracker
	Store      *runstore.Store
	MQTTClient *service.MQTTClient
	Publisher  *service.Publisher
	Log        zerolog.Logger

	opts AppOptions
	out  io.Writer
}

// NewApp creates an App printing reports to out
func NewApp(out io.Writer) *App {
	return &App{
		Tracker: service.NewResultTracker(),
		Log:     zerolog.Nop(),
		out:     out,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// setup loads the configuration, applies the command line overrides and builds
// the logger. A missing default config file falls back to DefaultConfig.
func (a *App) setup() error {
	config, err := service.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		if a.opts.ConfigFile != defaultConfigFile || fileExists(a.opts.ConfigFile) {
			return err
		}
		config = service.DefaultConfig()
	}

	if a.opts.Problem != "" {
		config.Problem = ransac.Problem(a.opts.Problem)
	}
	if a.opts.Seed != 0 {
		config.Settings.Seed = a.opts.Seed
	}
	if a.opts.Threshold != 0 {
		config.Settings.Threshold = a.opts.Threshold
	}
	if a.opts.Confidence != 0 {
		config.Settings.Confidence = a.opts.Confidence
	}
	if a.opts.Index != "" {
		config.Settings.NeighborhoodIndex = ransac.NeighborhoodIndex(a.opts.Index)
	}
	if a.opts.LogLevel != "" {
		config.LogLevel = a.opts.LogLevel
	}
	if a.opts.StorePath != "" {
		config.Store.Path = a.opts.StorePath
	}
	if a.opts.HttpPort != 0 {
		config.HTTP.Port = a.opts.HttpPort
	}
	if err := config.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(config.LogLevel)
	if err != nil {
		return err
	}
	a.Log = logger.NewConsole(level)
	a.Config = config
	return nil
}

// openStore opens the run history when a path is configured
func (a *App) openStore() error {
	if a.Config.Store.Path == "" || a.Store != nil {
		return nil
	}
	store, err := runstore.Open(a.Config.Store.Path, a.Log)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

func (a *App) closeStore() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("closing run store")
	}
	a.Store = nil
}

func (a *App) newFitter() *service.Fitter {
	var opts []service.FitterOption
	if a.Store != nil {
		opts = append(opts, service.WithRecorder(a.Store))
	}
	if a.Publisher != nil {
		opts = append(opts, service.WithPublisher(a.Publisher))
	}
	return service.NewFitter(a.Config, a.Tracker, a.Log, opts...)
}

// RunFit fits --input, --scene or every configured scene and prints a report
func (a *App) RunFit() error {
	if err := a.setup(); err != nil {
		return err
	}
	if err := a.openStore(); err != nil {
		return err
	}
	defer a.closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fitter := a.newFitter()

	switch {
	case a.opts.Input != "":
		set, err := service.ParseCorrespondenceFile(a.opts.Input)
		if err != nil {
			return err
		}
		scene := a.opts.Scene
		if scene == "" {
			scene = strings.TrimSuffix(filepath.Base(a.opts.Input), filepath.Ext(a.opts.Input))
		}
		summary, err := fitter.Fit(ctx, scene, a.Config.ProblemFor(nil), a.Config.Settings, set)
		a.report(summary)
		if err != nil {
			return err
		}
		return a.drawMatches(set, summary.Inliers, 0, 0)

	case a.opts.Scene != "":
		summary, err := fitter.FitScene(ctx, a.opts.Scene)
		a.report(summary)
		return err
	}

	if len(a.Config.Scenes) == 0 {
		return fmt.Errorf("no scenes configured in %s", a.opts.ConfigFile)
	}
	summaries, err := fitter.FitAll(ctx)
	for _, s := range summaries {
		a.report(s)
	}
	return err
}

// RunSynthetic generates a scene with known ground truth. With --output it only
// writes the correspondences; otherwise it fits them and reports label accuracy.
func (a *App) RunSynthetic() error {
	if err := a.setup(); err != nil {
		return err
	}

	opts := ransac.DefaultSceneOptions()
	opts.Problem = a.Config.ProblemFor(nil)
	if a.opts.Seed != 0 {
		opts.Seed = a.opts.Seed
	}
	scene, err := ransac.SyntheticScene(opts)
	if err != nil {
		return err
	}

	if a.opts.Output != "" {
		fh, err := os.Create(a.opts.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", a.opts.Output, err)
		}
		if err := service.WriteCorrespondenceText(fh, scene.Set); err != nil {
			_ = fh.Close()
			return err
		}
		if err := fh.Close(); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote %d correspondences (%d inliers) to %s\n", scene.Set.Len(), opts.Inliers, a.opts.Output)
		return nil
	}

	if err := a.openStore(); err != nil {
		return err
	}
	defer a.closeStore()

	summary, err := a.newFitter().Fit(context.Background(), "synthetic", opts.Problem, a.Config.Settings, scene.Set)
	a.report(summary)
	if err != nil {
		return err
	}
	precision, recall := labelAccuracy(summary.Inliers, scene.Inlier)
	fmt.Fprintf(a.out, "Inlier precision = %.3f\nInlier recall = %.3f\n", precision, recall)
	return a.drawMatches(scene.Set, summary.Inliers, opts.Width, opts.Height)
}

// drawMatches writes the --draw visualization when requested. A zero frame size
// falls back to the bounding box of the correspondences.
func (a *App) drawMatches(set *ransac.CorrespondenceSet, inliers []int, width, height float64) error {
	if a.opts.Draw == "" {
		return nil
	}
	r := render.NewMatchRenderer(set, inliers)
	r.Width, r.Height = width, height
	r.DrawOutliers = true
	if err := r.WriteFile(a.opts.Draw); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Match image written to %s\n", a.opts.Draw)
	return nil
}

// labelAccuracy compares the returned inlier indices with ground-truth labels
func labelAccuracy(inliers []int, truth []bool) (precision, recall float64) {
	total := 0
	for _, t := range truth {
		if t {
			total++
		}
	}
	hits := 0
	for _, i := range inliers {
		if i >= 0 && i < len(truth) && truth[i] {
			hits++
		}
	}
	if len(inliers) > 0 {
		precision = float64(hits) / float64(len(inliers))
	}
	if total > 0 {
		recall = float64(hits) / float64(total)
	}
	return precision, recall
}

// RunHistory lists recorded runs, newest first
func (a *App) RunHistory() error {
	if err := a.setup(); err != nil {
		return err
	}
	if a.Config.Store.Path == "" {
		return errors.New("no run store configured; set store.path or --store")
	}
	if err := a.openStore(); err != nil {
		return err
	}
	defer a.closeStore()

	runs, err := a.Store.List(context.Background(), a.opts.Scene, a.opts.Limit)
	if err != nil {
		return err
	}
	if a.opts.JSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(a.out, "%s  %-20s %-12s inliers=%d/%d iterations=%d reason=%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Scene, r.Problem,
			r.Statistics.InlierCount, r.Points, r.Statistics.Iterations, r.Statistics.TerminationReason)
	}
	return nil
}

// report prints one fit summary
func (a *App) report(s service.FitSummary) {
	if a.opts.JSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
		return
	}
	fmt.Fprintf(a.out, "\n=== %s (%s) ===\n", s.Scene, s.Problem)
	if s.Error != "" {
		fmt.Fprintf(a.out, "ERROR: %s\n", s.Error)
	}
	fmt.Fprintln(a.out, s.Statistics.String())
	if len(s.Model) > 0 {
		fmt.Fprintf(a.out, "Model = %s\n", formatModel(s.Model))
	}
	if s.RunID != "" {
		fmt.Fprintf(a.out, "Run ID = %s\n", s.RunID)
	}
}

// formatModel prints rows of three; affine parameters come out as [a b tx; c d ty]
func formatModel(model []float64) string {
	var b strings.Builder
	for i, v := range model {
		if i > 0 && i%3 == 0 {
			b.WriteString("; ")
		} else if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%.6g", v)
	}
	return "[" + b.String() + "]"
}

// RunService fits the configured scenes, then answers MQTT fit requests and/or
// serves the HTTP result API until interrupted
func (a *App) RunService() error {
	if err := a.setup(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Starting gcransac service...")

	a.Tracker = service.NewResultTrackerWithCache(a.opts.ResultCache, a.Log)
	if err := a.openStore(); err != nil {
		return err
	}
	defer a.closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fitter := a.newFitter()
	if a.opts.MqttMode {
		client, err := service.InitMQTT(ctx, a.Config, fitter.HandleRequest(ctx), a.Log)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured; set mqtt.broker or MQTT_BROKER")
		}
		a.MQTTClient = client
		a.Publisher = service.NewPublisher(client.GetClient(), a.Config, a.Log)
		fitter.SetPublisher(a.Publisher)
		fmt.Fprintln(a.out, "MQTT result publisher initialized")
	}

	var server *http.Server
	if a.opts.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
			Handler:           newHTTPServer(a.Tracker, a.Store, a.Log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Log.Info().Str("addr", server.Addr).Msg("starting HTTP server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error().Err(err).Msg("HTTP server error")
				stop()
			}
		}()
	}

	if len(a.Config.Scenes) > 0 {
		if _, err := fitter.FitAll(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("initial fit of configured scenes")
		}
	}

	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	if a.opts.MqttMode {
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Requests: %s\n", a.MQTTClient.RequestTopic())
		fmt.Fprintf(a.out, "  Publishing to: %s/{scene}\n", a.Publisher.Prefix())
		fmt.Fprintf(a.out, "  Combined results: %s/results\n", a.Publisher.Prefix())
	}
	if a.opts.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
		fmt.Fprintln(a.out, "  GET /health           - Health check")
		fmt.Fprintln(a.out, "  GET /results          - Latest result of every scene")
		fmt.Fprintln(a.out, "  GET /results/{scene}  - Latest result of one scene")
		fmt.Fprintln(a.out, "  GET /runs             - Recorded run history")
		fmt.Fprintln(a.out, "  GET /runs/{id}        - One recorded run")
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn().Err(err).Msg("HTTP shutdown")
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
