package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile  string
	ResultCache string
	StorePath   string
	LogLevel    string

	Fit       bool
	Input     string
	Scene     string
	Problem   string
	JSON      bool
	Synthetic bool
	Output    string
	Draw      string
	History   bool
	Limit     int
	MqttMode  bool
	HttpMode  bool
	HttpPort  int

	Seed       int64
	Threshold  float64
	Confidence float64
	Index      string
}

// Runner is implemented by App; tests substitute a recorder
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunFit() error
	RunSynthetic() error
	RunHistory() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gcransac: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("gcransac", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ResultCache, "result-cache", ".gcransac-results.json", "Path to the latest-result cache used by service mode")
	fs.StringVar(&opts.StorePath, "store", "", "SQLite run history database (default: store.path from config)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error, disabled")

	fs.BoolVar(&opts.Fit, "fit", false, "Fit every scene in the configuration and exit")
	fs.StringVar(&opts.Input, "input", "", "Fit a correspondence file (.txt rows of x1 y1 x2 y2, or .json) and exit")
	fs.StringVar(&opts.Scene, "scene", "", "Fit one configured scene, or name the --input scene")
	fs.StringVar(&opts.Problem, "problem", "", "Model to fit: fundamental, homography or affine")
	fs.BoolVar(&opts.JSON, "json", false, "Print fit results as JSON")
	fs.BoolVar(&opts.Synthetic, "synthetic", false, "Generate a synthetic scene, fit it and report accuracy")
	fs.StringVar(&opts.Output, "output", "", "With --synthetic, write the correspondences to this file instead of fitting")
	fs.StringVar(&opts.Draw, "draw", "", "With --input or --synthetic, draw the matches to this .png or .svg file")
	fs.BoolVar(&opts.History, "history", false, "List recorded runs and exit")
	fs.IntVar(&opts.Limit, "limit", 20, "Maximum number of runs listed by --history")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode answering fit requests")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP result API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default: http.port from config)")

	fs.Int64Var(&opts.Seed, "seed", 0, "Sampler seed; 0 keeps the configured seed")
	fs.Float64Var(&opts.Threshold, "threshold", 0, "Inlier threshold in pixels; 0 keeps the configured value")
	fs.Float64Var(&opts.Confidence, "confidence", 0, "RANSAC confidence; 0 keeps the configured value")
	fs.StringVar(&opts.Index, "index", "", "Neighborhood index: quadtree or kdtree")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "gcransac version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Synthetic:
		return app.RunSynthetic()
	case opts.History:
		return app.RunHistory()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.Fit || opts.Input != "" || opts.Scene != "":
		return app.RunFit()
	}

	fmt.Fprintln(out, "Use --input=FILE to fit a correspondence file")
	fmt.Fprintln(out, "Use --fit to fit every configured scene, or --scene=NAME for one")
	fmt.Fprintln(out, "Use --synthetic to fit a generated scene and report accuracy")
	fmt.Fprintln(out, "Use --history to list recorded runs")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run the service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - estimator settings, scenes, MQTT and store")
	return nil
}
