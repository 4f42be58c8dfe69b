package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunFit() error                { m.called["RunFit"] = true; return m.err }
func (m *mockApp) RunSynthetic() error          { m.called["RunSynthetic"] = true; return m.err }
func (m *mockApp) RunHistory() error            { m.called["RunHistory"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Input",
			args:           []string{"--input", "pairs.txt", "--problem", "homography", "--threshold", "3.5"},
			expectedCalled: "RunFit",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Input != "pairs.txt" {
					t.Errorf("expected Input pairs.txt, got %s", opts.Input)
				}
				if opts.Problem != "homography" {
					t.Errorf("expected Problem homography, got %s", opts.Problem)
				}
				if opts.Threshold != 3.5 {
					t.Errorf("expected Threshold 3.5, got %f", opts.Threshold)
				}
			},
		},
		{
			name:           "Scene",
			args:           []string{"--scene", "kitchen", "--config", "test.yaml"},
			expectedCalled: "RunFit",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Scene != "kitchen" {
					t.Errorf("expected Scene kitchen, got %s", opts.Scene)
				}
				if opts.ConfigFile != "test.yaml" {
					t.Errorf("expected ConfigFile test.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "FitAll",
			args:           []string{"--fit", "--json", "--store", "runs.db"},
			expectedCalled: "RunFit",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.Fit || !opts.JSON {
					t.Error("expected Fit and JSON true")
				}
				if opts.StorePath != "runs.db" {
					t.Errorf("expected StorePath runs.db, got %s", opts.StorePath)
				}
			},
		},
		{
			name:           "Synthetic",
			args:           []string{"--synthetic", "--seed", "42", "--index", "kdtree", "--output", "out.txt"},
			expectedCalled: "RunSynthetic",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Seed != 42 {
					t.Errorf("expected Seed 42, got %d", opts.Seed)
				}
				if opts.Index != "kdtree" {
					t.Errorf("expected Index kdtree, got %s", opts.Index)
				}
				if opts.Output != "out.txt" {
					t.Errorf("expected Output out.txt, got %s", opts.Output)
				}
			},
		},
		{
			name:           "Draw",
			args:           []string{"--input", "pairs.txt", "--draw", "matches.png"},
			expectedCalled: "RunFit",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Draw != "matches.png" {
					t.Errorf("expected Draw matches.png, got %s", opts.Draw)
				}
			},
		},
		{
			name:           "History",
			args:           []string{"--history", "--limit", "5", "--scene", "hall"},
			expectedCalled: "RunHistory",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Limit != 5 {
					t.Errorf("expected Limit 5, got %d", opts.Limit)
				}
				if opts.Scene != "hall" {
					t.Errorf("expected Scene hall, got %s", opts.Scene)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
			},
		},
		{
			name:           "HttpMode",
			args:           []string{"--http", "--log-level", "debug", "--result-cache", "cache.json"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode || opts.MqttMode {
					t.Error("expected only HttpMode")
				}
				if opts.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", opts.LogLevel)
				}
				if opts.ResultCache != "cache.json" {
					t.Errorf("expected ResultCache cache.json, got %s", opts.ResultCache)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Defaults(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(out.String(), "gcransac version: "+Version) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "--input=FILE") {
		t.Errorf("expected usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
	if app.opts.ConfigFile != "config.yaml" {
		t.Errorf("expected default ConfigFile config.yaml, got %s", app.opts.ConfigFile)
	}
	if app.opts.Limit != 20 {
		t.Errorf("expected default Limit 20, got %d", app.opts.Limit)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of gcransac") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--bogus"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--fit"}, &out, app); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestMain_Execute(t *testing.T) {
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
