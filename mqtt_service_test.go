package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kwv/gcransac/service"
)

func TestRunService_MQTTWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	dir := t.TempDir()

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{
		ConfigFile:  writeTestConfig(t, dir),
		ResultCache: filepath.Join(dir, "results.json"),
		MqttMode:    true,
	})

	err := app.RunService()
	if err == nil || !strings.Contains(err.Error(), "MQTT broker not configured") {
		t.Fatalf("expected broker error, got %v", err)
	}
	if !strings.Contains(out.String(), "Starting gcransac service...") {
		t.Errorf("expected startup banner, got: %s", out.String())
	}
}

func TestRunService_BadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("settings:\n  threshold: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: path, HttpMode: true})
	if err := app.RunService(); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestResultCache_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	first := service.NewResultTrackerWithCache(path, NewApp(&bytes.Buffer{}).Log)
	first.Update(service.FitSummary{Scene: "kitchen", Points: 12, Timestamp: time.Unix(1, 0).UTC()})

	second := service.NewResultTrackerWithCache(path, NewApp(&bytes.Buffer{}).Log)
	got, ok := second.Get("kitchen")
	if !ok || got.Points != 12 {
		t.Errorf("reloaded result = %+v, %v", got, ok)
	}
}
