package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/gcransac/ransac"
	"github.com/kwv/gcransac/service"
)

// writeTestConfig writes a quiet config with one synthetic affine scene
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	config := `logLevel: disabled
problem: affine
settings:
  seed: 5
  cores: 2
scenes:
  - name: generated
    synthetic:
      inliers: 60
      outliers: 15
      noise: 0.2
      width: 640
      height: 480
      seed: 11
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path
}

func TestNewApp(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	require.NotNil(t, app)
	assert.NotNil(t, app.Tracker, "Tracker should be initialized")
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	opts := AppOptions{
		ConfigFile: "test-config.yaml",
		Input:      "pairs.txt",
		Problem:    "homography",
		Seed:       9,
		HttpPort:   9090,
		MqttMode:   true,
	}
	app.ApplyOptions(opts)
	assert.Equal(t, opts, app.opts)
}

func TestSetup_Overrides(t *testing.T) {
	dir := t.TempDir()
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{
		ConfigFile: writeTestConfig(t, dir),
		Problem:    "homography",
		Seed:       77,
		Threshold:  3,
		Confidence: 0.95,
		Index:      "kdtree",
		StorePath:  filepath.Join(dir, "runs.db"),
		HttpPort:   9999,
	})
	require.NoError(t, app.setup())

	assert.Equal(t, ransac.ProblemHomography, app.Config.Problem)
	assert.Equal(t, int64(77), app.Config.Settings.Seed)
	assert.Equal(t, 3.0, app.Config.Settings.Threshold)
	assert.Equal(t, 0.95, app.Config.Settings.Confidence)
	assert.Equal(t, ransac.IndexKDTree, app.Config.Settings.NeighborhoodIndex)
	assert.Equal(t, 9999, app.Config.HTTP.Port)
	assert.Equal(t, filepath.Join(dir, "runs.db"), app.Config.Store.Path)
}

func TestSetup_MissingExplicitConfig(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, app.setup())
}

func TestSetup_InvalidOverride(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, t.TempDir()), Confidence: 1.5})
	assert.ErrorIs(t, app.setup(), ransac.ErrInvalidConfiguration)
}

func TestRunFit_InputAndHistory(t *testing.T) {
	dir := t.TempDir()
	scene, err := ransac.SyntheticScene(ransac.SceneOptions{
		Problem: ransac.ProblemAffine, Inliers: 60, Outliers: 15, Noise: 0.2, Width: 640, Height: 480, Seed: 2,
	})
	require.NoError(t, err)
	input := filepath.Join(dir, "pairs.txt")
	fh, err := os.Create(input)
	require.NoError(t, err)
	require.NoError(t, service.WriteCorrespondenceText(fh, scene.Set))
	require.NoError(t, fh.Close())

	store := filepath.Join(dir, "runs.db")
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, dir), Input: input, StorePath: store, Limit: 10})
	require.NoError(t, app.RunFit())

	report := out.String()
	assert.Contains(t, report, "=== pairs (affine) ===")
	assert.Contains(t, report, "Number of inliers = ")
	assert.Contains(t, report, "Run ID = ")
	assert.Nil(t, app.Store, "store should be closed after the run")

	out.Reset()
	history := NewApp(&out)
	history.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, dir), StorePath: store, Limit: 10})
	require.NoError(t, history.RunHistory())
	assert.Contains(t, out.String(), "pairs")
	assert.Contains(t, out.String(), "affine")
}

func TestRunFit_ConfiguredScenes(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, t.TempDir()), Fit: true})
	require.NoError(t, app.RunFit())
	assert.Contains(t, out.String(), "=== generated (affine) ===")

	got, ok := app.Tracker.Get("generated")
	require.True(t, ok)
	assert.Len(t, got.Model, 6)
}

func TestRunHistory_NoStore(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, t.TempDir())})
	assert.Error(t, app.RunHistory())
}

func TestRunSynthetic_Output(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "scene.txt")
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, dir), Synthetic: true, Output: output})
	require.NoError(t, app.RunSynthetic())
	assert.Contains(t, out.String(), "Wrote 200 correspondences")

	set, err := service.ParseCorrespondenceFile(output)
	require.NoError(t, err)
	assert.Equal(t, 200, set.Len())
}

func TestRunSynthetic_Fit(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, t.TempDir()), Synthetic: true})
	require.NoError(t, app.RunSynthetic())
	assert.Contains(t, out.String(), "Inlier precision = ")
	assert.Contains(t, out.String(), "Inlier recall = ")
}

func TestRunSynthetic_Draw(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "matches.svg")
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, dir), Synthetic: true, Draw: image})
	require.NoError(t, app.RunSynthetic())
	assert.Contains(t, out.String(), "Match image written to "+image)

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRunSynthetic_DrawBadFormat(t *testing.T) {
	dir := t.TempDir()
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: writeTestConfig(t, dir), Synthetic: true, Draw: filepath.Join(dir, "m.bmp")})
	assert.ErrorContains(t, app.RunSynthetic(), "unsupported image format")
}

func TestLabelAccuracy(t *testing.T) {
	truth := []bool{true, true, false, true, false}

	precision, recall := labelAccuracy([]int{0, 1, 2}, truth)
	assert.InDelta(t, 2.0/3.0, precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, recall, 1e-12)

	precision, recall = labelAccuracy(nil, truth)
	assert.Zero(t, precision)
	assert.Zero(t, recall)

	precision, _ = labelAccuracy([]int{9, -1}, truth)
	assert.Zero(t, precision)
}

func TestFormatModel(t *testing.T) {
	assert.Equal(t, "[1 0 0; 0 1 0; 0 0 1]", formatModel([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	assert.Equal(t, "[1 0.5 3; 0 1 -2]", formatModel([]float64{1, 0.5, 3, 0, 1, -2}))
	assert.True(t, strings.HasPrefix(formatModel(nil), "["))
}
