package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/gcransac/ransac"
	"github.com/kwv/gcransac/runstore"
)

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, string, ransac.Fit) (runstore.Run, error) {
	return runstore.Run{}, errors.New("disk full")
}

func fitterConfig() *Config {
	config := DefaultConfig()
	config.Settings.Seed = 7
	config.Settings.Cores = 2
	config.Scenes = []SceneConfig{
		{
			Name:    "synthetic-affine",
			Problem: ransac.ProblemAffine,
			Synthetic: &ransac.SceneOptions{
				Inliers: 80, Outliers: 20, Noise: 0.2, Width: 640, Height: 480, Seed: 3,
			},
		},
	}
	return config
}

func TestFitter_FitSceneSynthetic(t *testing.T) {
	store, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	mc := NewMockClient()
	mc.SetConnected(true)
	fitter := NewFitter(fitterConfig(), nil, zerolog.Nop(),
		WithRecorder(store),
		WithPublisher(NewPublisher(mc, nil, zerolog.Nop())),
	)

	summary, err := fitter.FitScene(context.Background(), "synthetic-affine")
	require.NoError(t, err)
	assert.Equal(t, ransac.ProblemAffine, summary.Problem)
	assert.Equal(t, 100, summary.Points)
	assert.Len(t, summary.Model, 6)
	assert.GreaterOrEqual(t, summary.Statistics.InlierCount, 70)
	assert.NotEmpty(t, summary.RunID)
	assert.Empty(t, summary.Error)

	tracked, ok := fitter.Tracker().Get("synthetic-affine")
	require.True(t, ok)
	assert.Equal(t, summary.RunID, tracked.RunID)

	run, err := store.Get(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, "synthetic-affine", run.Scene)

	assert.Len(t, mc.GetPublishedMessages(), 2)
}

func TestFitter_FitSceneFromFile(t *testing.T) {
	scene, err := ransac.SyntheticScene(ransac.SceneOptions{
		Problem: ransac.ProblemHomography, Inliers: 60, Outliers: 10, Noise: 0.1, Width: 640, Height: 480, Seed: 9,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pairs.txt")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteCorrespondenceText(fh, scene.Set))
	require.NoError(t, fh.Close())

	config := fitterConfig()
	config.Scenes = []SceneConfig{{Name: "wall", Input: path, Problem: ransac.ProblemHomography}}

	summary, err := NewFitter(config, nil, zerolog.Nop()).FitScene(context.Background(), "wall")
	require.NoError(t, err)
	assert.Len(t, summary.Model, 9)
	assert.Equal(t, 70, summary.Points)
}

func TestFitter_UnknownScene(t *testing.T) {
	_, err := NewFitter(fitterConfig(), nil, zerolog.Nop()).FitScene(context.Background(), "missing")
	assert.Error(t, err)
}

func TestFitter_LoadFailureIsTracked(t *testing.T) {
	config := fitterConfig()
	config.Scenes = []SceneConfig{{Name: "gone", Input: filepath.Join(t.TempDir(), "nope.txt")}}
	fitter := NewFitter(config, nil, zerolog.Nop())

	_, err := fitter.FitScene(context.Background(), "gone")
	require.Error(t, err)

	tracked, ok := fitter.Tracker().Get("gone")
	require.True(t, ok)
	assert.NotEmpty(t, tracked.Error)
}

func TestFitter_RecorderFailureKeepsResult(t *testing.T) {
	fitter := NewFitter(fitterConfig(), nil, zerolog.Nop(), WithRecorder(failingRecorder{}))
	summary, err := fitter.FitScene(context.Background(), "synthetic-affine")
	require.NoError(t, err)
	assert.Empty(t, summary.RunID)
	assert.True(t, fitter.Tracker().HasResults())
}

func TestFitter_TooFewPoints(t *testing.T) {
	set, err := ransac.CorrespondencesFromRows([][4]float64{{0, 0, 1, 1}, {1, 1, 2, 2}})
	require.NoError(t, err)

	fitter := NewFitter(fitterConfig(), nil, zerolog.Nop())
	summary, err := fitter.Fit(context.Background(), "tiny", ransac.ProblemAffine, fitterConfig().Settings, set)
	require.ErrorIs(t, err, ransac.ErrEmptyInput)
	assert.NotEmpty(t, summary.Error)
	assert.Equal(t, 2, summary.Points)
}

func TestFitter_FitAll(t *testing.T) {
	config := fitterConfig()
	config.Scenes = append(config.Scenes, SceneConfig{Name: "broken", Input: filepath.Join(t.TempDir(), "x.json")})

	summaries, err := NewFitter(config, nil, zerolog.Nop()).FitAll(context.Background())
	require.Error(t, err)
	require.Len(t, summaries, 2)
	assert.Empty(t, summaries[0].Error)
	assert.NotEmpty(t, summaries[1].Error)
}

func TestFitter_HandleRequest(t *testing.T) {
	scene, err := ransac.SyntheticScene(ransac.SceneOptions{
		Problem: ransac.ProblemAffine, Inliers: 50, Outliers: 10, Noise: 0.1, Width: 640, Height: 480, Seed: 4,
	})
	require.NoError(t, err)

	fitter := NewFitter(fitterConfig(), nil, zerolog.Nop())
	handle := fitter.HandleRequest(context.Background())

	handle("door", &FitRequest{Problem: ransac.ProblemAffine, Correspondences: scene.Set.Rows()}, nil)
	got, ok := fitter.Tracker().Get("door")
	require.True(t, ok)
	assert.Empty(t, got.Error)
	assert.Len(t, got.Model, 6)

	// Only the threshold is sent; every other setting comes from the config.
	handle("partial", &FitRequest{
		Problem:         ransac.ProblemAffine,
		Correspondences: scene.Set.Rows(),
		Settings:        json.RawMessage(`{"threshold":3}`),
	}, nil)
	got, ok = fitter.Tracker().Get("partial")
	require.True(t, ok)
	assert.Empty(t, got.Error)
	assert.Len(t, got.Model, 6)
	assert.GreaterOrEqual(t, got.Statistics.Iterations, fitterConfig().Settings.MinIterations)

	handle("broken", &FitRequest{
		Problem:         ransac.ProblemAffine,
		Correspondences: scene.Set.Rows(),
		Settings:        json.RawMessage(`{"threshold":"far"}`),
	}, nil)
	got, ok = fitter.Tracker().Get("broken")
	require.True(t, ok)
	assert.Contains(t, got.Error, "request settings")

	handle("bad", nil, errors.New("decoding fit request: boom"))
	got, ok = fitter.Tracker().Get("bad")
	require.True(t, ok)
	assert.Contains(t, got.Error, "boom")

	handle("weird", &FitRequest{Problem: "cubic", Correspondences: scene.Set.Rows()}, nil)
	got, ok = fitter.Tracker().Get("weird")
	require.True(t, ok)
	assert.NotEmpty(t, got.Error)
}

func TestFitter_FitSceneFromURL(t *testing.T) {
	scene, err := ransac.SyntheticScene(ransac.SceneOptions{
		Problem: ransac.ProblemAffine, Inliers: 50, Outliers: 10, Noise: 0.1, Width: 640, Height: 480, Seed: 4,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_ = WriteCorrespondenceText(w, scene.Set)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.Settings.Seed = 2
	config.Scenes = []SceneConfig{{Name: "remote", URL: srv.URL, Problem: ransac.ProblemAffine}}
	fitter := NewFitter(config, nil, zerolog.Nop(), WithFetchOptions(WithHTTPClient(srv.Client())))

	summary, err := fitter.FitScene(context.Background(), "remote")
	require.NoError(t, err)
	assert.Equal(t, 60, summary.Points)
	assert.GreaterOrEqual(t, summary.Statistics.InlierCount, 45)
}
