package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/ransac"
)

func summaryFor(scene string, inliers int) FitSummary {
	return FitSummary{
		Scene:      scene,
		Problem:    ransac.ProblemFundamental,
		Points:     200,
		Statistics: ransac.Statistics{InlierCount: inliers, Iterations: 60},
		Timestamp:  time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// NewResultTracker
// ---------------------------------------------------------------------------

func TestNewResultTracker(t *testing.T) {
	rt := NewResultTracker()
	if rt.HasResults() {
		t.Error("new tracker HasResults should be false")
	}
	if len(rt.All()) != 0 {
		t.Error("new tracker should have zero results")
	}
	if _, ok := rt.Get("head"); ok {
		t.Error("Get on empty tracker should miss")
	}
}

// ---------------------------------------------------------------------------
// Update / Get / All
// ---------------------------------------------------------------------------

func TestResultTracker_UpdateReplacesScene(t *testing.T) {
	rt := NewResultTracker()
	rt.Update(summaryFor("head", 100))
	rt.Update(summaryFor("head", 120))

	got, ok := rt.Get("head")
	if !ok {
		t.Fatal("head not tracked")
	}
	if got.Statistics.InlierCount != 120 {
		t.Errorf("InlierCount = %d, want 120", got.Statistics.InlierCount)
	}
	if len(rt.All()) != 1 {
		t.Errorf("len(All) = %d, want 1", len(rt.All()))
	}
}

func TestResultTracker_AllSortedByScene(t *testing.T) {
	rt := NewResultTracker()
	for _, s := range []string{"kyoto", "head", "johnssona"} {
		rt.Update(summaryFor(s, 10))
	}
	all := rt.All()
	want := []string{"head", "johnssona", "kyoto"}
	for i, s := range all {
		if s.Scene != want[i] {
			t.Errorf("All()[%d].Scene = %q, want %q", i, s.Scene, want[i])
		}
	}
}

func TestResultTracker_GetReturnsCopy(t *testing.T) {
	rt := NewResultTracker()
	rt.Update(summaryFor("head", 100))

	got, _ := rt.Get("head")
	got.Statistics.InlierCount = 1

	again, _ := rt.Get("head")
	if again.Statistics.InlierCount != 100 {
		t.Error("mutating a returned summary changed tracker state")
	}
}

func TestResultTracker_Concurrent(t *testing.T) {
	rt := NewResultTracker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt.Update(summaryFor(fmt.Sprintf("scene-%d", i%5), i))
			_ = rt.All()
			_, _ = rt.Get("scene-0")
		}(i)
	}
	wg.Wait()
	if len(rt.All()) != 5 {
		t.Errorf("len(All) = %d, want 5", len(rt.All()))
	}
}

// ---------------------------------------------------------------------------
// persistence
// ---------------------------------------------------------------------------

func TestResultTracker_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "results.json")

	rt := NewResultTrackerWithCache(path, zerolog.Nop())
	rt.Update(summaryFor("head", 133))

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	reloaded := NewResultTrackerWithCache(path, zerolog.Nop())
	got, ok := reloaded.Get("head")
	if !ok {
		t.Fatal("head not reloaded from cache")
	}
	if got.Statistics.InlierCount != 133 {
		t.Errorf("InlierCount = %d, want 133", got.Statistics.InlierCount)
	}
}

func TestResultTracker_CorruptCacheIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	rt := NewResultTrackerWithCache(path, zerolog.Nop())
	if rt.HasResults() {
		t.Error("corrupt cache should load no results")
	}
}

func TestLoadResults_MissingFile(t *testing.T) {
	cache, err := LoadResults(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadResults: %v", err)
	}
	if cache != nil {
		t.Error("expected nil cache for missing file")
	}
}
