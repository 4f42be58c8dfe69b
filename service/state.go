package service

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ResultTracker holds the latest fit per scene for the HTTP endpoints
type ResultTracker struct {
	mu        sync.RWMutex
	results   map[string]*FitSummary
	cachePath string // empty disables persistence
	log       zerolog.Logger
}

// NewResultTracker creates an in-memory tracker
func NewResultTracker() *ResultTracker {
	return &ResultTracker{
		results: make(map[string]*FitSummary),
		log:     zerolog.Nop(),
	}
}

// NewResultTrackerWithCache creates a tracker that persists every update to cachePath.
// Results already cached there are loaded on creation.
func NewResultTrackerWithCache(cachePath string, log zerolog.Logger) *ResultTracker {
	rt := &ResultTracker{
		results:   make(map[string]*FitSummary),
		cachePath: cachePath,
		log:       log.With().Str("component", "tracker").Logger(),
	}
	if cachePath == "" {
		return rt
	}
	cache, err := LoadResults(cachePath)
	if err != nil {
		rt.log.Warn().Err(err).Str("path", cachePath).Msg("ignoring unreadable result cache")
		return rt
	}
	if cache != nil {
		for scene, summary := range cache.Results {
			s := summary
			rt.results[scene] = &s
		}
	}
	return rt
}

// Update stores the latest result of a scene
func (rt *ResultTracker) Update(summary FitSummary) {
	rt.mu.Lock()
	s := summary
	rt.results[summary.Scene] = &s
	snapshot := rt.snapshotLocked()
	rt.mu.Unlock()

	if rt.cachePath != "" {
		if err := SaveResults(rt.cachePath, snapshot); err != nil {
			rt.log.Warn().Err(err).Msg("failed to save result cache")
		}
	}
}

func (rt *ResultTracker) snapshotLocked() *ResultCache {
	cache := &ResultCache{Results: make(map[string]FitSummary, len(rt.results))}
	for k, v := range rt.results {
		cache.Results[k] = *v
	}
	return cache
}

// Get returns a copy of the latest result of a scene
func (rt *ResultTracker) Get(scene string) (FitSummary, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	s, ok := rt.results[scene]
	if !ok {
		return FitSummary{}, false
	}
	return *s, true
}

// All returns copies of every tracked result ordered by scene name
func (rt *ResultTracker) All() []FitSummary {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]FitSummary, 0, len(rt.results))
	for _, s := range rt.results {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scene < out[j].Scene })
	return out
}

// HasResults returns true if at least one scene has been fitted
func (rt *ResultTracker) HasResults() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.results) > 0
}
