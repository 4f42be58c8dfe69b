package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/runstore"
	"github.com/kwv/gcransac/service"
)

// newHTTPServer creates the result API. store may be nil, in which case the
// run history endpoints answer 503.
func newHTTPServer(tracker *service.ResultTracker, store *runstore.Store, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "http").Logger()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("remote", r.RemoteAddr).Msg("/health")
		writeJSON(w, log, http.StatusOK, struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
			HasStore   bool      `json:"hasStore"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: tracker.HasResults(),
			HasStore:   store != nil,
		})
	})

	mux.HandleFunc("GET /results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, tracker.All())
	})

	mux.HandleFunc("GET /results/{scene}", func(w http.ResponseWriter, r *http.Request) {
		scene := r.PathValue("scene")
		summary, ok := tracker.Get(scene)
		if !ok {
			http.Error(w, "No result for scene "+scene, http.StatusNotFound)
			return
		}
		writeJSON(w, log, http.StatusOK, summary)
	})

	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Run history not configured", http.StatusServiceUnavailable)
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := store.List(r.Context(), r.URL.Query().Get("scene"), limit)
		if err != nil {
			log.Error().Err(err).Msg("listing runs")
			http.Error(w, "Failed to list runs", http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Run history not configured", http.StatusServiceUnavailable)
			return
		}
		run, err := store.Get(r.Context(), r.PathValue("id"))
		if errors.Is(err, runstore.ErrNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("loading run")
			http.Error(w, "Failed to load run", http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, http.StatusOK, run)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}
