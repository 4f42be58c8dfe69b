package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultResultCachePath is the default path of the last-result cache
const DefaultResultCachePath = ".gcransac-results.json"

// ResultCache is the on-disk snapshot of the latest fit per scene
type ResultCache struct {
	Results     map[string]FitSummary `json:"results"`
	LastUpdated int64                 `json:"lastUpdated"`
}

// LoadResults loads the result cache. A missing file is not an error: it returns nil, nil.
func LoadResults(path string) (*ResultCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading result cache: %w", err)
	}

	var cache ResultCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing result cache: %w", err)
	}
	if cache.Results == nil {
		cache.Results = make(map[string]FitSummary)
	}
	return &cache, nil
}

// SaveResults writes the result cache, creating its directory when needed
func SaveResults(path string, cache *ResultCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating result cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result cache: %w", err)
	}

	return nil
}
