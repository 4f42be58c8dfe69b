package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kwv/gcransac/ransac"
)

// SceneConfig names one correspondence input. Exactly one of Input, URL or
// Synthetic is set.
type SceneConfig struct {
	Name      string               `yaml:"name" json:"name"`
	Input     string               `yaml:"input,omitempty" json:"input,omitempty"` // path to a .txt or .json correspondence file
	URL       string               `yaml:"url,omitempty" json:"url,omitempty"`     // HTTP endpoint serving correspondence JSON or text rows
	Problem   ransac.Problem       `yaml:"problem,omitempty" json:"problem,omitempty"`
	Synthetic *ransac.SceneOptions `yaml:"synthetic,omitempty" json:"synthetic,omitempty"`
}

// StoreConfig locates the run history database
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// HTTPConfig holds the result API settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// Config represents the full configuration file
type Config struct {
	Settings ransac.Settings `yaml:"settings" json:"settings"`
	Problem  ransac.Problem  `yaml:"problem" json:"problem"`
	LogLevel string          `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
	MQTT     MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	HTTP     HTTPConfig      `yaml:"http" json:"http"`
	Store    StoreConfig     `yaml:"store" json:"store"`
	Scenes   []SceneConfig   `yaml:"scenes" json:"scenes"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Settings: ransac.DefaultSettings(),
		Problem:  ransac.ProblemFundamental,
		HTTP:     HTTPConfig{Port: 8080},
	}
}

// GetScene returns the scene config with the given name
func (c *Config) GetScene(name string) *SceneConfig {
	for i := range c.Scenes {
		if c.Scenes[i].Name == name {
			return &c.Scenes[i]
		}
	}
	return nil
}

// ProblemFor returns the scene's problem, falling back to the config default
func (c *Config) ProblemFor(sc *SceneConfig) ransac.Problem {
	if sc != nil && sc.Problem != "" {
		return sc.Problem
	}
	if c.Problem != "" {
		return c.Problem
	}
	return ransac.ProblemFundamental
}

// FitSummary is the published and tracked outcome of fitting one scene
type FitSummary struct {
	RunID      string            `json:"runId,omitempty"`
	Scene      string            `json:"scene"`
	Problem    ransac.Problem    `json:"problem"`
	Model      []float64         `json:"model,omitempty"`
	Points     int               `json:"points"`
	Inliers    []int             `json:"inliers,omitempty"`
	Statistics ransac.Statistics `json:"statistics"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// FitRequest is the MQTT payload asking for a fit of inline correspondences
type FitRequest struct {
	Problem         ransac.Problem  `json:"problem,omitempty"`
	Correspondences [][4]float64    `json:"correspondences"`
	Settings        json.RawMessage `json:"settings,omitempty"` // partial, overlaid on the configured settings
}

// ResolveSettings overlays the request's settings onto base. Fields the
// request omits keep their base values.
func (r *FitRequest) ResolveSettings(base ransac.Settings) (ransac.Settings, error) {
	if len(r.Settings) == 0 || string(r.Settings) == "null" {
		return base, nil
	}
	if err := json.Unmarshal(r.Settings, &base); err != nil {
		return ransac.Settings{}, fmt.Errorf("decoding request settings: %w", err)
	}
	return base, nil
}
