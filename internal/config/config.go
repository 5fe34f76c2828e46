// Package config loads the tapedeck configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tapedeck-io/tapedeck/internal/timeline"
)

// Config holds the operational settings for assembling and replaying a
// recording. All fields are optional in the file; absent fields take
// the defaults from Default.
type Config struct {
	// PollIntervalMs is the virtual-time refresh cadence.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Rates is the allowed playback rate set; the first entry is the
	// initial rate.
	Rates []float64 `yaml:"rates,omitempty"`

	// CachePath is the SQLite chunk-cache location. Empty disables
	// caching.
	CachePath string `yaml:"cache_path,omitempty"`

	// FetchTimeoutMs bounds each remote chunk request.
	FetchTimeoutMs int `yaml:"fetch_timeout_ms"`

	// Audio tunes the secondary-track sync guard.
	Audio AudioConfig `yaml:"audio"`

	// Call optionally anchors a secondary audio track to the session.
	Call *timeline.CallConfig `yaml:"call,omitempty"`
}

// AudioConfig tunes the audio-sync drift guard.
type AudioConfig struct {
	HysteresisSec   float64 `yaml:"hysteresis_sec"`
	BackwardJumpSec float64 `yaml:"backward_jump_sec"`
	DistinctSec     float64 `yaml:"distinct_sec"`
	GuardMs         float64 `yaml:"guard_ms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		PollIntervalMs: 300,
		Rates:          []float64{1, 2},
		FetchTimeoutMs: 10_000,
		Audio: AudioConfig{
			HysteresisSec:   0.5,
			BackwardJumpSec: 2.0,
			DistinctSec:     0.1,
			GuardMs:         250,
		},
	}
}

// Load reads and parses a YAML configuration file. Unknown fields are
// rejected to catch typos; missing fields fall back to defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func validate(c *Config) error {
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	if c.FetchTimeoutMs <= 0 {
		return fmt.Errorf("fetch_timeout_ms must be positive, got %d", c.FetchTimeoutMs)
	}
	if len(c.Rates) == 0 {
		return fmt.Errorf("rates must be non-empty")
	}
	for _, r := range c.Rates {
		if r <= 0 {
			return fmt.Errorf("rates must be positive, got %g", r)
		}
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-request fetch bound as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}
