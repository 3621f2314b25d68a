// Package config loads, validates, and persists the follower's run
// configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalid marks a configuration value the pipeline cannot run with.
// Load wraps it, so callers can test for it with errors.Is; the CLI exits
// with status 1 on any error Load returns, this one included.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete, on-disk configuration for one alignment run.
type Config struct {
	// DataDir names a directory for score-side artifacts. No package in
	// this repository reads or writes it.
	DataDir string `json:"dataDir"`

	CQT      CQTConfig      `json:"cqt"`
	DTW      DTWConfig      `json:"dtw"`
	Backend  BackendConfig  `json:"backend"`
	Behavior BehaviorConfig `json:"behavior"`
}

// CQTConfig controls the feature-extraction front end.
type CQTConfig struct {
	// Variant selects the constant-Q implementation: "nsgt",
	// "librosa_pseudo", "librosa_hybrid", or "librosa_full".
	Variant    string  `json:"variant"`
	Fmin       float64 `json:"fmin"`
	Fmax       float64 `json:"fmax"`
	Hop        int     `json:"hopLen"`
	FrameRatio int     `json:"sliceHopRatio"` // Frame = Hop * FrameRatio
	SampleRate int     `json:"sampleRate"`
}

// DTWConfig controls the Online Time-Warping follower.
type DTWConfig struct {
	SearchWindow int     `json:"searchWindow"`
	MaxRunCount  int     `json:"maxRunCount"`
	Wa           float64 `json:"weightA"`
	Wb           float64 `json:"weightB"`
	Wc           float64 `json:"weightC"`
}

// BackendConfig controls alignment-result emission.
type BackendConfig struct {
	// Mode is "timestamp" or "alignment".
	Mode      string `json:"mode"`
	Backtrack bool   `json:"backtrack"`
	// Output is "stdout", "stderr", a "udp://host:port" URL, or a file
	// path.
	Output              string `json:"output"`
	CompensationEnabled bool   `json:"compensationEnabled"`
}

// BehaviorConfig contains run-mode behaviour settings.
type BehaviorConfig struct {
	// SimulatePerformance paces the Slicer to wall-clock time instead of
	// running as fast as possible.
	SimulatePerformance bool `json:"simulatePerformance"`
}

// Default returns the configuration a first run starts from.
func Default() *Config {
	return &Config{
		CQT: CQTConfig{
			Variant:    "nsgt",
			Fmin:       130.8,
			Fmax:       4186.0,
			Hop:        512,
			FrameRatio: 4,
			SampleRate: 44100,
		},
		DTW: DTWConfig{
			SearchWindow: 100,
			MaxRunCount:  3,
			Wa:           1.0,
			Wb:           1.0,
			Wc:           2.0,
		},
		Backend: BackendConfig{
			Mode:                "alignment",
			Backtrack:           false,
			Output:              "stdout",
			CompensationEnabled: true,
		},
		Behavior: BehaviorConfig{
			SimulatePerformance: true,
		},
	}
}

// Path returns the config file location under dir.
func Path(dir string) string {
	return filepath.Join(dir, "config.json")
}

// Load reads and validates the configuration under dir. On first run,
// when no file exists yet, the default configuration is written out and
// returned. Unset fields in an existing file keep their defaults.
func Load(dir string) (*Config, error) {
	path := Path(dir)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := cfg.Save(dir); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists c under dir, creating the directory if needed. The file
// is written 0600 inside a 0700 directory since the config may name
// local paths.
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	path := Path(dir)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the CQT options, the search window, the max run count
// and the backend mode, so that a bad value there is rejected before any
// stage starts. The direction weights and the backend output are not
// checked.
func (c *Config) Validate() error {
	switch c.CQT.Variant {
	case "nsgt", "librosa_pseudo", "librosa_hybrid", "librosa", "librosa_full":
	default:
		return fmt.Errorf("%w: unknown cqt variant %q", ErrInvalid, c.CQT.Variant)
	}
	if c.CQT.Fmin <= 0 || c.CQT.Fmax <= c.CQT.Fmin {
		return fmt.Errorf("%w: frequency bounds fmin=%v fmax=%v", ErrInvalid, c.CQT.Fmin, c.CQT.Fmax)
	}
	if c.CQT.Hop <= 0 {
		return fmt.Errorf("%w: hop length %d", ErrInvalid, c.CQT.Hop)
	}
	if c.CQT.FrameRatio < 1 {
		return fmt.Errorf("%w: slice/hop ratio %d", ErrInvalid, c.CQT.FrameRatio)
	}
	if c.CQT.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalid, c.CQT.SampleRate)
	}
	if c.DTW.SearchWindow < 1 {
		return fmt.Errorf("%w: search window %d", ErrInvalid, c.DTW.SearchWindow)
	}
	if c.DTW.MaxRunCount < 1 {
		return fmt.Errorf("%w: max run count %d", ErrInvalid, c.DTW.MaxRunCount)
	}
	switch c.Backend.Mode {
	case "timestamp", "alignment":
	default:
		return fmt.Errorf("%w: unknown backend mode %q", ErrInvalid, c.Backend.Mode)
	}
	return nil
}
