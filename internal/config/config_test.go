package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedsDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	if cfg.CQT.Variant != want.CQT.Variant || cfg.DTW.SearchWindow != want.DTW.SearchWindow {
		t.Errorf("Load produced %+v, want defaults %+v", cfg, want)
	}

	if _, err := os.Stat(Path(dir)); err != nil {
		t.Errorf("expected config file to be written at %s: %v", Path(dir), err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.DTW.SearchWindow = 42
	cfg.Backend.Mode = "timestamp"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.DTW.SearchWindow != 42 || reloaded.Backend.Mode != "timestamp" {
		t.Errorf("reloaded config = %+v, want SearchWindow=42 Mode=timestamp", reloaded)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown variant", func(c *Config) { c.CQT.Variant = "fft" }},
		{"fmax below fmin", func(c *Config) { c.CQT.Fmax = c.CQT.Fmin - 1 }},
		{"zero hop", func(c *Config) { c.CQT.Hop = 0 }},
		{"zero frame ratio", func(c *Config) { c.CQT.FrameRatio = 0 }},
		{"negative sample rate", func(c *Config) { c.CQT.SampleRate = -1 }},
		{"zero search window", func(c *Config) { c.DTW.SearchWindow = 0 }},
		{"zero max run count", func(c *Config) { c.DTW.MaxRunCount = 0 }},
		{"unknown backend mode", func(c *Config) { c.Backend.Mode = "midi" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default configuration must validate, got %v", err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"dtw": {"searchWindow": 0}}`)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
