// Package main is the entry point for flippy, a headless real-time
// score-following daemon: it aligns a live (or simulated) audio
// performance against a symbolic MIDI score via Online Time-Warping and
// streams the alignment to a configurable sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flippy-go/flippy/internal/backend"
	"github.com/flippy-go/flippy/internal/config"
	"github.com/flippy-go/flippy/internal/feature"
	"github.com/flippy-go/flippy/internal/oltw"
	"github.com/flippy-go/flippy/internal/pipeline"
	"github.com/flippy-go/flippy/internal/score"
	"github.com/flippy-go/flippy/internal/slicer"
	"github.com/flippy-go/flippy/internal/waveform"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Flags holds the CLI surface: which files to align and where to read
// run configuration from.
type Flags struct {
	ScorePath       string
	PerformancePath string
	SoundFontPath   string
	ConfigDir       string
	Verbose         bool
}

func main() {
	flags := parseFlags()

	if flags.Verbose {
		log.Printf("flippy version %s starting...", Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ScorePath, "score", "", "path to the symbolic MIDI score (required)")
	flag.StringVar(&f.PerformancePath, "performance", "", "path to the performance WAV file (required)")
	flag.StringVar(&f.SoundFontPath, "soundfont", "", "path to a SoundFont (.sf2) used to synthesise the score (required)")
	flag.StringVar(&f.ConfigDir, "config", "", "configuration directory (default: ~/.config/flippy)")
	flag.BoolVar(&f.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()

	if f.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("failed to get home directory: %v", err)
		}
		f.ConfigDir = homeDir + "/.config/flippy"
	}

	if f.ScorePath == "" || f.PerformancePath == "" || f.SoundFontPath == "" {
		log.Fatalf("missing required flags: -score, -performance and -soundfont must all be set")
	}

	return f
}

func run(ctx context.Context, flags *Flags) error {
	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	featureParams := feature.Params{
		Fmin:       cfg.CQT.Fmin,
		Fmax:       cfg.CQT.Fmax,
		Hop:        cfg.CQT.Hop,
		Frame:      cfg.CQT.Hop * cfg.CQT.FrameRatio,
		SampleRate: cfg.CQT.SampleRate,
		Variant:    feature.ParseVariant(cfg.CQT.Variant),
	}
	extractor, err := feature.NewExtractor(featureParams)
	if err != nil {
		return fmt.Errorf("failed to configure feature extractor: %w", err)
	}

	log.Printf("[SCORE] synthesising %s via %s", flags.ScorePath, flags.SoundFontPath)
	driver, err := score.NewMeltySynthDriver(flags.SoundFontPath, cfg.CQT.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to load soundfont: %w", err)
	}
	sc, err := score.Build(flags.ScorePath, driver, extractor)
	if err != nil {
		return fmt.Errorf("failed to build score: %w", err)
	}
	log.Printf("[SCORE] built %d feature frames, %d note onsets", len(sc.Features), sc.Notes.Len())

	log.Printf("[PERFORMANCE] loading %s", flags.PerformancePath)
	perf, err := waveform.Load(flags.PerformancePath)
	if err != nil {
		return fmt.Errorf("failed to load performance audio: %w", err)
	}

	sink, err := backend.OpenSink(cfg.Backend.Output)
	if err != nil {
		return fmt.Errorf("failed to open backend sink: %w", err)
	}
	defer sink.Close()

	backendMode := backend.ModeAlignment
	if cfg.Backend.Mode == "timestamp" {
		backendMode = backend.ModeTimestamp
	}

	pcfg := pipeline.Config{
		Slicer: slicer.Config{
			Hop:          featureParams.Hop,
			Frame:        featureParams.Frame,
			SampleRate:   featureParams.SampleRate,
			SimulateLive: cfg.Behavior.SimulatePerformance,
		},
		Feature: featureParams,
		OLTW: oltw.Config{
			SearchWindow: cfg.DTW.SearchWindow,
			MaxRunCount:  cfg.DTW.MaxRunCount,
			Wa:           cfg.DTW.Wa,
			Wb:           cfg.DTW.Wb,
			Wc:           cfg.DTW.Wc,
		},
		Backend: backend.Config{
			Mode:                backendMode,
			Backtrack:           cfg.Backend.Backtrack,
			Hop:                 featureParams.Hop,
			Frame:               featureParams.Frame,
			SampleRate:          featureParams.SampleRate,
			CompensationEnabled: cfg.Backend.CompensationEnabled,
			Online:              cfg.Behavior.SimulatePerformance,
		},
	}

	pl, err := pipeline.New(pcfg, perf, sc.Features, sc.Notes, sink)
	if err != nil {
		return fmt.Errorf("failed to construct pipeline: %w", err)
	}

	log.Printf("[PIPELINE] starting alignment run")
	if err := pl.Run(ctx, time.Now()); err != nil {
		return fmt.Errorf("pipeline error: %w", err)
	}

	log.Printf("[PIPELINE] alignment run complete")
	return nil
}
