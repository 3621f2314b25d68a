package pipeline

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/flippy-go/flippy/internal/backend"
	"github.com/flippy-go/flippy/internal/feature"
	"github.com/flippy-go/flippy/internal/oltw"
	"github.com/flippy-go/flippy/internal/slicer"
	"github.com/flippy-go/flippy/internal/waveform"
)

type captureSink struct{ lines []string }

func (c *captureSink) WriteLine(line string) error { c.lines = append(c.lines, line); return nil }
func (c *captureSink) Close() error                { return nil }

// Aligning a waveform against features extracted from itself must drain
// all four stages cleanly and produce a strictly increasing timestamp
// stream.
func TestRunAlignsWaveformAgainstItself(t *testing.T) {
	const sampleRate = 8000
	params := feature.Params{
		Fmin:       130.8,
		Fmax:       1046.5,
		Hop:        256,
		Frame:      1024,
		SampleRate: sampleRate,
	}

	samples := make([]float64, sampleRate)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 440 * float64(i) / sampleRate)
	}
	src := &waveform.Source{Samples: samples, SampleRate: sampleRate}

	extractor, err := feature.NewExtractor(params)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	scoreFeatures := extractor.ExtractOffline(samples)
	if len(scoreFeatures) == 0 {
		t.Fatal("expected non-empty score feature sequence")
	}

	sink := &captureSink{}
	cfg := Config{
		Slicer: slicer.Config{
			Hop:        params.Hop,
			Frame:      params.Frame,
			SampleRate: sampleRate,
		},
		Feature: params,
		OLTW:    oltw.DefaultConfig(5, 3),
		Backend: backend.Config{
			Mode:       backend.ModeTimestamp,
			Hop:        params.Hop,
			Frame:      params.Frame,
			SampleRate: sampleRate,
		},
	}

	pl, err := New(cfg, src, scoreFeatures, nil, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pl.Run(ctx, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.lines) == 0 {
		t.Fatal("expected at least one emitted timestamp")
	}
	prev := math.Inf(-1)
	for _, line := range sink.lines {
		ts, err := strconv.ParseFloat(line, 64)
		if err != nil {
			t.Fatalf("non-numeric timestamp line %q: %v", line, err)
		}
		if ts <= prev {
			t.Errorf("timestamps not strictly increasing: %v after %v", ts, prev)
		}
		prev = ts
	}
}

// Cancelling the context mid-run must unwind every stage instead of
// leaving a goroutine blocked on a channel.
func TestRunReturnsOnContextCancellation(t *testing.T) {
	const sampleRate = 8000
	params := feature.Params{
		Fmin:       130.8,
		Fmax:       1046.5,
		Hop:        256,
		Frame:      1024,
		SampleRate: sampleRate,
	}

	samples := make([]float64, sampleRate*4)
	src := &waveform.Source{Samples: samples, SampleRate: sampleRate}

	extractor, err := feature.NewExtractor(params)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	scoreFeatures := extractor.ExtractOffline(samples[:sampleRate])

	cfg := Config{
		Slicer: slicer.Config{
			Hop:          params.Hop,
			Frame:        params.Frame,
			SampleRate:   sampleRate,
			SimulateLive: true,
		},
		Feature: params,
		OLTW:    oltw.DefaultConfig(5, 3),
		Backend: backend.Config{
			Mode:       backend.ModeTimestamp,
			Hop:        params.Hop,
			Frame:      params.Frame,
			SampleRate: sampleRate,
		},
	}

	pl, err := New(cfg, src, scoreFeatures, nil, &captureSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pl.Run(ctx, time.Now()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
