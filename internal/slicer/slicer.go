// Package slicer reads a decoded performance waveform and emits
// overlapping audio frames at a fixed hop, optionally pacing emission to
// wall-clock time to simulate a live performance.
package slicer

import (
	"context"
	"time"

	"github.com/flippy-go/flippy/internal/stream"
	"github.com/flippy-go/flippy/internal/waveform"
)

// compensation is a small fixed adjustment subtracted from each paced
// sleep to offset the scheduling/wake-up overhead of time.Sleep itself.
const compensation = 2 * time.Millisecond

// Config holds the Slicer's framing and pacing parameters.
type Config struct {
	Hop          int // H, samples
	Frame        int // F, samples; F >= Hop
	SampleRate   int // R
	SimulateLive bool
}

// Slicer emits successive frames of a waveform, zero-padding the tail.
type Slicer struct {
	cfg    Config
	source *waveform.Source
}

// New constructs a Slicer over an already-decoded waveform.
func New(cfg Config, source *waveform.Source) *Slicer {
	return &Slicer{cfg: cfg, source: source}
}

// Run emits frames to out, pacing emission under SimulateLive, and
// terminates with an explicit end-of-stream AudioFrame.
func (s *Slicer) Run(ctx context.Context, out chan<- stream.AudioFrame) error {
	hopDuration := time.Duration(float64(s.cfg.Hop) / float64(s.cfg.SampleRate) * float64(time.Second))
	frameDuration := time.Duration(float64(s.cfg.Frame) / float64(s.cfg.SampleRate) * float64(time.Second))

	samples := s.source.Samples
	nextEmit := time.Time{}

	for start := 0; start < len(samples); start += s.cfg.Hop {
		if s.cfg.SimulateLive {
			var sleepFor time.Duration
			if nextEmit.IsZero() {
				sleepFor = frameDuration
			} else {
				sleepFor = time.Until(nextEmit)
			}
			sleepFor -= compensation
			if sleepFor > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(sleepFor):
				}
			}
			nextEmit = time.Now().Add(hopDuration)
		}

		frame := make([]float64, s.cfg.Frame)
		end := start + s.cfg.Frame
		if end > len(samples) {
			end = len(samples)
		}
		copy(frame, samples[start:end])

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- stream.AudioFrame{Samples: frame}:
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- stream.EndAudioFrame():
		return nil
	}
}
