// Package backend converts OLTW (p_idx, s_idx) alignment estimates into
// timestamped output lines, enforcing monotone or monotone-with-backtrack
// emission and deduplicating score notes.
package backend

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/flippy-go/flippy/internal/stream"
)

// Mode selects the output format.
type Mode int

const (
	ModeTimestamp Mode = iota
	ModeAlignment
)

// Config holds the Backend's timing and emission-policy parameters.
type Config struct {
	Mode                Mode
	Backtrack           bool // backend_backtrack
	Hop                 int  // H, samples
	Frame               int  // F, samples
	SampleRate          int  // R
	CompensationEnabled bool
	Online              bool // false selects the offline MIREX timestamp formula
}

// Backend consumes OLTW's alignment stream and writes protocol output to
// a Sink.
type Backend struct {
	cfg   Config
	notes *NoteIndex
	sink  Sink

	prevS   int
	emitted map[float64]bool
}

// New constructs a Backend. notes may be nil in timestamp mode.
func New(cfg Config, notes *NoteIndex, sink Sink) *Backend {
	return &Backend{
		cfg:     cfg,
		notes:   notes,
		sink:    sink,
		prevS:   -1,
		emitted: make(map[float64]bool),
	}
}

// Run drains in until end-of-stream or ctx cancellation. In alignment
// mode, it first waits for a single value on start (the performance's
// wall-clock start time) before processing any alignment message.
func (b *Backend) Run(ctx context.Context, in <-chan stream.AlignMsg, start <-chan time.Time) error {
	var perfStart time.Time
	if b.cfg.Mode == ModeAlignment {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-start:
			if !ok {
				return fmt.Errorf("backend: performance-start channel closed before a value arrived")
			}
			perfStart = t
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok || msg.End {
				return nil
			}
			if !b.accept(msg.ScoreIdx) {
				continue
			}
			switch b.cfg.Mode {
			case ModeTimestamp:
				b.emitTimestamp(msg.ScoreIdx)
			case ModeAlignment:
				b.emitAlignment(msg.PerfIdx, msg.ScoreIdx, perfStart)
			}
		}
	}
}

// accept implements the monotone-or-backtrack filter and updates prevS
// on acceptance: with backtrack, any s different from the last emitted
// one passes; without it, s must strictly increase.
func (b *Backend) accept(s int) bool {
	proceed := false
	if b.cfg.Backtrack {
		proceed = s != b.prevS
	} else {
		proceed = s > b.prevS
	}
	if proceed {
		b.prevS = s
	}
	return proceed
}

// scoreTimestampSeconds converts a score frame index to seconds. With
// compensation enabled the formula is (F + (s-1)*H) / R — at s=0 this
// yields (F-H)/R, the frame's look-ahead region rather than its start,
// because the extractor's first output covers a full frame of length F,
// not a hop of H.
func (b *Backend) scoreTimestampSeconds(s int) float64 {
	if b.cfg.CompensationEnabled {
		return (float64(b.cfg.Frame) + float64(s-1)*float64(b.cfg.Hop)) / float64(b.cfg.SampleRate)
	}
	return float64(b.cfg.Hop*s) / float64(b.cfg.SampleRate)
}

func (b *Backend) emitTimestamp(s int) {
	ts := b.scoreTimestampSeconds(s)
	writeLineLogged(b.sink, strconv.FormatFloat(ts, 'f', -1, 64))
}

func (b *Backend) emitAlignment(p, s int, perfStart time.Time) {
	tPMs := float64(b.cfg.Hop) * float64(p) / float64(b.cfg.SampleRate) * 1000
	tSMs := float64(b.cfg.Hop) * float64(s) / float64(b.cfg.SampleRate) * 1000

	onset, group, ok := b.notes.Predecessor(tSMs)
	if !ok {
		return
	}
	if b.emitted[onset] {
		return
	}
	b.emitted[onset] = true

	var detMs float64
	if b.cfg.Online {
		detMs = time.Since(perfStart).Seconds() * 1000
	} else {
		detMs = tPMs
	}

	for _, note := range group {
		line := fmt.Sprintf("%d %d %d %d",
			int64(math.Round(tPMs)),
			int64(math.Round(detMs)),
			int64(math.Round(note.NoteStartMs)),
			note.MidiNoteNum,
		)
		writeLineLogged(b.sink, line)
	}
}
