// Package pipeline wires the four score-following stages — Slicer,
// FeatureExtractor, OLTW, Backend — together with bounded channels and
// runs them as concurrent goroutines, joining on completion and
// propagating the first non-nil error.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/flippy-go/flippy/internal/backend"
	"github.com/flippy-go/flippy/internal/feature"
	"github.com/flippy-go/flippy/internal/oltw"
	"github.com/flippy-go/flippy/internal/slicer"
	"github.com/flippy-go/flippy/internal/stream"
	"github.com/flippy-go/flippy/internal/waveform"
)

// channelCapacity bounds each inter-stage channel. A small buffer is
// enough to decouple producer/consumer scheduling without unbounded
// memory growth.
const channelCapacity = 4

// Config bundles every stage's configuration.
type Config struct {
	Slicer  slicer.Config
	Feature feature.Params
	OLTW    oltw.Config
	Backend backend.Config
}

// Pipeline owns the constructed stage objects for one run.
type Pipeline struct {
	cfg       Config
	extractor *feature.Extractor
	follower  *oltw.Follower
	backend   *backend.Backend
	source    *waveform.Source
}

// New constructs a Pipeline. scoreFeatures is S, built offline before the
// performance starts; notes is nil when cfg.Backend.Mode is
// ModeTimestamp.
func New(cfg Config, source *waveform.Source, scoreFeatures []feature.FeatureVector, notes *backend.NoteIndex, sink backend.Sink) (*Pipeline, error) {
	extractor, err := feature.NewExtractor(cfg.Feature)
	if err != nil {
		return nil, err
	}
	follower, err := oltw.NewFollower(cfg.OLTW, scoreFeatures)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		follower:  follower,
		backend:   backend.New(cfg.Backend, notes, sink),
		source:    source,
	}, nil
}

// Run starts all four stages and blocks until the pipeline drains or ctx
// is cancelled. perfStart is the wall-clock instant the Slicer is about
// to start, delivered once to the Backend over a one-shot channel.
func (p *Pipeline) Run(ctx context.Context, perfStart time.Time) error {
	audioCh := make(chan stream.AudioFrame, channelCapacity)
	featureCh := make(chan stream.FeatureMsg, channelCapacity)
	alignCh := make(chan stream.AlignMsg, channelCapacity)
	startCh := make(chan time.Time, 1)
	startCh <- perfStart

	sl := slicer.New(p.cfg.Slicer, p.source)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(4)
	go func() { defer wg.Done(); errCh <- sl.Run(ctx, audioCh) }()
	go func() { defer wg.Done(); errCh <- runFeatureStage(ctx, p.extractor, audioCh, featureCh) }()
	go func() { defer wg.Done(); errCh <- p.follower.Run(ctx, featureCh, alignCh) }()
	go func() { defer wg.Done(); errCh <- p.backend.Run(ctx, alignCh, startCh) }()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runFeatureStage bridges the Slicer's audio frames to the OLTW
// follower's feature stream, forwarding the end-of-stream sentinel
// downstream before exiting.
func runFeatureStage(ctx context.Context, extractor *feature.Extractor, in <-chan stream.AudioFrame, out chan<- stream.FeatureMsg) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok || frame.End {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- stream.EndFeatureMsg():
					return nil
				}
			}
			vec := extractor.ExtractOnline(frame.Samples)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- stream.FeatureMsg{Vec: vec}:
			}
		}
	}
}
