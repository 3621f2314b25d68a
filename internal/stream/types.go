// Package stream defines the wire types carried over the bounded
// channels that connect the four pipeline stages (Slicer, FeatureExtractor,
// OLTW, Backend). Every message type carries an explicit End flag rather
// than relying on channel close, per the end-of-stream sentinel model.
package stream

import "github.com/flippy-go/flippy/internal/feature"

// AudioFrame is one fixed-length audio frame emitted by the Slicer.
type AudioFrame struct {
	Samples []float64
	End     bool
}

// FeatureMsg is one FeatureVector emitted by the FeatureExtractor.
type FeatureMsg struct {
	Vec feature.FeatureVector
	End bool
}

// AlignMsg is one (p_idx, s_idx) alignment estimate emitted by OLTW.
type AlignMsg struct {
	PerfIdx  int
	ScoreIdx int
	End      bool
}

// EndAudioFrame returns the end-of-stream sentinel for audio frames.
func EndAudioFrame() AudioFrame { return AudioFrame{End: true} }

// EndFeatureMsg returns the end-of-stream sentinel for feature vectors.
func EndFeatureMsg() FeatureMsg { return FeatureMsg{End: true} }

// EndAlignMsg returns the end-of-stream sentinel for alignment estimates.
func EndAlignMsg() AlignMsg { return AlignMsg{End: true} }
