package score

import (
	"fmt"

	"github.com/flippy-go/flippy/internal/backend"
	"github.com/flippy-go/flippy/internal/feature"
)

// Score bundles everything the pipeline needs from the symbolic score
// before the performance starts: the feature sequence S and the sorted
// note index the Backend's alignment mode queries.
type Score struct {
	Features []feature.FeatureVector
	Notes    *backend.NoteIndex
}

// Build synthesises midiPath via driver, runs the offline feature path
// over the result, and parses the MIDI file's note onsets, producing
// everything the pipeline needs from the score side.
func Build(midiPath string, driver SynthDriver, extractor *feature.Extractor) (*Score, error) {
	waveform, err := driver.Synthesize(midiPath)
	if err != nil {
		return nil, fmt.Errorf("score: synthesize %s: %w", midiPath, err)
	}
	if len(waveform) == 0 {
		return nil, fmt.Errorf("score: synthesised waveform for %s is empty", midiPath)
	}

	features := extractor.ExtractOffline(waveform)
	if len(features) == 0 {
		return nil, fmt.Errorf("score: no feature frames extracted from %s", midiPath)
	}

	notes, err := ParseNoteInfo(midiPath)
	if err != nil {
		return nil, err
	}

	return &Score{
		Features: features,
		Notes:    backend.NewNoteIndex(notes),
	}, nil
}
