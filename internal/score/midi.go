// Package score builds the data OLTW needs from a symbolic score: the
// ordered NoteInfo list (for the Backend's alignment mode) and the score
// feature sequence S (via an external MIDI synthesiser and the offline
// feature-extraction path).
package score

import (
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/flippy-go/flippy/internal/backend"
)

// ParseNoteInfo walks every track of a standard MIDI file, finds the
// tempo meta event in the first track, converts each positive-velocity
// note-on to a (pitch, onset_ms) pair via the file's time base, and
// returns the flattened list stably sorted by onset time ascending.
func ParseNoteInfo(path string) ([]backend.NoteInfo, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("score: read midi file %s: %w", path, err)
	}
	return parseSMF(s)
}

func parseSMF(s *smf.SMF) ([]backend.NoteInfo, error) {
	ppq, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("score: midi file does not use metric (PPQ) time format")
	}
	if len(s.Tracks) == 0 {
		return nil, fmt.Errorf("score: midi file has no tracks")
	}

	microsPerBeat, err := firstTempo(s.Tracks[0])
	if err != nil {
		return nil, err
	}

	var notes []backend.NoteInfo
	for _, track := range s.Tracks {
		notes = append(notes, notesInTrack(track, uint16(ppq), microsPerBeat)...)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].NoteStartMs < notes[j].NoteStartMs
	})
	return notes, nil
}

// firstTempo returns the microseconds-per-quarter-note of the first tempo
// meta event found in track. Defaults are not used: a score with no
// tempo event is malformed.
func firstTempo(track smf.Track) (float64, error) {
	for _, ev := range track {
		var bpm float64
		if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
			return 60000000 / bpm, nil
		}
	}
	return 0, fmt.Errorf("score: cannot find tempo meta event in first track")
}

// notesInTrack accumulates delta ticks independently per track (each
// track's clock starts at 0) and converts every positive-velocity note-on
// to a NoteInfo.
func notesInTrack(track smf.Track, ppq uint16, microsPerBeat float64) []backend.NoteInfo {
	var out []backend.NoteInfo
	tick := int64(0)
	for _, ev := range track {
		tick += int64(ev.Delta)

		var channel, key, velocity uint8
		if ev.Message.GetNoteOn(&channel, &key, &velocity) && velocity > 0 {
			out = append(out, backend.NoteInfo{
				MidiNoteNum: int(key),
				NoteStartMs: ticksToMs(tick, ppq, microsPerBeat),
			})
		}
	}
	return out
}

// ticksToMs mirrors mido.tick2second(ticks, ppq, tempo_us) * 1000.
func ticksToMs(ticks int64, ppq uint16, microsPerBeat float64) float64 {
	return float64(ticks) * microsPerBeat / (float64(ppq) * 1000)
}
