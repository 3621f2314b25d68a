package score

import (
	"fmt"
	"os"
	"sort"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"gitlab.com/gomidi/midi/v2/smf"
)

// SynthDriver renders a score MIDI file to a mono waveform at a fixed
// sample rate.
type SynthDriver interface {
	Synthesize(midiPath string) ([]float64, error)
}

// MeltySynthDriver renders via a loaded SoundFont and meltysynth's
// software synthesizer.
type MeltySynthDriver struct {
	soundFont  *meltysynth.SoundFont
	sampleRate int
}

// NewMeltySynthDriver loads a SoundFont (.sf2) file for later renders.
func NewMeltySynthDriver(soundFontPath string, sampleRate int) (*MeltySynthDriver, error) {
	f, err := os.Open(soundFontPath)
	if err != nil {
		return nil, fmt.Errorf("score: open soundfont %s: %w", soundFontPath, err)
	}
	defer f.Close()

	sf, err := meltysynth.NewSoundFont(f)
	if err != nil {
		return nil, fmt.Errorf("score: parse soundfont %s: %w", soundFontPath, err)
	}
	return &MeltySynthDriver{soundFont: sf, sampleRate: sampleRate}, nil
}

const synthTailSeconds = 2.0

type timedMessage struct {
	sampleIdx int
	message   smf.Message
}

// Synthesize renders midiPath's note-on/off and control messages through
// the loaded SoundFont and returns the resulting mono PCM waveform,
// sample values in [-1, 1].
func (d *MeltySynthDriver) Synthesize(midiPath string) ([]float64, error) {
	s, err := smf.ReadFile(midiPath)
	if err != nil {
		return nil, fmt.Errorf("score: read midi file %s: %w", midiPath, err)
	}
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

	timeline := buildTimeline(s.Tracks, uint16(ppq), microsPerBeat, d.sampleRate)

	settings := meltysynth.NewSynthesizerSettings(int32(d.sampleRate))
	synth, err := meltysynth.NewSynthesizer(d.soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("score: create synthesizer: %w", err)
	}

	totalSamples := 0
	if len(timeline) > 0 {
		totalSamples = timeline[len(timeline)-1].sampleIdx
	}
	totalSamples += int(float64(d.sampleRate) * synthTailSeconds)

	left := make([]float32, totalSamples)
	right := make([]float32, totalSamples)

	rendered := 0
	for _, tm := range timeline {
		if tm.sampleIdx > rendered {
			renderChunk(synth, left[rendered:tm.sampleIdx], right[rendered:tm.sampleIdx])
			rendered = tm.sampleIdx
		}
		ch, cmd, d1, d2 := midiBytes(tm.message)
		synth.ProcessMidiMessage(int32(ch), int32(cmd), int32(d1), int32(d2))
	}
	if rendered < totalSamples {
		renderChunk(synth, left[rendered:], right[rendered:])
	}

	mono := make([]float64, totalSamples)
	for i := range mono {
		mono[i] = (float64(left[i]) + float64(right[i])) / 2
	}
	return mono, nil
}

// renderChunk fills dst in manageable blocks; meltysynth's Render expects
// equal-length left/right buffers.
func renderChunk(synth *meltysynth.Synthesizer, left, right []float32) {
	const blockSize = 64
	for off := 0; off < len(left); off += blockSize {
		end := off + blockSize
		if end > len(left) {
			end = len(left)
		}
		synth.Render(left[off:end], right[off:end])
	}
}

// buildTimeline merges every track's playable messages into one
// ascending-sample-index timeline, skipping meta/system messages (they
// don't produce sound).
func buildTimeline(tracks []smf.Track, ppq uint16, microsPerBeat float64, sampleRate int) []timedMessage {
	var out []timedMessage
	for _, track := range tracks {
		tick := int64(0)
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			if msg.IsMeta() || !msg.IsPlayable() {
				continue
			}
			ms := ticksToMs(tick, ppq, microsPerBeat)
			out = append(out, timedMessage{
				sampleIdx: int(ms / 1000 * float64(sampleRate)),
				message:   msg,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sampleIdx < out[j].sampleIdx })
	return out
}

// midiBytes extracts (channel, command, data1, data2) from a raw SMF
// message, the same decomposition a gomidi-to-synth bridge performs.
func midiBytes(msg smf.Message) (channel, command, data1, data2 byte) {
	raw := msg.Bytes()
	if len(raw) == 0 {
		return 0, 0, 0, 0
	}
	status := raw[0]
	if status >= 0x80 && status < 0xF0 {
		channel = status & 0x0F
		command = status & 0xF0
	} else {
		command = status
	}
	if len(raw) > 1 {
		data1 = raw[1]
	}
	if len(raw) > 2 {
		data2 = raw[2]
	}
	return channel, command, data1, data2
}
