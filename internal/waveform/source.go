// Package waveform decodes performance audio into a flat mono sample
// slice the Slicer can frame. It keeps the decoder behind a narrow type
// so the rest of the pipeline never touches WAV internals.
package waveform

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Source is a fully decoded mono waveform: a flat slice of samples in
// [-1, 1], plus its native sample rate.
type Source struct {
	Samples    []float64
	SampleRate int
}

// Load reads path as a mono/stereo WAV file and returns a mono waveform.
// An unreadable file or a file with zero samples is a fatal format error.
func Load(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("waveform: %s is not a valid WAV file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("waveform: decode %s: %w", path, err)
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("waveform: %s contains zero samples", path)
	}

	return &Source{
		Samples:    downmix(buf),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// downmix averages the interleaved channels of an integer PCM buffer
// into a single mono channel scaled to [-1, 1].
func downmix(buf *audio.IntBuffer) []float64 {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	maxVal := float64(int(1) << (uint(buf.SourceBitDepth) - 1))
	if buf.SourceBitDepth == 0 {
		maxVal = 32768
	}

	n := len(buf.Data) / channels
	mono := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch])
		}
		mono[i] = (sum / float64(channels)) / maxVal
	}
	return mono
}
