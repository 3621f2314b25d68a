// Package feature converts audio frames into chromatic-semitone spectral
// feature vectors using a constant-Q transform: a sliced transform by
// default, or one of the pseudo, hybrid and full variants.
package feature

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FeatureVector is one time step's spectral content: a length-NBins,
// L1-normalised vector. Immutable once produced.
type FeatureVector []float64

// L1Norm returns the sum of absolute values of v.
func (v FeatureVector) L1Norm() float64 {
	return floats.Norm(v, 1)
}

// L1Distance returns d(a,b) = sum(|a_k - b_k|), the cost function the
// OLTW follower uses between a performance and a score feature vector.
func L1Distance(a, b FeatureVector) float64 {
	return floats.Distance(a, b, 1)
}

// normalizeL1 scales v in place to unit L1 norm, clipping NaNs to zero
// first. A vector that is all-zero after that clipping is left at zero.
func normalizeL1(v []float64) {
	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = 0
		}
	}
	norm := floats.Norm(v, 1)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, v)
}

// hzToMidi converts a frequency in Hz to a (possibly fractional) MIDI
// note number using the standard 12-TET formula: A4 (440 Hz) is note 69.
func hzToMidi(hz float64) float64 {
	return 69 + 12*math.Log2(hz/440)
}

// midiToHz is the inverse of hzToMidi.
func midiToHz(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// quantizeHz rounds hz to the frequency of its nearest equal-temperament
// MIDI note: midiToHz(round(hzToMidi(hz))).
func quantizeHz(hz float64) float64 {
	return midiToHz(math.Round(hzToMidi(hz)))
}

// NBins computes N_BINS = round(hz_to_midi(fmax)) - round(hz_to_midi(fmin))
// from already-quantised fmin/fmax.
func NBins(fminQ, fmaxQ float64) int {
	n := int(math.Round(hzToMidi(fmaxQ)) - math.Round(hzToMidi(fminQ)))
	if n < 1 {
		n = 1
	}
	return n
}
