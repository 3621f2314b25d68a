package feature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Variant selects the constant-Q algorithm backing an Extractor. The
// variants compute genuinely different transforms; only the abs-value +
// L1-normalisation post-processing is common to all of them.
type Variant int

const (
	// Nsgt is a sliced constant-Q transform: per-slice analysis over a
	// pair of 50%-overlapped slicing windows at a fine internal time
	// hop, averaged down to one spectrum per transition length.
	Nsgt Variant = iota
	// LibrosaPseudo projects a single FFT magnitude spectrum through a
	// constant-Q filterbank.
	LibrosaPseudo
	// LibrosaHybrid keeps time-domain kernels for the long
	// low-frequency filters and uses the FFT projection for the short
	// high-frequency ones.
	LibrosaHybrid
	// LibrosaFull correlates a time-domain constant-Q kernel at every
	// bin.
	LibrosaFull
)

func (v Variant) String() string {
	switch v {
	case Nsgt:
		return "nsgt"
	case LibrosaPseudo:
		return "librosa_pseudo"
	case LibrosaHybrid:
		return "librosa_hybrid"
	case LibrosaFull:
		return "librosa"
	default:
		return "unknown"
	}
}

// ParseVariant maps a config-file variant name to a Variant, defaulting
// to Nsgt for an unrecognised or empty name.
func ParseVariant(name string) Variant {
	switch name {
	case "librosa_pseudo":
		return LibrosaPseudo
	case "librosa_hybrid":
		return LibrosaHybrid
	case "librosa", "librosa_full":
		return LibrosaFull
	default:
		return Nsgt
	}
}

// qFactor is the constant-Q quality factor for 12 bins per octave:
// 1 / (2^(1/12) - 1), so each bin's bandwidth stays one semitone wide.
var qFactor = 1 / (math.Pow(2, 1.0/12) - 1)

// Params configures an Extractor.
type Params struct {
	Fmin       float64
	Fmax       float64
	Hop        int // H, samples
	Frame      int // F, samples; F >= Hop
	SampleRate int
	Variant    Variant
}

// Extractor is a stateful constant-Q engine initialised once and fed
// successive audio frames, producing one FeatureVector per frame.
type Extractor struct {
	params Params
	fminQ  float64
	fmaxQ  float64
	nBins  int
	engine cqtEngine
}

// cqtEngine produces one raw magnitude spectrum per analysis frame.
// Engines are built once and reused for every frame of a run.
type cqtEngine interface {
	process(frame []float64) []float64
}

// NewExtractor validates params and builds the variant's engine once.
func NewExtractor(p Params) (*Extractor, error) {
	if p.Frame < p.Hop {
		return nil, fmt.Errorf("feature: frame length %d must be >= hop length %d", p.Frame, p.Hop)
	}
	if p.Hop <= 0 {
		return nil, fmt.Errorf("feature: hop length must be positive, got %d", p.Hop)
	}
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("feature: sample rate must be positive, got %d", p.SampleRate)
	}
	if p.Fmin <= 0 || p.Fmax <= p.Fmin {
		return nil, fmt.Errorf("feature: invalid frequency bounds fmin=%v fmax=%v", p.Fmin, p.Fmax)
	}

	fminQ := quantizeHz(p.Fmin)
	fmaxQ := quantizeHz(p.Fmax)
	nBins := NBins(fminQ, fmaxQ)

	binCenters := make([]float64, nBins)
	startNote := math.Round(hzToMidi(fminQ))
	for k := range binCenters {
		binCenters[k] = midiToHz(startNote + float64(k))
	}

	var engine cqtEngine
	switch p.Variant {
	case LibrosaPseudo:
		engine = newPseudoCQ(binCenters, p.Frame, p.SampleRate)
	case LibrosaHybrid:
		engine = newHybridCQ(binCenters, p.Frame, p.Hop, p.SampleRate)
	case LibrosaFull:
		engine = newDirectCQ(binCenters, p.Frame, p.SampleRate)
	default:
		engine = newSliCQ(binCenters, p.Frame, p.Hop, p.SampleRate)
	}

	return &Extractor{
		params: p,
		fminQ:  fminQ,
		fmaxQ:  fmaxQ,
		nBins:  nBins,
		engine: engine,
	}, nil
}

// NBins returns the number of semitone bins this extractor produces.
func (e *Extractor) NBins() int { return e.nBins }

// Fmin and Fmax return the quantised frequency bounds actually in use.
func (e *Extractor) Fmin() float64 { return e.fminQ }
func (e *Extractor) Fmax() float64 { return e.fmaxQ }

// ExtractOnline converts one audio frame of length F into one
// L1-normalised FeatureVector. Malformed (wrong-length) frames are
// zero-padded or truncated to F, matching the Slicer's tail padding.
func (e *Extractor) ExtractOnline(frame []float64) FeatureVector {
	buf := frame
	if len(buf) != e.params.Frame {
		padded := make([]float64, e.params.Frame)
		copy(padded, buf)
		buf = padded
	}
	out := e.engine.process(buf)
	normalizeL1(out)
	return FeatureVector(out)
}

// ExtractOffline runs the online path over successive hops of a whole
// waveform, producing the score feature sequence S. Equivalent to calling
// ExtractOnline on the same frames the Slicer would emit.
func (e *Extractor) ExtractOffline(waveform []float64) []FeatureVector {
	hop := e.params.Hop
	frame := e.params.Frame

	var out []FeatureVector
	for start := 0; start < len(waveform); start += hop {
		end := start + frame
		var buf []float64
		if end <= len(waveform) {
			buf = waveform[start:end]
		} else {
			buf = make([]float64, frame)
			copy(buf, waveform[start:])
		}
		out = append(out, e.ExtractOnline(buf))
	}
	return out
}

// cqKernel is a Hann-tapered complex exponential whose length tracks the
// bin's constant-Q bandwidth, capped at the analysis frame.
func cqKernel(centerHz float64, sampleRate, maxLen int) []complex128 {
	length := int(math.Ceil(qFactor * float64(sampleRate) / centerHz))
	if length > maxLen {
		length = maxLen
	}
	if length < 2 {
		length = 2
	}
	kernel := make([]complex128, length)
	norm := 1 / float64(length)
	for n := range kernel {
		taper := hann(n, length) * norm
		phase := -2 * math.Pi * centerHz * float64(n) / float64(sampleRate)
		kernel[n] = complex(taper*math.Cos(phase), taper*math.Sin(phase))
	}
	return kernel
}

func hann(n, length int) float64 {
	if length < 2 {
		return 1
	}
	return 0.5 * (1 - math.Cos(2*math.Pi*float64(n)/float64(length-1)))
}

// correlate returns the magnitude of the inner product of x[off:] with
// kernel, stopping at whichever ends first.
func correlate(x []float64, off int, kernel []complex128) float64 {
	var re, im float64
	for n, w := range kernel {
		idx := off + n
		if idx >= len(x) {
			break
		}
		re += x[idx] * real(w)
		im += x[idx] * imag(w)
	}
	return math.Hypot(re, im)
}

// sliCQ is the sliced constant-Q engine. It is initialised once with the
// quantised frequency bounds, 12 bins per octave, slice length F,
// transition length H, and the sample rate, and operates on real input
// in matrix form (every bin gets the same, dense time steps).
type sliCQ struct {
	kernels  [][]complex128
	auxWin   [2][]float64
	coefHop  int // internal coefficient hop within a slice
	nSteps   int // time steps covering one slice
	hopSteps int // leading steps covering one transition length
	nBins    int
}

func newSliCQ(binCenters []float64, frame, hop, sampleRate int) *sliCQ {
	coefHop := hop / 4
	if coefHop < 1 {
		coefHop = 1
	}
	nSteps := frame / coefHop
	if nSteps < 1 {
		nSteps = 1
	}
	hopSteps := hop / coefHop
	if hopSteps < 1 {
		hopSteps = 1
	}
	if hopSteps > nSteps {
		hopSteps = nSteps
	}

	kernels := make([][]complex128, len(binCenters))
	for k, hz := range binCenters {
		kernels[k] = cqKernel(hz, sampleRate, frame)
	}

	// The overlap-add slicing window pair: a Hann window and its
	// half-slice rotation. Analysing the slice under both and averaging
	// is what flattens the window's amplitude ripple across the slice.
	var aux [2][]float64
	for a := range aux {
		aux[a] = make([]float64, frame)
	}
	half := frame / 2
	for n := 0; n < frame; n++ {
		w := hann(n, frame)
		aux[0][n] = w
		aux[1][(n+half)%frame] = w
	}

	return &sliCQ{
		kernels:  kernels,
		auxWin:   aux,
		coefHop:  coefHop,
		nSteps:   nSteps,
		hopSteps: hopSteps,
		nBins:    len(binCenters),
	}
}

// process forward-transforms one slice: coefficient magnitudes per
// (slicing window, time step, bin) are averaged over the window axis
// into a time-major matrix, then the leading time steps covering one
// transition length are averaged into this hop's spectrum.
func (c *sliCQ) process(frame []float64) []float64 {
	windowed := make([]float64, len(frame))
	timeMajor := make([]float64, c.nSteps*c.nBins)
	for _, win := range c.auxWin {
		for n := range frame {
			windowed[n] = frame[n] * win[n]
		}
		for step := 0; step < c.nSteps; step++ {
			off := step * c.coefHop
			row := timeMajor[step*c.nBins : (step+1)*c.nBins]
			for k, kernel := range c.kernels {
				row[k] += correlate(windowed, off, kernel) / 2
			}
		}
	}

	out := make([]float64, c.nBins)
	for step := 0; step < c.hopSteps; step++ {
		row := timeMajor[step*c.nBins : (step+1)*c.nBins]
		for k := range out {
			out[k] += row[k]
		}
	}
	for k := range out {
		out[k] /= float64(c.hopSteps)
	}
	return out
}

// pseudoCQ computes one FFT per frame and projects its magnitude
// spectrum through a triangular constant-Q filterbank.
type pseudoCQ struct {
	fft     *fourier.FFT
	window  []float64
	filters []filterBand
	frame   int
}

// filterBand is one bin's slice of FFT-bin weights, normalised to unit
// sum, starting at FFT bin lo.
type filterBand struct {
	lo      int
	weights []float64
}

func newPseudoCQ(binCenters []float64, frame, sampleRate int) *pseudoCQ {
	window := make([]float64, frame)
	for n := range window {
		window[n] = hann(n, frame)
	}

	binHz := float64(sampleRate) / float64(frame)
	nyquist := frame / 2
	filters := make([]filterBand, len(binCenters))
	for k, hz := range binCenters {
		// One constant-Q bandwidth either side, widened to the FFT
		// resolution so every filter covers at least one FFT bin.
		halfWidth := hz / qFactor
		if halfWidth < binHz {
			halfWidth = binHz
		}
		lo := int(math.Ceil((hz - halfWidth) / binHz))
		hi := int(math.Floor((hz + halfWidth) / binHz))
		if lo < 1 {
			lo = 1
		}
		if hi > nyquist {
			hi = nyquist
		}
		if hi < lo {
			nearest := int(math.Round(hz / binHz))
			if nearest < 1 {
				nearest = 1
			}
			if nearest > nyquist {
				nearest = nyquist
			}
			lo, hi = nearest, nearest
		}

		weights := make([]float64, hi-lo+1)
		var sum float64
		for b := lo; b <= hi; b++ {
			w := 1 - math.Abs(float64(b)*binHz-hz)/halfWidth
			if w < 0 {
				w = 0
			}
			weights[b-lo] = w
			sum += w
		}
		if sum > 0 {
			for i := range weights {
				weights[i] /= sum
			}
		}
		filters[k] = filterBand{lo: lo, weights: weights}
	}

	return &pseudoCQ{
		fft:     fourier.NewFFT(frame),
		window:  window,
		filters: filters,
		frame:   frame,
	}
}

func (c *pseudoCQ) process(frame []float64) []float64 {
	windowed := make([]float64, c.frame)
	for n := range windowed {
		windowed[n] = frame[n] * c.window[n]
	}
	coeffs := c.fft.Coefficients(nil, windowed)
	mags := make([]float64, len(coeffs))
	for b, co := range coeffs {
		mags[b] = math.Hypot(real(co), imag(co))
	}

	out := make([]float64, len(c.filters))
	for k, band := range c.filters {
		var v float64
		for i, w := range band.weights {
			v += w * mags[band.lo+i]
		}
		out[k] = v
	}
	return out
}

// directCQ correlates a time-domain constant-Q kernel per bin against
// the start of the frame.
type directCQ struct {
	kernels [][]complex128
}

func newDirectCQ(binCenters []float64, frame, sampleRate int) *directCQ {
	kernels := make([][]complex128, len(binCenters))
	for k, hz := range binCenters {
		kernels[k] = cqKernel(hz, sampleRate, frame)
	}
	return &directCQ{kernels: kernels}
}

func (c *directCQ) process(frame []float64) []float64 {
	out := make([]float64, len(c.kernels))
	for k, kernel := range c.kernels {
		out[k] = correlate(frame, 0, kernel)
	}
	return out
}

// hybridCQ splits the bin range: bins whose constant-Q kernel outlasts
// two hops keep the time-domain correlation, the shorter high-frequency
// bins go through the FFT projection.
type hybridCQ struct {
	low   *directCQ
	high  *pseudoCQ
	split int
}

func newHybridCQ(binCenters []float64, frame, hop, sampleRate int) *hybridCQ {
	split := 0
	for split < len(binCenters) {
		length := int(math.Ceil(qFactor * float64(sampleRate) / binCenters[split]))
		if length <= 2*hop {
			break
		}
		split++
	}
	return &hybridCQ{
		low:   newDirectCQ(binCenters[:split], frame, sampleRate),
		high:  newPseudoCQ(binCenters[split:], frame, sampleRate),
		split: split,
	}
}

func (c *hybridCQ) process(frame []float64) []float64 {
	out := make([]float64, c.split+len(c.high.filters))
	copy(out, c.low.process(frame))
	copy(out[c.split:], c.high.process(frame))
	return out
}
