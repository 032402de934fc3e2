// SPDX-License-Identifier: MIT

/*
Package dsp computes forward FFTs and one-sided power spectra for buffered
analysis windows, amortizing transform setup across repeated calls of the
same length through a bounded plan cache.

The Processor is owned by the analysis goroutine exclusively and is not
synchronized; the plan cache must stay thread-confined (or be wrapped by the
caller if a future design shares it).
*/
package dsp

import (
	"container/list"
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"wavecore/internal/errs"
	applog "wavecore/internal/log"
)

// WindowFunc selects the taper applied by PowerSpectrum. Rectangular (no
// taper) is the default; it is the only choice under which the Parseval
// normalization is exact rather than statistical.
type WindowFunc int

const (
	Rectangular WindowFunc = iota
	BartlettHann
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case Rectangular:
		return "rectangular"
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	default:
		return "unknown"
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "", "rectangular", "none":
		return Rectangular, nil
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Rectangular, errs.Configf("unknown FFT window function name %q", name)
	}
}

// windowCoefficients returns the taper coefficients for length n, or nil for
// Rectangular.
func windowCoefficients(w WindowFunc, n int) []float64 {
	if w == Rectangular {
		return nil
	}
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("dsp: unknown window function %d, using Hann", int(w))
		window.Hann(coeffs)
	}
	return coeffs
}

// DefaultMaxPlans bounds the number of distinct transform lengths cached at
// once. Callers that vary the window length dynamically evict in LRU order
// instead of growing without bound.
const DefaultMaxPlans = 8

// CacheInfo is an observability snapshot of the plan cache.
type CacheInfo struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// plan holds the per-length state: the transform object (twiddle factors)
// and pre-allocated work buffers, plus the taper coefficients for this
// length and their mean-square power for normalization.
type plan struct {
	n        int
	fft      *fourier.FFT
	input    []float64
	coeffs   []complex128
	taper    []float64 // nil for Rectangular
	taperPow float64   // mean of taper², 1.0 for Rectangular
}

// Processor computes forward FFTs and power spectra with cached plans.
// Non-power-of-2 lengths are supported natively: gonum's fourier.FFT is a
// mixed-radix implementation, so inputs are never zero-padded.
type Processor struct {
	windowFn WindowFunc
	maxPlans int

	plans map[int]*list.Element
	lru   *list.List // front = most recently used, values are *plan

	hits   uint64
	misses uint64
}

// NewProcessor creates a Processor using the given taper for power spectra.
// maxPlans <= 0 selects DefaultMaxPlans.
func NewProcessor(windowFn WindowFunc, maxPlans int) *Processor {
	if maxPlans <= 0 {
		maxPlans = DefaultMaxPlans
	}
	return &Processor{
		windowFn: windowFn,
		maxPlans: maxPlans,
		plans:    make(map[int]*list.Element),
		lru:      list.New(),
	}
}

// Window returns the configured taper.
func (p *Processor) Window() WindowFunc { return p.windowFn }

// CacheInfo returns plan cache statistics.
func (p *Processor) CacheInfo() CacheInfo {
	return CacheInfo{
		Entries: p.lru.Len(),
		Hits:    p.hits,
		Misses:  p.misses,
	}
}

// getPlan returns the cached plan for length n, creating (and evicting LRU)
// as needed.
func (p *Processor) getPlan(n int) *plan {
	if el, ok := p.plans[n]; ok {
		p.hits++
		p.lru.MoveToFront(el)
		return el.Value.(*plan)
	}
	p.misses++

	taper := windowCoefficients(p.windowFn, n)
	taperPow := 1.0
	if taper != nil {
		sum := 0.0
		for _, w := range taper {
			sum += w * w
		}
		taperPow = sum / float64(n)
	}

	pl := &plan{
		n:        n,
		fft:      fourier.NewFFT(n),
		input:    make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		taper:    taper,
		taperPow: taperPow,
	}
	p.plans[n] = p.lru.PushFront(pl)

	if p.lru.Len() > p.maxPlans {
		oldest := p.lru.Back()
		evicted := oldest.Value.(*plan)
		p.lru.Remove(oldest)
		delete(p.plans, evicted.n)
		applog.Debugf("dsp: evicted FFT plan for length %d", evicted.n)
	}
	return pl
}

// validate rejects inputs with no meaningful spectrum. Non-finite samples
// are not sanitized; they surface as errors so upstream bugs are visible
// instead of producing misleading spectra.
func validate(signal []float64) error {
	if len(signal) < 2 {
		return errs.Invalidf("signal length %d has no meaningful spectrum", len(signal))
	}
	for i, v := range signal {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Invalidf("non-finite sample at index %d", i)
		}
	}
	return nil
}

// Transform computes the forward FFT of signal and returns the one-sided
// coefficients (length len(signal)/2+1). No taper is applied; Transform
// feeds the directional analysis, which needs raw Fourier coefficients.
// The returned slice is freshly allocated and owned by the caller.
func (p *Processor) Transform(signal []float64) ([]complex128, error) {
	if err := validate(signal); err != nil {
		return nil, err
	}
	pl := p.getPlan(len(signal))
	copy(pl.input, signal)
	pl.fft.Coefficients(pl.coeffs, pl.input)

	out := make([]complex128, len(pl.coeffs))
	copy(out, pl.coeffs)
	return out, nil
}

// PowerSpectrum computes the one-sided power spectrum of signal sampled at
// sampleRate. The spectrum is scaled by 1/N with interior bins doubled, so
// the sum over all bins equals Σ signal[i]² (Parseval). With a non-
// rectangular taper the result is additionally divided by the taper's mean
// square power, which preserves that identity statistically.
//
// Frequencies run from 0 to Nyquist, spaced sampleRate/N. Both returned
// slices are freshly allocated.
func (p *Processor) PowerSpectrum(signal []float64, sampleRate float64) (freqs, power []float64, err error) {
	if sampleRate <= 0 {
		return nil, nil, errs.Invalidf("sample rate must be positive, got %g", sampleRate)
	}
	if err := validate(signal); err != nil {
		return nil, nil, err
	}

	n := len(signal)
	pl := p.getPlan(n)
	if pl.taper != nil {
		for i, v := range signal {
			pl.input[i] = v * pl.taper[i]
		}
	} else {
		copy(pl.input, signal)
	}
	pl.fft.Coefficients(pl.coeffs, pl.input)

	bins := len(pl.coeffs)
	freqs = make([]float64, bins)
	power = make([]float64, bins)
	norm := 1.0 / (float64(n) * pl.taperPow)
	for k, c := range pl.coeffs {
		re, im := real(c), imag(c)
		pw := (re*re + im*im) * norm
		// Interior bins carry the conjugate-symmetric half too. DC never
		// doubles; Nyquist exists (and never doubles) only for even N.
		if k != 0 && !(n%2 == 0 && k == n/2) {
			pw *= 2
		}
		power[k] = pw
		freqs[k] = pl.fft.Freq(k) * sampleRate
	}
	return freqs, power, nil
}
