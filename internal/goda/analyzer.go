// SPDX-License-Identifier: MIT

/*
Package goda reconstructs incident and reflected wave spectra from
synchronized surface-elevation time series at spatially separated probes,
using linear wave theory (the Goda separation method, generalized to N >= 3
probes via least squares).

Per frequency bin the analyzer solves the dispersion relation for the
wavenumber, builds the complex transfer matrix relating each probe's Fourier
coefficient to the unknown incident and reflected complex amplitudes, and
solves the overdetermined system by SVD. Bins where the transfer matrix is
near-singular (probe spacing close to a multiple of the half wavelength, a
known failure mode of the method) are flagged rather than solved, as are
bins where the dispersion iteration fails to converge.

Each Analyze call is a pure function of its inputs and the immutable
geometry; the only mutable state is the dispersion and FFT plan caches,
which are confined to the analysis goroutine.
*/
package goda

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"wavecore/internal/dsp"
	"wavecore/internal/errs"
)

// BinFlag qualifies one frequency bin of a Result.
type BinFlag uint8

const (
	// BinValid marks a bin with a trustworthy decomposition.
	BinValid BinFlag = iota
	// BinOutOfBand marks a bin outside the configured frequency range;
	// no decomposition is attempted there.
	BinOutOfBand
	// BinDispersionFailed marks a bin whose dispersion solve did not
	// converge within the iteration cap.
	BinDispersionFailed
	// BinIllConditioned marks a bin whose transfer matrix exceeded the
	// condition-number limit and was not solved.
	BinIllConditioned
)

// Result is the outcome of one spectral analysis. It is a fresh value owned
// exclusively by the caller; nothing in it is shared with the analyzer.
//
// Incident and Reflected hold a²/2 per bin (amplitude-squared variance
// contribution); bins that were not decomposed hold NaN and carry a non-zero
// flag. Power is the probe-averaged one-sided power spectrum over the full
// frequency grid.
type Result struct {
	Frequencies []float64 `json:"frequencies"`
	Power       []float64 `json:"power"`
	Incident    []float64 `json:"incident"`
	Reflected   []float64 `json:"reflected"`

	// ReflectionCoeff is Kr = sqrt(Σ|ar|² / Σ|ai|²) over the valid bins of
	// the analyzed band; 0 when the band carries no incident energy.
	ReflectionCoeff float64 `json:"reflection_coefficient"`

	Flags            []BinFlag `json:"-"`
	InvalidBins      int       `json:"invalid_bins"`
	NonConvergedBins int       `json:"non_converged_bins"`
}

// DefaultConditionLimit is the transfer-matrix condition number above which
// a bin is flagged instead of solved.
const DefaultConditionLimit = 1e3

// Analyzer performs the directional decomposition for one fixed probe
// geometry. Construct with NewAnalyzer; geometry problems fail fast there.
type Analyzer struct {
	geom      Geometry
	proc      *dsp.Processor
	condLimit float64
	dispCache map[float64]dispersionEntry
}

// NewAnalyzer builds an analyzer for the given geometry. proc may be nil,
// in which case a private untapered processor is created; passing the
// orchestrator's processor shares its plan cache (both run on the analysis
// goroutine).
func NewAnalyzer(geom Geometry, proc *dsp.Processor) (*Analyzer, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		proc = dsp.NewProcessor(dsp.Rectangular, 0)
	}
	positions := make([]float64, len(geom.Positions))
	copy(positions, geom.Positions)
	geom.Positions = positions

	return &Analyzer{
		geom:      geom,
		proc:      proc,
		condLimit: DefaultConditionLimit,
		dispCache: make(map[float64]dispersionEntry),
	}, nil
}

// Geometry returns a copy of the analyzer's probe geometry.
func (a *Analyzer) Geometry() Geometry {
	g := a.geom
	g.Positions = make([]float64, len(a.geom.Positions))
	copy(g.Positions, a.geom.Positions)
	return g
}

// SetConditionLimit overrides DefaultConditionLimit. Values <= 1 are ignored.
func (a *Analyzer) SetConditionLimit(limit float64) {
	if limit > 1 {
		a.condLimit = limit
	}
}

// Analyze decomposes one synchronized multi-probe window, shaped
// [probes][samples], into incident and reflected spectra. The probe count
// must match the geometry. Failure of individual bins (ill conditioning,
// dispersion non-convergence) degrades those bins only, never the call.
func (a *Analyzer) Analyze(window [][]float64, sampleRate float64) (*Result, error) {
	nProbes := len(a.geom.Positions)
	if len(window) != nProbes {
		return nil, errs.Invalidf("goda: window has %d probes, geometry has %d", len(window), nProbes)
	}
	n := len(window[0])
	for p, row := range window {
		if len(row) != n {
			return nil, errs.Invalidf("goda: probe %d window length %d, want %d", p, len(row), n)
		}
	}
	if n < 2 {
		return nil, errs.Invalidf("goda: window length %d has no meaningful spectrum", n)
	}
	if sampleRate <= 0 {
		return nil, errs.Invalidf("goda: sample rate must be positive, got %g", sampleRate)
	}

	bins := n/2 + 1
	var freqs []float64
	power := make([]float64, bins)
	coeffs := make([][]complex128, nProbes)
	for p := range window {
		f, pw, err := a.proc.PowerSpectrum(window[p], sampleRate)
		if err != nil {
			return nil, err
		}
		if freqs == nil {
			freqs = f
		}
		for k := range pw {
			power[k] += pw[k]
		}
		c, err := a.proc.Transform(window[p])
		if err != nil {
			return nil, err
		}
		coeffs[p] = c
	}
	for k := range power {
		power[k] /= float64(nProbes)
	}

	res := &Result{
		Frequencies: freqs,
		Power:       power,
		Incident:    make([]float64, bins),
		Reflected:   make([]float64, bins),
		Flags:       make([]BinFlag, bins),
	}

	// Real-valued stacking of the complex least-squares system: unknowns
	// are [Re ai, Re ar, Im ai, Im ar], rows are the real then imaginary
	// parts of each probe equation.
	transfer := mat.NewDense(2*nProbes, 4, nil)
	rhs := make([]float64, 2*nProbes)
	var svd mat.SVD
	var u, v mat.Dense

	var sumIncident, sumReflected float64

	for k := 0; k < bins; k++ {
		f := freqs[k]
		if f < a.geom.FreqMin || f > a.geom.FreqMax {
			res.Flags[k] = BinOutOfBand
			res.Incident[k] = math.NaN()
			res.Reflected[k] = math.NaN()
			continue
		}

		omega := 2 * math.Pi * f
		kappa, ok := a.wavenumber(omega)
		if !ok {
			res.Flags[k] = BinDispersionFailed
			res.Incident[k] = math.NaN()
			res.Reflected[k] = math.NaN()
			res.InvalidBins++
			res.NonConvergedBins++
			continue
		}

		// Probe p sees A_p = ai·e^{-iκx_p} + ar·e^{+iκx_p} with the
		// incident wave traveling toward +x.
		for p := 0; p < nProbes; p++ {
			phase := kappa * a.geom.Positions[p]
			cos, sin := math.Cos(phase), math.Sin(phase)

			transfer.Set(p, 0, cos)
			transfer.Set(p, 1, cos)
			transfer.Set(p, 2, sin)  // -Im(e^{-iκx}) = sin
			transfer.Set(p, 3, -sin) // -Im(e^{+iκx}) = -sin
			transfer.Set(nProbes+p, 0, -sin)
			transfer.Set(nProbes+p, 1, sin)
			transfer.Set(nProbes+p, 2, cos)
			transfer.Set(nProbes+p, 3, cos)

			// DFT coefficient to complex amplitude: a = 2X/N on interior
			// bins, X/N on DC and Nyquist.
			scale := 2 / float64(n)
			if k == 0 || (n%2 == 0 && k == n/2) {
				scale = 1 / float64(n)
			}
			c := coeffs[p][k]
			rhs[p] = real(c) * scale
			rhs[nProbes+p] = imag(c) * scale
		}

		if !svd.Factorize(transfer, mat.SVDThin) {
			res.Flags[k] = BinIllConditioned
			res.Incident[k] = math.NaN()
			res.Reflected[k] = math.NaN()
			res.InvalidBins++
			continue
		}
		s := svd.Values(nil)
		if s[0] == 0 || s[len(s)-1]*a.condLimit < s[0] {
			res.Flags[k] = BinIllConditioned
			res.Incident[k] = math.NaN()
			res.Reflected[k] = math.NaN()
			res.InvalidBins++
			continue
		}

		// Minimum-norm least-squares solution x = V·Σ⁻¹·Uᵀ·rhs.
		svd.UTo(&u)
		svd.VTo(&v)
		var x [4]float64
		for i := 0; i < 4; i++ {
			dot := 0.0
			for r := 0; r < 2*nProbes; r++ {
				dot += u.At(r, i) * rhs[r]
			}
			w := dot / s[i]
			for j := 0; j < 4; j++ {
				x[j] += v.At(j, i) * w
			}
		}

		incidentPow := x[0]*x[0] + x[2]*x[2]
		reflectedPow := x[1]*x[1] + x[3]*x[3]
		res.Incident[k] = incidentPow / 2
		res.Reflected[k] = reflectedPow / 2
		sumIncident += incidentPow
		sumReflected += reflectedPow
	}

	if sumIncident > 0 {
		res.ReflectionCoeff = math.Sqrt(sumReflected / sumIncident)
	}
	return res, nil
}
