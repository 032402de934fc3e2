// SPDX-License-Identifier: MIT
package goda

import (
	"math"
	"testing"

	"wavecore/internal/errs"
	"wavecore/pkg/synth"
)

var testGeometry = Geometry{
	Positions: []float64{0, 0.3, 0.75},
	Depth:     0.7,
	FreqMin:   0.2,
	FreqMax:   2.0,
}

const (
	testRate = 10.0 // Hz
	testLen  = 500  // 50 s, 0.02 Hz resolution
	testFreq = 0.8  // on-bin: 0.8 / 0.02 = bin 40
	testAmp  = 0.05 // m
)

// field generates a synchronized probe window for testGeometry with the
// given reflection ratio.
func field(t *testing.T, geom Geometry, reflection float64) [][]float64 {
	t.Helper()
	k, ok := SolveDispersion(2*math.Pi*testFreq, geom.Depth)
	if !ok {
		t.Fatal("dispersion solve failed for test frequency")
	}
	return synth.WaveField(geom.Positions, k, testFreq, testAmp, reflection, testRate, testLen, 0)
}

// peakBin returns the index of the largest finite value.
func peakBin(vals []float64) int {
	peak := -1
	best := math.Inf(-1)
	for i, v := range vals {
		if !math.IsNaN(v) && v > best {
			best = v
			peak = i
		}
	}
	return peak
}

func TestNewAnalyzerValidation(t *testing.T) {
	tests := []struct {
		name string
		geom Geometry
	}{
		{"two probes", Geometry{Positions: []float64{0, 0.3}, Depth: 0.7, FreqMin: 0.2, FreqMax: 2}},
		{"no probes", Geometry{Depth: 0.7, FreqMin: 0.2, FreqMax: 2}},
		{"duplicate probes", Geometry{Positions: []float64{0, 0.3, 0.3}, Depth: 0.7, FreqMin: 0.2, FreqMax: 2}},
		{"non-finite probe", Geometry{Positions: []float64{0, 0.3, math.NaN()}, Depth: 0.7, FreqMin: 0.2, FreqMax: 2}},
		{"zero depth", Geometry{Positions: []float64{0, 0.3, 0.75}, Depth: 0, FreqMin: 0.2, FreqMax: 2}},
		{"zero fmin", Geometry{Positions: []float64{0, 0.3, 0.75}, Depth: 0.7, FreqMin: 0, FreqMax: 2}},
		{"inverted range", Geometry{Positions: []float64{0, 0.3, 0.75}, Depth: 0.7, FreqMin: 2, FreqMax: 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAnalyzer(tt.geom, nil); !errs.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}

	if _, err := NewAnalyzer(testGeometry, nil); err != nil {
		t.Errorf("valid geometry rejected: %v", err)
	}
}

func TestAnalyzeInputValidation(t *testing.T) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		t.Fatal(err)
	}
	good := field(t, testGeometry, 0)

	t.Run("probe count mismatch", func(t *testing.T) {
		if _, err := a.Analyze(good[:2], testRate); !errs.IsInvalidInput(err) {
			t.Errorf("expected InvalidInputError, got %v", err)
		}
	})
	t.Run("ragged window", func(t *testing.T) {
		ragged := [][]float64{good[0], good[1], good[2][:10]}
		if _, err := a.Analyze(ragged, testRate); !errs.IsInvalidInput(err) {
			t.Errorf("expected InvalidInputError, got %v", err)
		}
	})
	t.Run("zero sample rate", func(t *testing.T) {
		if _, err := a.Analyze(good, 0); !errs.IsInvalidInput(err) {
			t.Errorf("expected InvalidInputError, got %v", err)
		}
	})
	t.Run("non-finite samples", func(t *testing.T) {
		bad := field(t, testGeometry, 0)
		bad[1][7] = math.NaN()
		if _, err := a.Analyze(bad, testRate); !errs.IsInvalidInput(err) {
			t.Errorf("expected InvalidInputError, got %v", err)
		}
	})

	// The analyzer stays usable after a failed call.
	if _, err := a.Analyze(good, testRate); err != nil {
		t.Errorf("analyzer unusable after invalid input: %v", err)
	}
}

func TestIncidentOnlyWave(t *testing.T) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Analyze(field(t, testGeometry, 0), testRate)
	if err != nil {
		t.Fatal(err)
	}

	if res.ReflectionCoeff < 0 || res.ReflectionCoeff > 0.05 {
		t.Errorf("Kr = %g for incident-only wave, want ~0", res.ReflectionCoeff)
	}

	wantBin := int(math.Round(testFreq * testLen / testRate))
	if got := peakBin(res.Incident); got != wantBin {
		t.Errorf("incident peak at bin %d (%.3g Hz), want bin %d",
			got, res.Frequencies[got], wantBin)
	}
	if res.Flags[wantBin] != BinValid {
		t.Errorf("peak bin flagged %d, want valid", res.Flags[wantBin])
	}

	// Peak incident energy matches a²/2 for the on-bin regular wave.
	want := testAmp * testAmp / 2
	if got := res.Incident[wantBin]; math.Abs(got-want)/want > 0.01 {
		t.Errorf("incident peak energy %g, want %g", got, want)
	}
}

func TestPartialReflection(t *testing.T) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, reflection := range []float64{0.2, 0.4, 1.0} {
		res, err := a.Analyze(field(t, testGeometry, reflection), testRate)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(res.ReflectionCoeff-reflection) > 0.05 {
			t.Errorf("Kr = %g, want %g ±0.05", res.ReflectionCoeff, reflection)
		}
		if res.ReflectionCoeff > 1.01 {
			t.Errorf("Kr = %g exceeds physical bound", res.ReflectionCoeff)
		}
	}
}

func TestIllConditionedSpacingFlagged(t *testing.T) {
	// Probe spacing at exact multiples of the half wavelength makes the
	// transfer matrix singular, the classic failure mode of the method.
	kappa, ok := SolveDispersion(2*math.Pi*testFreq, testGeometry.Depth)
	if !ok {
		t.Fatal("dispersion solve failed")
	}
	half := math.Pi / kappa
	degenerate := Geometry{
		Positions: []float64{0, half, 2 * half},
		Depth:     testGeometry.Depth,
		FreqMin:   testGeometry.FreqMin,
		FreqMax:   testGeometry.FreqMax,
	}

	a, err := NewAnalyzer(degenerate, nil)
	if err != nil {
		t.Fatal(err)
	}
	window := synth.WaveField(degenerate.Positions, kappa, testFreq, testAmp, 0, testRate, testLen, 0)
	res, err := a.Analyze(window, testRate)
	if err != nil {
		t.Fatal(err)
	}

	bin := int(math.Round(testFreq * testLen / testRate))
	if res.Flags[bin] != BinIllConditioned {
		t.Errorf("degenerate spacing bin flagged %d, want ill-conditioned", res.Flags[bin])
	}
	if !math.IsNaN(res.Incident[bin]) {
		t.Errorf("ill-conditioned bin carries amplitude %g, want NaN", res.Incident[bin])
	}
	if res.InvalidBins == 0 {
		t.Error("InvalidBins = 0, want > 0")
	}
}

func TestOutOfBandBinsSkipped(t *testing.T) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Analyze(field(t, testGeometry, 0), testRate)
	if err != nil {
		t.Fatal(err)
	}

	if res.Flags[0] != BinOutOfBand {
		t.Errorf("DC bin flagged %d, want out-of-band", res.Flags[0])
	}
	last := len(res.Flags) - 1 // Nyquist at 5 Hz, above FreqMax = 2 Hz
	if res.Flags[last] != BinOutOfBand {
		t.Errorf("Nyquist bin flagged %d, want out-of-band", res.Flags[last])
	}
	if !math.IsNaN(res.Incident[0]) || !math.IsNaN(res.Reflected[last]) {
		t.Error("out-of-band bins carry amplitudes, want NaN")
	}
}

func TestResultShape(t *testing.T) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Analyze(field(t, testGeometry, 0.3), testRate)
	if err != nil {
		t.Fatal(err)
	}

	bins := testLen/2 + 1
	for name, s := range map[string]int{
		"Frequencies": len(res.Frequencies),
		"Power":       len(res.Power),
		"Incident":    len(res.Incident),
		"Reflected":   len(res.Reflected),
		"Flags":       len(res.Flags),
	} {
		if s != bins {
			t.Errorf("%s length = %d, want %d", name, s, bins)
		}
	}
}

func BenchmarkAnalyze(b *testing.B) {
	a, err := NewAnalyzer(testGeometry, nil)
	if err != nil {
		b.Fatal(err)
	}
	k, _ := SolveDispersion(2*math.Pi*testFreq, testGeometry.Depth)
	window := synth.WaveField(testGeometry.Positions, k, testFreq, testAmp, 0.3, testRate, 2048, 0)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := a.Analyze(window, testRate); err != nil {
			b.Fatal(err)
		}
	}
}
