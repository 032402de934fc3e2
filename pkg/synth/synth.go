// SPDX-License-Identifier: MIT

// Package synth generates deterministic synthetic probe signals for tests
// and for the simulated hardware source. Wave fields follow linear wave
// theory: the caller supplies the wavenumber matching the frequency and
// depth under test.
package synth

import (
	"math"
	"math/rand"
)

// Sine returns n samples of amp·sin(2πf·t) sampled at sampleRate.
func Sine(n int, sampleRate, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = amp * math.Sin(2*math.Pi*freq*t)
	}
	return out
}

// WaveField builds synchronized surface-elevation series at the given probe
// positions for a regular wave of frequency freq and amplitude amp traveling
// toward +x, superposed with a reflected component of relative amplitude
// reflection traveling toward -x:
//
//	η_p(t) = amp·cos(ωt − κx_p) + reflection·amp·cos(ωt + κx_p)
//
// startSample offsets the time axis so consecutive blocks of a continuous
// record can be generated piecewise.
func WaveField(positions []float64, wavenumber, freq, amp, reflection, sampleRate float64, n, startSample int) [][]float64 {
	omega := 2 * math.Pi * freq
	out := make([][]float64, len(positions))
	for p, x := range positions {
		row := make([]float64, n)
		for i := range row {
			t := float64(startSample+i) / sampleRate
			row[i] = amp*math.Cos(omega*t-wavenumber*x) +
				reflection*amp*math.Cos(omega*t+wavenumber*x)
		}
		out[p] = row
	}
	return out
}

// AddNoise adds zero-mean Gaussian noise of the given RMS to every sample
// in place, using the supplied source for reproducibility.
func AddNoise(field [][]float64, rms float64, rng *rand.Rand) {
	if rms <= 0 {
		return
	}
	for _, row := range field {
		for i := range row {
			row[i] += rng.NormFloat64() * rms
		}
	}
}
