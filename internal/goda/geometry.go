// SPDX-License-Identifier: MIT
package goda

import (
	"math"

	"wavecore/internal/errs"
)

// Geometry describes the fixed probe array: 1D probe coordinates along the
// flume axis (meters, positive in the direction of incident propagation),
// the still-water depth, and the frequency band to decompose. Immutable
// after analyzer construction.
type Geometry struct {
	Positions []float64 `yaml:"positions" json:"positions"`
	Depth     float64   `yaml:"depth" json:"depth"`
	FreqMin   float64   `yaml:"freq_min" json:"freq_min"`
	FreqMax   float64   `yaml:"freq_max" json:"freq_max"`
}

// minProbeSeparation below which two probes are considered duplicates.
const minProbeSeparation = 1e-6

// Validate checks that the geometry poses a well-conditioned decomposition
// problem. Fails fast at construction rather than per call.
func (g Geometry) Validate() error {
	if len(g.Positions) < 3 {
		return errs.Configf("goda: need at least 3 probes, got %d", len(g.Positions))
	}
	for i, xi := range g.Positions {
		if math.IsNaN(xi) || math.IsInf(xi, 0) {
			return errs.Configf("goda: probe %d position is not finite", i)
		}
		for j, xj := range g.Positions[:i] {
			if math.Abs(xi-xj) < minProbeSeparation {
				return errs.Configf("goda: probes %d and %d are duplicates (%.6g m apart)", j, i, math.Abs(xi-xj))
			}
		}
	}
	if g.Depth <= 0 {
		return errs.Configf("goda: water depth must be positive, got %g", g.Depth)
	}
	if g.FreqMin <= 0 || g.FreqMax <= g.FreqMin {
		return errs.Configf("goda: frequency range (%g, %g) must satisfy 0 < min < max", g.FreqMin, g.FreqMax)
	}
	return nil
}
