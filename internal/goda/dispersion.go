// SPDX-License-Identifier: MIT
package goda

import "math"

// Gravity is the standard acceleration of free fall (m/s²).
const Gravity = 9.80665

const (
	dispersionTol     = 1e-6
	dispersionMaxIter = 50
)

// SolveDispersion solves the linear dispersion relation
//
//	ω² = g·k·tanh(k·h)
//
// for the wavenumber k given angular frequency omega (rad/s) and water depth
// depth (m). The equation is transcendental; Newton-Raphson is seeded from
// the deep-water approximation k₀ = ω²/g and iterated until |Δk| < 1e-6 or
// 50 iterations, whichever comes first. The second return value is false on
// non-convergence or non-physical input; callers flag the affected frequency
// bin instead of failing the whole analysis.
func SolveDispersion(omega, depth float64) (float64, bool) {
	if omega <= 0 || depth <= 0 || math.IsNaN(omega) || math.IsInf(omega, 0) {
		return 0, false
	}

	k := omega * omega / Gravity
	for iter := 0; iter < dispersionMaxIter; iter++ {
		kh := k * depth

		var tanh, sech2 float64
		if kh > 350 {
			// cosh overflows well before this; the deep-water limit is exact
			// to machine precision here.
			tanh, sech2 = 1, 0
		} else {
			tanh = math.Tanh(kh)
			cosh := math.Cosh(kh)
			sech2 = 1 / (cosh * cosh)
		}

		f := Gravity*k*tanh - omega*omega
		df := Gravity * (tanh + kh*sech2)
		if df == 0 {
			return k, false
		}

		dk := f / df
		k -= dk
		if k <= 0 {
			// Newton stepped out of the physical domain; restart closer to
			// the shallow-water root k = ω/√(g·h).
			k = omega / math.Sqrt(Gravity*depth)
		}
		if math.Abs(dk) < dispersionTol {
			return k, true
		}
	}
	return k, false
}

// dispersionEntry caches one solved wavenumber. The analyzer's depth is
// immutable, so the cache key reduces to the angular frequency; a shared
// cache across depths would key on (omega, depth).
type dispersionEntry struct {
	k  float64
	ok bool
}

// wavenumber returns the cached dispersion solution for omega at the
// analyzer's depth, solving and caching on first use. The same frequency
// grid recurs on every analysis call, so this removes the iterative solve
// from the steady-state path. Analysis-goroutine confined, like the FFT
// plan cache.
func (a *Analyzer) wavenumber(omega float64) (float64, bool) {
	if e, hit := a.dispCache[omega]; hit {
		return e.k, e.ok
	}
	k, ok := SolveDispersion(omega, a.geom.Depth)
	a.dispCache[omega] = dispersionEntry{k: k, ok: ok}
	return k, ok
}
