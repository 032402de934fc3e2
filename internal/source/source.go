// SPDX-License-Identifier: MIT

/*
Package source provides the sample producers feeding the acquisition
engine: a deterministic simulated wave field for development and testing,
and a PortAudio-backed capture source for multi-channel DAQ front-ends
that expose themselves as audio input devices.

A Source hands out blocks shaped [channels][samples]. ReadBlock blocks
until a block is ready and returns io.EOF once the source is stopped or
exhausted; the engine treats io.EOF as a clean end of acquisition.
*/
package source

import (
	"io"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"wavecore/internal/errs"
	"wavecore/internal/goda"
	"wavecore/pkg/synth"
)

// Source produces synchronized multi-channel sample blocks. Start must be
// called before ReadBlock; Stop is idempotent and unblocks a pending
// ReadBlock with io.EOF.
type Source interface {
	Start() error
	ReadBlock() ([][]float64, error)
	Stop() error
	Channels() int
	SampleRate() float64
}

// SimulatedConfig shapes the synthetic wave field produced by a
// SimulatedSource.
type SimulatedConfig struct {
	Geometry   goda.Geometry
	SampleRate float64
	BlockSize  int

	Frequency  float64 // regular wave frequency, Hz
	Amplitude  float64 // incident amplitude, m
	Reflection float64 // reflected amplitude ratio, 0..1
	NoiseRMS   float64 // additive Gaussian sensor noise
	Seed       int64

	// Realtime paces ReadBlock to wall-clock block duration, mimicking a
	// hardware front-end. Leave false in tests.
	Realtime bool

	// MaxBlocks ends the source with io.EOF after that many blocks when
	// positive. Zero means unbounded.
	MaxBlocks int
}

// SimulatedSource synthesizes the wave field a probe array would measure
// for a regular incident wave plus a partial reflection, phase-coherent
// across blocks. The wavenumber is solved once from the configured
// frequency and depth.
type SimulatedSource struct {
	cfg        SimulatedConfig
	wavenumber float64
	rng        *rand.Rand

	startSample int
	blocks      int
	stopped     atomic.Bool
}

// NewSimulated validates the configuration and resolves the wavenumber for
// the configured wave.
func NewSimulated(cfg SimulatedConfig) (*SimulatedSource, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		return nil, errs.Configf("simulated source: sample rate must be positive, got %g", cfg.SampleRate)
	}
	if cfg.BlockSize <= 0 {
		return nil, errs.Configf("simulated source: block size must be positive, got %d", cfg.BlockSize)
	}
	if cfg.Frequency <= 0 || cfg.Frequency >= cfg.SampleRate/2 {
		return nil, errs.Configf("simulated source: frequency %g Hz outside (0, %g)", cfg.Frequency, cfg.SampleRate/2)
	}
	k, ok := goda.SolveDispersion(2*math.Pi*cfg.Frequency, cfg.Geometry.Depth)
	if !ok {
		return nil, errs.Configf("simulated source: no wavenumber for f=%g Hz at depth %g m", cfg.Frequency, cfg.Geometry.Depth)
	}
	return &SimulatedSource{
		cfg:        cfg,
		wavenumber: k,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (s *SimulatedSource) Start() error { return nil }

// ReadBlock synthesizes the next block. Blocks are contiguous in time, so
// concatenating them reproduces a continuous record.
func (s *SimulatedSource) ReadBlock() ([][]float64, error) {
	if s.stopped.Load() {
		return nil, io.EOF
	}
	if s.cfg.MaxBlocks > 0 && s.blocks >= s.cfg.MaxBlocks {
		return nil, io.EOF
	}
	if s.cfg.Realtime {
		time.Sleep(time.Duration(float64(s.cfg.BlockSize) / s.cfg.SampleRate * float64(time.Second)))
		if s.stopped.Load() {
			return nil, io.EOF
		}
	}

	block := synth.WaveField(
		s.cfg.Geometry.Positions, s.wavenumber,
		s.cfg.Frequency, s.cfg.Amplitude, s.cfg.Reflection,
		s.cfg.SampleRate, s.cfg.BlockSize, s.startSample,
	)
	synth.AddNoise(block, s.cfg.NoiseRMS, s.rng)

	s.startSample += s.cfg.BlockSize
	s.blocks++
	return block, nil
}

func (s *SimulatedSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *SimulatedSource) Channels() int { return len(s.cfg.Geometry.Positions) }

func (s *SimulatedSource) SampleRate() float64 { return s.cfg.SampleRate }
