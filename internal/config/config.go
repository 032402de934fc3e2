// SPDX-License-Identifier: MIT

// Package config defines the runtime configuration for the acquisition
// core: source selection, buffering, probe geometry, analysis cadence and
// result transports. Configuration is loaded from YAML with environment
// overrides, then validated once; a validated Config is treated as
// immutable for the lifetime of a run.
package config

import (
	"time"

	"wavecore/internal/dsp"
	"wavecore/internal/errs"
	"wavecore/internal/goda"
	"wavecore/internal/ring"
)

// Boundaries and defaults for the acquisition engine.
const (
	DefaultSource         = "simulated"
	DefaultDeviceID       = -1 // system default capture device
	DefaultSampleRate     = 200.0
	DefaultBlockSize      = 256
	DefaultBufferCapacity = 16384
	DefaultOverflowPolicy = "overwrite" // continuous-display engine; see ring docs
	DefaultWindowSize     = 4096
	DefaultInterval       = 500 * time.Millisecond
	DefaultFFTWindow      = "rectangular"

	MinSampleRate = 1.0     // Hz
	MaxSampleRate = 51200.0 // Hz, upper bound of supported DAQ front-ends
)

// Config is the root configuration structure, loaded from YAML.
type Config struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
	Command  string `yaml:"-"` // one-off command from the CLI, never persisted

	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Probes      goda.Geometry     `yaml:"probes"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Transport   TransportConfig   `yaml:"transport"`
}

// AcquisitionConfig selects and parameterizes the hardware source and the
// ring buffer between it and the analysis cadence.
type AcquisitionConfig struct {
	Source         string  `yaml:"source"` // "simulated" or "portaudio"
	Device         int     `yaml:"device"` // capture device index, -1 for default
	SampleRate     float64 `yaml:"sample_rate"`
	BlockSize      int     `yaml:"block_size"`
	BufferCapacity int     `yaml:"buffer_capacity"` // ring capacity, samples per channel
	OverflowPolicy string  `yaml:"overflow_policy"` // "reject" or "overwrite"
	LowLatency     bool    `yaml:"low_latency"`

	// Shape of the simulated wave field; ignored for hardware sources.
	SimFrequency  float64 `yaml:"sim_frequency"`
	SimAmplitude  float64 `yaml:"sim_amplitude"`
	SimReflection float64 `yaml:"sim_reflection"`
	SimNoiseRMS   float64 `yaml:"sim_noise_rms"`
	SimSeed       int64   `yaml:"sim_seed"`
}

// AnalysisConfig controls the periodic spectral analysis.
type AnalysisConfig struct {
	WindowSize     int           `yaml:"window_size"` // samples per analysis window
	Interval       time.Duration `yaml:"interval"`    // analysis cadence
	FFTWindow      string        `yaml:"fft_window"`
	FFTCacheSize   int           `yaml:"fft_cache_size"`  // max cached plan lengths, 0 = default
	ConditionLimit float64       `yaml:"condition_limit"` // transfer-matrix guard, 0 = default
}

// TransportConfig controls where spectral results are published.
type TransportConfig struct {
	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddr    string `yaml:"websocket_addr"`

	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// NewConfig returns a Config populated with defaults. The default probe
// array is a typical three-probe flume layout; real runs override it.
func NewConfig() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Acquisition: AcquisitionConfig{
			Source:         DefaultSource,
			Device:         DefaultDeviceID,
			SampleRate:     DefaultSampleRate,
			BlockSize:      DefaultBlockSize,
			BufferCapacity: DefaultBufferCapacity,
			OverflowPolicy: DefaultOverflowPolicy,
			SimFrequency:   0.8,
			SimAmplitude:   0.05,
			SimReflection:  0.0,
			SimNoiseRMS:    0.001,
			SimSeed:        1,
		},
		Probes: goda.Geometry{
			Positions: []float64{0, 0.3, 0.75},
			Depth:     0.7,
			FreqMin:   0.05,
			FreqMax:   2.0,
		},
		Analysis: AnalysisConfig{
			WindowSize: DefaultWindowSize,
			Interval:   DefaultInterval,
			FFTWindow:  DefaultFFTWindow,
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddr:    ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  100 * time.Millisecond,
		},
	}
}

// Validate checks the configuration as a whole. All violations are
// ConfigurationErrors; a Config that validates can construct every core
// component without further parameter errors.
func (c *Config) Validate() error {
	a := &c.Acquisition
	switch a.Source {
	case "simulated", "portaudio":
	default:
		return errs.Configf("acquisition.source must be \"simulated\" or \"portaudio\", got %q", a.Source)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return errs.Configf("acquisition.sample_rate %g outside [%g, %g] Hz", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.BlockSize <= 0 {
		return errs.Configf("acquisition.block_size must be positive, got %d", a.BlockSize)
	}
	if a.BufferCapacity <= 0 {
		return errs.Configf("acquisition.buffer_capacity must be positive, got %d", a.BufferCapacity)
	}
	if a.BlockSize > a.BufferCapacity {
		return errs.Configf("acquisition.block_size %d exceeds buffer_capacity %d", a.BlockSize, a.BufferCapacity)
	}
	if _, ok := ring.ParsePolicy(a.OverflowPolicy); !ok {
		return errs.Configf("acquisition.overflow_policy must be \"reject\" or \"overwrite\", got %q", a.OverflowPolicy)
	}
	if a.Source == "simulated" && a.SimFrequency <= 0 {
		return errs.Configf("acquisition.sim_frequency must be positive, got %g", a.SimFrequency)
	}

	if err := c.Probes.Validate(); err != nil {
		return err
	}

	an := &c.Analysis
	if an.WindowSize < 2 {
		return errs.Configf("analysis.window_size must be at least 2, got %d", an.WindowSize)
	}
	if an.WindowSize > a.BufferCapacity {
		return errs.Configf("analysis.window_size %d exceeds buffer_capacity %d", an.WindowSize, a.BufferCapacity)
	}
	if an.Interval <= 0 {
		return errs.Configf("analysis.interval must be positive, got %s", an.Interval)
	}
	if _, err := dsp.ParseWindowFunc(an.FFTWindow); err != nil {
		return err
	}
	if an.ConditionLimit < 0 {
		return errs.Configf("analysis.condition_limit must not be negative, got %g", an.ConditionLimit)
	}

	tr := &c.Transport
	if tr.WebSocketEnabled && tr.WebSocketAddr == "" {
		return errs.Configf("transport.websocket_addr must be set when the websocket publisher is enabled")
	}
	if tr.UDPEnabled {
		if tr.UDPTargetAddress == "" {
			return errs.Configf("transport.udp_target_address must be set when the UDP publisher is enabled")
		}
		if tr.UDPSendInterval <= 0 {
			return errs.Configf("transport.udp_send_interval must be positive, got %s", tr.UDPSendInterval)
		}
	}
	return nil
}
