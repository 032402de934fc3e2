// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"wavecore/internal/errs"
	applog "wavecore/internal/log"
)

// Load builds the effective configuration: defaults, overlaid with the YAML
// file at path (skipped when path is empty or the file does not exist),
// overlaid with WAVECORE_* environment variables, then validated.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := loadYAML(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applog.Debugf("Config file %s not found, using defaults", path)
			return nil
		}
		return errs.Configf("reading config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errs.Configf("parsing config file %s: %v", path, err)
	}
	applog.Debugf("Loaded configuration from %s", path)
	return nil
}

// applyEnvOverrides lets deployment environments adjust the most commonly
// tuned settings without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("WAVECORE_DEBUG"); ok {
		cfg.Debug = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("WAVECORE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("WAVECORE_SOURCE"); ok {
		cfg.Acquisition.Source = v
	}
	if v, ok := os.LookupEnv("WAVECORE_SAMPLE_RATE"); ok {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Acquisition.SampleRate = rate
		} else {
			applog.Warnf("Ignoring WAVECORE_SAMPLE_RATE=%q: %v", v, err)
		}
	}
	if v, ok := os.LookupEnv("WAVECORE_DEVICE"); ok {
		if dev, err := strconv.Atoi(v); err == nil {
			cfg.Acquisition.Device = dev
		} else {
			applog.Warnf("Ignoring WAVECORE_DEVICE=%q: %v", v, err)
		}
	}
	if v, ok := os.LookupEnv("WAVECORE_WS_ADDR"); ok {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddr = v
	}
	if v, ok := os.LookupEnv("WAVECORE_UDP_TARGET"); ok {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = v
	}
	if v, ok := os.LookupEnv("WAVECORE_ANALYSIS_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.Interval = d
		} else {
			applog.Warnf("Ignoring WAVECORE_ANALYSIS_INTERVAL=%q: %v", v, err)
		}
	}
}
