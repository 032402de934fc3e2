// SPDX-License-Identifier: MIT
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"wavecore/cmd"
	"wavecore/internal/config"
	"wavecore/internal/dsp"
	"wavecore/internal/engine"
	applog "wavecore/internal/log"
	"wavecore/internal/ring"
	"wavecore/internal/source"
	"wavecore/internal/transport"
	"wavecore/pkg/build"
)

// main is the entry point for the acquisition application. The program
// flow is divided into three phases:
//
// 1. Startup (cold path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands if requested
//   - Assemble source, publishers and engine
//
// 2. Acquisition (hot path):
//   - Engine goroutines move samples and publish spectra
//   - main blocks on termination signals
//
// 3. Shutdown (cold path):
//   - Stop the engine (in-flight analysis completes)
//   - Close publishers and the capture subsystem
func main() {
	build.Initialize()

	cfg, err := cmd.ParseArgs()
	if err != nil {
		fatal(err)
	}
	if cfg.Command == "" {
		// Help or version output already handled by the CLI.
		return
	}

	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}

	usesPortAudio := cfg.Command == "list" || cfg.Acquisition.Source == "portaudio"
	if usesPortAudio {
		if err := source.Initialize(); err != nil {
			fatal(err)
		}
		defer source.Terminate()
	}

	if cfg.Command == "list" {
		if err := source.ListDevices(); err != nil {
			fatal(err)
		}
		return
	}

	src, err := buildSource(cfg)
	if err != nil {
		fatal(err)
	}
	pub := buildPublisher(cfg)

	policy, _ := ring.ParsePolicy(cfg.Acquisition.OverflowPolicy)
	window, _ := dsp.ParseWindowFunc(cfg.Analysis.FFTWindow)

	eng, err := engine.New(engine.Options{
		Source:         src,
		Publisher:      pub,
		Geometry:       cfg.Probes,
		BufferCapacity: cfg.Acquisition.BufferCapacity,
		OverflowPolicy: policy,
		WindowSize:     cfg.Analysis.WindowSize,
		Interval:       cfg.Analysis.Interval,
		FFTWindow:      window,
		FFTCacheSize:   cfg.Analysis.FFTCacheSize,
		ConditionLimit: cfg.Analysis.ConditionLimit,
	})
	if err != nil {
		fatal(err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	if err := eng.Start(); err != nil {
		fatal(err)
	}
	applog.Infof("%s %s acquiring from %s source, Ctrl-C to stop",
		build.GetBuildFlags().Name, build.GetBuildFlags().Version, cfg.Acquisition.Source)

	<-done

	if err := eng.Stop(); err != nil {
		applog.Errorf("Error stopping engine: %v", err)
	}
	if err := pub.Close(); err != nil {
		applog.Errorf("Error closing publishers: %v", err)
	}

	stats := eng.Stats()
	applog.Infof("Run complete: %d blocks, %d analyses, %d samples dropped",
		stats.BlocksAcquired, stats.Analyses, stats.Overflows.DroppedSamples)
}

// buildSource assembles the configured sample source.
func buildSource(cfg *config.Config) (source.Source, error) {
	a := cfg.Acquisition
	switch a.Source {
	case "portaudio":
		return source.NewPortAudio(source.PortAudioConfig{
			Device:     a.Device,
			Channels:   len(cfg.Probes.Positions),
			SampleRate: a.SampleRate,
			BlockSize:  a.BlockSize,
			LowLatency: a.LowLatency,
		})
	default:
		return source.NewSimulated(source.SimulatedConfig{
			Geometry:   cfg.Probes,
			SampleRate: a.SampleRate,
			BlockSize:  a.BlockSize,
			Frequency:  a.SimFrequency,
			Amplitude:  a.SimAmplitude,
			Reflection: a.SimReflection,
			NoiseRMS:   a.SimNoiseRMS,
			Seed:       a.SimSeed,
			Realtime:   true,
		})
	}
}

// buildPublisher assembles the configured result publishers. The logging
// publisher is always present so headless runs still show progress.
func buildPublisher(cfg *config.Config) transport.Publisher {
	publishers := []transport.Publisher{transport.NewLoggingPublisher()}

	if cfg.Transport.WebSocketEnabled {
		publishers = append(publishers, transport.NewWebSocketPublisher(cfg.Transport.WebSocketAddr))
	}
	if cfg.Transport.UDPEnabled {
		sender, err := transport.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			applog.Errorf("UDP publisher disabled: %v", err)
		} else if udpPub, err := transport.NewUDPPublisher(sender, cfg.Transport.UDPSendInterval); err != nil {
			applog.Errorf("UDP publisher disabled: %v", err)
		} else {
			publishers = append(publishers, udpPub)
		}
	}
	return transport.NewMulti(publishers...)
}

// fatal logs the error with its stack trace and exits. For startup
// failures only, before the hot path is running.
func fatal(err error) {
	applog.Fatalf("%+v", xerrors.New(err))
}
