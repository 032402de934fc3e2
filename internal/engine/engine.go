// SPDX-License-Identifier: MIT

/*
Package engine orchestrates one acquisition run: it moves blocks from a
Source into the ring buffer on a dedicated goroutine and periodically
feeds the newest window through the spectral analyzer, publishing each
result.

Lifecycle is a small state machine:

	Idle → Running ⇄ Paused → Stopped

Stopped is terminal; an Engine is single-use and a new run needs a new
Engine. Pause suspends the analysis cadence only, acquisition keeps
filling the buffer so no samples are lost across a pause.

The acquisition goroutine and the analysis goroutine are the single
producer and single consumer of the ring buffer; all other state they
share is atomic.
*/
package engine

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"wavecore/internal/dsp"
	"wavecore/internal/errs"
	"wavecore/internal/goda"
	applog "wavecore/internal/log"
	"wavecore/internal/ring"
	"wavecore/internal/source"
	"wavecore/internal/transport"
)

// State is the lifecycle state of an Engine.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options assembles an Engine. Source and Publisher are owned by the
// caller for construction errors but by the Engine once New succeeds;
// Stop stops the source, Close on the publisher stays with the caller.
type Options struct {
	Source    source.Source
	Publisher transport.Publisher
	Geometry  goda.Geometry

	BufferCapacity int
	OverflowPolicy ring.OverflowPolicy
	WindowSize     int
	Interval       time.Duration

	FFTWindow      dsp.WindowFunc
	FFTCacheSize   int
	ConditionLimit float64 // 0 keeps the analyzer default
}

// Stats is a snapshot of an engine's counters.
type Stats struct {
	State          State
	BlocksAcquired uint64
	Analyses       uint64
	PublishErrors  uint64
	InvalidBins    uint64
	Overflows      ring.Counters
	BufferFill     int
	SourceDone     bool
}

// Engine runs one acquisition. Construct with New, drive with Start,
// Pause, Resume and Stop; all lifecycle methods are safe from any
// goroutine.
type Engine struct {
	src      source.Source
	pub      transport.Publisher
	buf      *ring.Buffer[float64]
	analyzer *goda.Analyzer
	proc     *dsp.Processor

	windowSize int
	interval   time.Duration
	rate       float64

	state    atomic.Uint32
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	blocks        atomic.Uint64
	analyses      atomic.Uint64
	publishErrors atomic.Uint64
	invalidBins   atomic.Uint64
	sourceDone    atomic.Bool

	lastResult atomic.Pointer[goda.Result]

	// Analysis window scratch, reused across ticks. Confined to the
	// analysis goroutine.
	window [][]float64
}

// New validates the options and assembles an idle engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errs.Configf("engine: source must not be nil")
	}
	if opts.Publisher == nil {
		return nil, errs.Configf("engine: publisher must not be nil")
	}
	channels := opts.Source.Channels()
	if channels != len(opts.Geometry.Positions) {
		return nil, errs.Configf("engine: source has %d channels, geometry has %d probes",
			channels, len(opts.Geometry.Positions))
	}
	if opts.WindowSize < 2 {
		return nil, errs.Configf("engine: window size must be at least 2, got %d", opts.WindowSize)
	}
	if opts.WindowSize > opts.BufferCapacity {
		return nil, errs.Configf("engine: window size %d exceeds buffer capacity %d",
			opts.WindowSize, opts.BufferCapacity)
	}
	if opts.Interval <= 0 {
		return nil, errs.Configf("engine: analysis interval must be positive, got %s", opts.Interval)
	}

	buf, err := ring.New[float64](channels, opts.BufferCapacity, opts.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	proc := dsp.NewProcessor(opts.FFTWindow, opts.FFTCacheSize)
	analyzer, err := goda.NewAnalyzer(opts.Geometry, proc)
	if err != nil {
		return nil, err
	}
	if opts.ConditionLimit > 0 {
		analyzer.SetConditionLimit(opts.ConditionLimit)
	}

	window := make([][]float64, channels)
	for ch := range window {
		window[ch] = make([]float64, opts.WindowSize)
	}

	return &Engine{
		src:        opts.Source,
		pub:        opts.Publisher,
		buf:        buf,
		analyzer:   analyzer,
		proc:       proc,
		windowSize: opts.WindowSize,
		interval:   opts.Interval,
		rate:       opts.Source.SampleRate(),
		done:       make(chan struct{}),
		window:     window,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start moves Idle → Running and launches the acquisition and analysis
// goroutines. Starting a non-idle engine is an error.
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(uint32(StateIdle), uint32(StateRunning)) {
		return errs.Configf("engine: cannot start from state %q", e.State())
	}
	if err := e.src.Start(); err != nil {
		e.state.Store(uint32(StateStopped))
		return err
	}

	applog.Infof("Engine: Starting (window=%d samples, interval=%s)", e.windowSize, e.interval)
	e.wg.Add(2)
	go e.acquisitionLoop()
	go e.analysisLoop()
	return nil
}

// Pause moves Running → Paused. Acquisition continues, analysis stops.
func (e *Engine) Pause() error {
	if !e.state.CompareAndSwap(uint32(StateRunning), uint32(StatePaused)) {
		return errs.Configf("engine: cannot pause from state %q", e.State())
	}
	applog.Infof("Engine: Paused")
	return nil
}

// Resume moves Paused → Running.
func (e *Engine) Resume() error {
	if !e.state.CompareAndSwap(uint32(StatePaused), uint32(StateRunning)) {
		return errs.Configf("engine: cannot resume from state %q", e.State())
	}
	applog.Infof("Engine: Resumed")
	return nil
}

// Stop drains the run: it stops the source, waits for both goroutines to
// finish (an in-flight analysis completes and is published) and leaves
// the engine in the terminal Stopped state. Safe to call from any state
// and any goroutine; repeat calls are no-ops.
func (e *Engine) Stop() error {
	var srcErr error
	e.stopOnce.Do(func() {
		prev := e.State()
		e.state.Store(uint32(StateStopped))
		close(e.done)
		srcErr = e.src.Stop()
		if prev == StateRunning || prev == StatePaused {
			e.wg.Wait()
		}
		applog.Infof("Engine: Stopped (blocks=%d, analyses=%d)", e.blocks.Load(), e.analyses.Load())
	})
	return srcErr
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		State:          e.State(),
		BlocksAcquired: e.blocks.Load(),
		Analyses:       e.analyses.Load(),
		PublishErrors:  e.publishErrors.Load(),
		InvalidBins:    e.invalidBins.Load(),
		Overflows:      e.buf.Overflows(),
		BufferFill:     e.buf.Available(),
		SourceDone:     e.sourceDone.Load(),
	}
}

// LastResult returns the most recently published result, or nil before
// the first analysis.
func (e *Engine) LastResult() *goda.Result {
	return e.lastResult.Load()
}

// acquisitionLoop is the single producer of the ring buffer.
func (e *Engine) acquisitionLoop() {
	defer e.wg.Done()
	for {
		block, err := e.src.ReadBlock()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				applog.Errorf("Engine: Source read failed: %v", err)
			}
			e.sourceDone.Store(true)
			return
		}
		if !e.buf.Write(block) {
			applog.Debugf("Engine: Buffer rejected block of %d samples", len(block[0]))
		}
		e.blocks.Add(1)
		if r, ok := e.src.(interface{ Recycle([][]float64) }); ok {
			r.Recycle(block)
		}
		select {
		case <-e.done:
			return
		default:
		}
	}
}

// analysisLoop is the single consumer of the ring buffer. Each tick it
// analyzes the newest full window, skipping ticks while paused or until
// enough samples have accumulated.
func (e *Engine) analysisLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.State() != StateRunning {
				continue
			}
			e.analyzeOnce()
		case <-e.done:
			// Final analysis over whatever accumulated, so short runs
			// still produce a result.
			e.analyzeOnce()
			return
		}
	}
}

func (e *Engine) analyzeOnce() {
	if !e.buf.ReadLatest(e.window, e.windowSize) {
		return
	}
	result, err := e.analyzer.Analyze(e.window, e.rate)
	if err != nil {
		// Analysis input comes from our own buffer; failure here means a
		// source fed non-finite samples.
		applog.Errorf("Engine: Analysis failed: %v", err)
		return
	}
	e.analyses.Add(1)
	e.invalidBins.Add(uint64(result.InvalidBins))
	e.lastResult.Store(result)

	if err := e.pub.Publish(result); err != nil {
		e.publishErrors.Add(1)
		applog.Warnf("Engine: Publish failed: %v", err)
	}
}
