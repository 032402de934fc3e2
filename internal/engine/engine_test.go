// SPDX-License-Identifier: MIT
package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"wavecore/internal/dsp"
	"wavecore/internal/errs"
	"wavecore/internal/goda"
	"wavecore/internal/ring"
	"wavecore/internal/source"
	"wavecore/internal/transport"
)

var testGeometry = goda.Geometry{
	Positions: []float64{0, 0.3, 0.75},
	Depth:     0.7,
	FreqMin:   0.2,
	FreqMax:   2.0,
}

const (
	testRate = 10.0
	testFreq = 0.8
)

// recorder collects published results and signals the first arrival.
type recorder struct {
	mu      sync.Mutex
	results []*goda.Result
	first   chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{})}
}

func (r *recorder) Publish(res *goda.Result) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) last() *goda.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return nil
	}
	return r.results[len(r.results)-1]
}

func testSource(t *testing.T, reflection float64, maxBlocks int) *source.SimulatedSource {
	t.Helper()
	src, err := source.NewSimulated(source.SimulatedConfig{
		Geometry:   testGeometry,
		SampleRate: testRate,
		BlockSize:  100,
		Frequency:  testFreq,
		Amplitude:  0.05,
		Reflection: reflection,
		Seed:       1,
		MaxBlocks:  maxBlocks,
	})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func testOptions(src source.Source, pub transport.Publisher) Options {
	return Options{
		Source:         src,
		Publisher:      pub,
		Geometry:       testGeometry,
		BufferCapacity: 4096,
		OverflowPolicy: ring.OverwriteOldest,
		WindowSize:     500,
		Interval:       5 * time.Millisecond,
		FFTWindow:      dsp.Rectangular,
	}
}

func TestNewValidation(t *testing.T) {
	src := testSource(t, 0, 1)
	pub := newRecorder()

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"nil source", func(o *Options) { o.Source = nil }},
		{"nil publisher", func(o *Options) { o.Publisher = nil }},
		{"probe mismatch", func(o *Options) { o.Geometry.Positions = []float64{0, 0.3, 0.75, 1.2} }},
		{"window too small", func(o *Options) { o.WindowSize = 1 }},
		{"window exceeds buffer", func(o *Options) { o.WindowSize = 1 << 20 }},
		{"zero interval", func(o *Options) { o.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(src, pub)
			tt.mutate(&opts)
			if _, err := New(opts); !errs.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestEndToEndIncidentWave(t *testing.T) {
	src := testSource(t, 0, 20) // 2000 samples, then EOF
	rec := newRecorder()

	eng, err := New(testOptions(src, rec))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rec.first:
	case <-time.After(5 * time.Second):
		t.Fatal("no result published within 5s")
	}
	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}

	res := rec.last()
	if res == nil {
		t.Fatal("no result recorded")
	}
	if res.ReflectionCoeff > 0.05 {
		t.Errorf("Kr = %g for incident-only wave, want ~0", res.ReflectionCoeff)
	}

	// Peak incident energy within one bin of the generated frequency.
	peak, best := -1, math.Inf(-1)
	for i, v := range res.Incident {
		if !math.IsNaN(v) && v > best {
			best, peak = v, i
		}
	}
	wantBin := int(math.Round(testFreq * 500 / testRate))
	if peak < wantBin-1 || peak > wantBin+1 {
		t.Errorf("incident peak at bin %d, want %d ±1", peak, wantBin)
	}

	stats := eng.Stats()
	if stats.State != StateStopped {
		t.Errorf("state = %s, want stopped", stats.State)
	}
	if stats.Analyses == 0 || stats.BlocksAcquired == 0 {
		t.Errorf("counters not advanced: %+v", stats)
	}
	if eng.LastResult() == nil {
		t.Error("LastResult nil after a published analysis")
	}
}

func TestEndToEndReflection(t *testing.T) {
	src := testSource(t, 0.4, 20)
	rec := newRecorder()

	eng, err := New(testOptions(src, rec))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.first:
	case <-time.After(5 * time.Second):
		t.Fatal("no result published within 5s")
	}
	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}

	res := rec.last()
	if math.Abs(res.ReflectionCoeff-0.4) > 0.05 {
		t.Errorf("Kr = %g, want 0.4 ±0.05", res.ReflectionCoeff)
	}
}

func TestStateMachine(t *testing.T) {
	src := testSource(t, 0, 0)
	eng, err := New(testOptions(src, newRecorder()))
	if err != nil {
		t.Fatal(err)
	}

	if got := eng.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	if err := eng.Pause(); !errs.IsConfiguration(err) {
		t.Error("Pause from idle succeeded")
	}
	if err := eng.Resume(); !errs.IsConfiguration(err) {
		t.Error("Resume from idle succeeded")
	}

	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); !errs.IsConfiguration(err) {
		t.Error("second Start succeeded")
	}

	if err := eng.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := eng.State(); got != StatePaused {
		t.Errorf("state = %s, want paused", got)
	}
	if err := eng.Pause(); !errs.IsConfiguration(err) {
		t.Error("double Pause succeeded")
	}
	if err := eng.Resume(); err != nil {
		t.Fatal(err)
	}
	if got := eng.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}

	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := eng.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
	// Stopped is terminal.
	if err := eng.Stop(); err != nil {
		t.Errorf("repeat Stop: %v", err)
	}
	if err := eng.Start(); !errs.IsConfiguration(err) {
		t.Error("Start after Stop succeeded")
	}
	if err := eng.Resume(); !errs.IsConfiguration(err) {
		t.Error("Resume after Stop succeeded")
	}
}

func TestPauseSuspendsAnalysisNotAcquisition(t *testing.T) {
	src := testSource(t, 0, 0)
	rec := newRecorder()
	eng, err := New(testOptions(src, rec))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	if err := eng.Pause(); err != nil {
		t.Fatal(err)
	}

	before := eng.Stats().BlocksAcquired
	time.Sleep(50 * time.Millisecond)
	after := eng.Stats().BlocksAcquired
	if after <= before {
		t.Error("acquisition stalled during pause")
	}

	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestOverflowCountersSurface(t *testing.T) {
	// Tiny buffer with an unbounded fast source forces overwrites.
	src := testSource(t, 0, 0)
	rec := newRecorder()
	opts := testOptions(src, rec)
	opts.BufferCapacity = 512
	opts.WindowSize = 256

	eng, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}

	stats := eng.Stats()
	if stats.Overflows.DroppedSamples == 0 {
		t.Errorf("expected dropped samples under overwrite pressure, got %+v", stats.Overflows)
	}
}
