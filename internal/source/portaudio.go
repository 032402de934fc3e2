// SPDX-License-Identifier: MIT
package source

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"wavecore/internal/errs"
	applog "wavecore/internal/log"
)

// PortAudioConfig parameterizes a hardware capture source. Probe signals
// arrive as interleaved input channels of the selected device.
type PortAudioConfig struct {
	Device     int // device index, -1 for the system default
	Channels   int
	SampleRate float64
	BlockSize  int
	LowLatency bool
}

// PortAudioSource captures multi-channel blocks from a PortAudio input
// device. The stream callback de-interleaves into pre-allocated block
// buffers and hands them to ReadBlock over a channel; when the consumer
// falls behind, whole blocks are dropped and counted rather than blocking
// the callback.
type PortAudioSource struct {
	cfg     PortAudioConfig
	device  *portaudio.DeviceInfo
	stream  *portaudio.Stream
	blocks  chan [][]float64
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	dropped atomic.Uint64

	// Small pool of block buffers recycled through the channel to keep the
	// callback allocation-free in steady state.
	free chan [][]float64
}

const blockQueueDepth = 8

// NewPortAudio resolves the capture device and validates that it can carry
// the requested channel count. PortAudio must already be initialized.
func NewPortAudio(cfg PortAudioConfig) (*PortAudioSource, error) {
	if cfg.Channels <= 0 {
		return nil, errs.Configf("portaudio source: channel count must be positive, got %d", cfg.Channels)
	}
	if cfg.SampleRate <= 0 {
		return nil, errs.Configf("portaudio source: sample rate must be positive, got %g", cfg.SampleRate)
	}
	if cfg.BlockSize <= 0 {
		return nil, errs.Configf("portaudio source: block size must be positive, got %d", cfg.BlockSize)
	}

	device, err := InputDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, errs.Configf("portaudio source: device %q has %d input channels, need %d",
			device.Name, device.MaxInputChannels, cfg.Channels)
	}

	s := &PortAudioSource{
		cfg:    cfg,
		device: device,
		blocks: make(chan [][]float64, blockQueueDepth),
		done:   make(chan struct{}),
		free:   make(chan [][]float64, blockQueueDepth+2),
	}
	for i := 0; i < blockQueueDepth+2; i++ {
		block := make([][]float64, cfg.Channels)
		for ch := range block {
			block[ch] = make([]float64, cfg.BlockSize)
		}
		s.free <- block
	}
	return s, nil
}

// Start opens and starts the capture stream.
func (s *PortAudioSource) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errs.Configf("portaudio source: already started")
	}

	latency := s.device.DefaultHighInputLatency
	if s.cfg.LowLatency {
		latency = s.device.DefaultLowInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.cfg.Channels,
			Device:   s.device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: s.cfg.BlockSize,
		SampleRate:      s.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.capture)
	if err != nil {
		return err
	}
	s.stream = stream

	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		return err
	}
	applog.Infof("Capturing %d channels from %q at %.0f Hz", s.cfg.Channels, s.device.Name, s.cfg.SampleRate)
	return nil
}

// capture runs on the PortAudio callback thread.
func (s *PortAudioSource) capture(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var block [][]float64
	select {
	case block = <-s.free:
	default:
		s.dropped.Add(1)
		return
	}

	frames := len(in) / s.cfg.Channels
	if frames > s.cfg.BlockSize {
		frames = s.cfg.BlockSize
	}
	for ch := 0; ch < s.cfg.Channels; ch++ {
		dst := block[ch][:frames]
		for i := 0; i < frames; i++ {
			dst[i] = float64(in[i*s.cfg.Channels+ch])
		}
		block[ch] = dst
	}

	select {
	case s.blocks <- block:
	default:
		s.dropped.Add(1)
		s.recycle(block)
	}
}

// ReadBlock returns the next captured block. The returned slices are only
// valid until the subsequent ReadBlock call, which recycles them.
func (s *PortAudioSource) ReadBlock() ([][]float64, error) {
	select {
	case block := <-s.blocks:
		return block, nil
	case <-s.done:
		// Drain anything the callback queued before the stream stopped.
		select {
		case block := <-s.blocks:
			return block, nil
		default:
			return nil, io.EOF
		}
	}
}

// Recycle returns a consumed block to the callback's buffer pool.
func (s *PortAudioSource) Recycle(block [][]float64) { s.recycle(block) }

func (s *PortAudioSource) recycle(block [][]float64) {
	for ch := range block {
		block[ch] = block[ch][:cap(block[ch])]
	}
	select {
	case s.free <- block:
	default:
	}
}

// Stop stops and closes the stream and unblocks pending ReadBlock calls.
func (s *PortAudioSource) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			return err
		}
		if err := s.stream.Close(); err != nil {
			return err
		}
		s.stream = nil
	}
	if n := s.dropped.Load(); n > 0 {
		applog.Warnf("Capture dropped %d blocks (consumer too slow)", n)
	}
	return nil
}

func (s *PortAudioSource) Channels() int { return s.cfg.Channels }

func (s *PortAudioSource) SampleRate() float64 { return s.cfg.SampleRate }

// DroppedBlocks reports blocks discarded because the consumer fell behind.
func (s *PortAudioSource) DroppedBlocks() uint64 { return s.dropped.Load() }
