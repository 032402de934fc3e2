// SPDX-License-Identifier: MIT

/*
Package ring implements the fixed-capacity multi-channel circular buffer that
decouples the acquisition-rate producer from the slower analysis-rate
consumer.

Concurrency model: exactly one writer goroutine and one reader goroutine. The
two cursors are monotonically increasing atomic counters; the backing store is
sized to a power of two so positions reduce to a bitwise mask. No mutexes and
no allocation after construction.

The only cross-thread subtlety is the overwrite-oldest policy: the writer
reclaims space by advancing the read cursor with a CAS *before* it touches the
reclaimed slots, and the reader publishes consumption with a CAS *after* it
has copied its window. A reader whose CAS fails knows the writer reclaimed
part of what it copied and retries on fresher data.
*/
package ring

import (
	"sync/atomic"

	"wavecore/internal/errs"
	"wavecore/pkg/bitint"
)

// Sample constrains the element type of a buffer.
type Sample interface {
	~float32 | ~float64
}

// OverflowPolicy selects what Write does when a block does not fit.
type OverflowPolicy int

const (
	// Reject drops the whole incoming block and reports the overflow to the
	// caller. This is the default policy.
	Reject OverflowPolicy = iota
	// OverwriteOldest discards the oldest unread samples to make room, which
	// is the behavior wanted for continuous real-time display runs.
	OverwriteOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	case OverwriteOldest:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config string to an OverflowPolicy.
func ParsePolicy(name string) (OverflowPolicy, bool) {
	switch name {
	case "reject":
		return Reject, true
	case "overwrite", "overwrite-oldest":
		return OverwriteOldest, true
	default:
		return Reject, false
	}
}

// Counters holds the overflow accounting of a buffer. Overflow is reported
// through these counters and Write's return value, never through errors, so
// continuous acquisition survives transient backpressure.
type Counters struct {
	RejectedBlocks uint64 // whole blocks refused under the Reject policy
	DroppedSamples uint64 // per-channel samples discarded under OverwriteOldest
	BadBlocks      uint64 // blocks refused for shape mismatch
}

// Buffer is a single-producer single-consumer multi-channel ring buffer.
// Capacity is expressed in samples per channel and is fixed for the lifetime
// of the buffer; a new acquisition run gets a new buffer (or a Reset between
// runs, never during one).
type Buffer[T Sample] struct {
	// Cursors live on separate cache lines to avoid false sharing between
	// the producer and consumer cores.
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	rejected  atomic.Uint64
	dropped   atomic.Uint64
	badBlocks atomic.Uint64

	channels int
	capacity uint64 // logical capacity, samples per channel
	mask     uint64 // len(data[ch]) - 1, power-of-2 backing
	policy   OverflowPolicy

	data [][]T
}

// New constructs a buffer for the given channel count and per-channel
// capacity. The backing store is rounded up to a power of two internally but
// the overflow arithmetic uses the requested capacity exactly, so a Reject
// buffer refuses the first sample beyond `capacity` deterministically.
func New[T Sample](channels, capacity int, policy OverflowPolicy) (*Buffer[T], error) {
	if channels <= 0 {
		return nil, errs.Configf("ring: channel count must be positive, got %d", channels)
	}
	if capacity <= 0 {
		return nil, errs.Configf("ring: capacity must be positive, got %d", capacity)
	}
	if policy != Reject && policy != OverwriteOldest {
		return nil, errs.Configf("ring: unknown overflow policy %d", int(policy))
	}

	backing := bitint.NextPowerOfTwo(capacity)
	data := make([][]T, channels)
	for ch := range data {
		data[ch] = make([]T, backing)
	}

	return &Buffer[T]{
		channels: channels,
		capacity: uint64(capacity),
		mask:     uint64(backing - 1),
		policy:   policy,
		data:     data,
	}, nil
}

// Channels returns the configured channel count.
func (b *Buffer[T]) Channels() int { return b.channels }

// Capacity returns the per-channel capacity in samples.
func (b *Buffer[T]) Capacity() int { return int(b.capacity) }

// Policy returns the configured overflow policy.
func (b *Buffer[T]) Policy() OverflowPolicy { return b.policy }

// Available returns the number of unread samples per channel.
// Side-effect free; safe from either goroutine.
func (b *Buffer[T]) Available() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// Fill returns the buffer fill fraction in [0, 1] for status display.
func (b *Buffer[T]) Fill() float64 {
	return float64(b.Available()) / float64(b.capacity)
}

// Overflows returns a snapshot of the overflow counters.
func (b *Buffer[T]) Overflows() Counters {
	return Counters{
		RejectedBlocks: b.rejected.Load(),
		DroppedSamples: b.dropped.Load(),
		BadBlocks:      b.badBlocks.Load(),
	}
}

// Write appends one block shaped [channels][n] to the buffer. It returns
// false when the block is refused: shape mismatch, block larger than the
// whole buffer, or insufficient space under the Reject policy. Under
// OverwriteOldest the oldest unread samples are discarded instead and the
// write succeeds. Producer goroutine only. Never blocks, never allocates.
func (b *Buffer[T]) Write(block [][]T) bool {
	if len(block) != b.channels {
		b.badBlocks.Add(1)
		return false
	}
	n := uint64(len(block[0]))
	for _, row := range block[1:] {
		if uint64(len(row)) != n {
			b.badBlocks.Add(1)
			return false
		}
	}
	if n == 0 {
		return true
	}
	if n > b.capacity {
		// Cannot ever fit, under either policy.
		b.rejected.Add(1)
		return false
	}

	w := b.writePos.Load()
	for {
		r := b.readPos.Load()
		free := b.capacity - (w - r)
		if n <= free {
			break
		}
		if b.policy == Reject {
			b.rejected.Add(1)
			return false
		}
		// Reclaim space before touching the slots. If the CAS loses to the
		// reader consuming concurrently, re-evaluate the free space.
		need := n - free
		if b.readPos.CompareAndSwap(r, r+need) {
			b.dropped.Add(need)
			break
		}
	}

	pos := w & b.mask
	for ch, row := range block {
		dst := b.data[ch]
		first := uint64(len(dst)) - pos
		if first >= n {
			copy(dst[pos:pos+n], row)
		} else {
			copy(dst[pos:], row[:first])
			copy(dst[:n-first], row[first:])
		}
	}
	b.writePos.Store(w + n)
	return true
}

// ReadInto copies the oldest n unread samples per channel into dst, which
// must be shaped [channels][>=n], and consumes them. Returns false without
// touching dst's contents validity if fewer than n samples are available.
// Consumer goroutine only. Never blocks; the caller owns its poll cadence.
func (b *Buffer[T]) ReadInto(dst [][]T, n int) bool {
	if n <= 0 || len(dst) != b.channels {
		return false
	}
	nn := uint64(n)
	for ch := range dst {
		if uint64(len(dst[ch])) < nn {
			return false
		}
	}

	for {
		r := b.readPos.Load()
		w := b.writePos.Load()
		if w-r < nn {
			return false
		}

		pos := r & b.mask
		for ch := range dst {
			src := b.data[ch]
			out := dst[ch][:nn]
			first := uint64(len(src)) - pos
			if first >= nn {
				copy(out, src[pos:pos+nn])
			} else {
				copy(out[:first], src[pos:])
				copy(out[first:], src[:nn-first])
			}
		}

		// The copy is only valid if the writer did not reclaim these slots
		// while we were copying (OverwriteOldest). CAS failure means it did.
		if b.readPos.CompareAndSwap(r, r+nn) {
			return true
		}
	}
}

// Read returns the oldest n unread samples as a freshly allocated window,
// or nil and false if fewer than n samples are available. The caller owns
// the returned window exclusively.
func (b *Buffer[T]) Read(n int) ([][]T, bool) {
	if n <= 0 || uint64(n) > b.writePos.Load()-b.readPos.Load() {
		return nil, false
	}
	dst := make([][]T, b.channels)
	for ch := range dst {
		dst[ch] = make([]T, n)
	}
	if !b.ReadInto(dst, n) {
		return nil, false
	}
	return dst, true
}

// ReadLatest copies the most recently written n samples into dst, skipping
// any older backlog so analysis always operates on the freshest contiguous
// window. Skipped samples are consumed, keeping reads strictly FIFO: the
// buffer never hands out interleaved windows from different time ranges.
func (b *Buffer[T]) ReadLatest(dst [][]T, n int) bool {
	if n <= 0 {
		return false
	}
	nn := uint64(n)
	r := b.readPos.Load()
	w := b.writePos.Load()
	if w-r < nn {
		return false
	}
	if w-r > nn {
		// Best-effort trim; ReadInto re-validates under its own CAS.
		b.readPos.CompareAndSwap(r, w-nn)
	}
	return b.ReadInto(dst, n)
}

// Reset clears cursors and counters. Only valid between acquisition runs,
// when neither the producer nor the consumer goroutine is active.
func (b *Buffer[T]) Reset() {
	b.writePos.Store(0)
	b.readPos.Store(0)
	b.rejected.Store(0)
	b.dropped.Store(0)
	b.badBlocks.Store(0)
}
