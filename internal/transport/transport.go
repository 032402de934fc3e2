// SPDX-License-Identifier: MIT

// Package transport delivers analysis results to consumers outside the
// acquisition process: a WebSocket broadcast for dashboards, a compact UDP
// feed for wave-maker controllers, and a logging publisher for headless
// runs. Publishers must never block the analysis cadence; slow consumers
// lose results rather than stalling the engine.
package transport

import (
	"errors"

	"wavecore/internal/goda"
)

// Publisher consumes analysis results. Implementations must be safe to
// call from the analysis goroutine and must not retain the Result past the
// Publish call unless they copy it.
type Publisher interface {
	Publish(result *goda.Result) error
	Close() error
}

// Multi fans one result out to several publishers. Publish attempts every
// publisher even when some fail and returns the joined errors.
type Multi struct {
	publishers []Publisher
}

// NewMulti builds a fan-out over the given publishers. Nil entries are
// skipped.
func NewMulti(publishers ...Publisher) *Multi {
	m := &Multi{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *Multi) Publish(result *goda.Result) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = (*Multi)(nil)
