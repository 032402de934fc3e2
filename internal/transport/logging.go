// SPDX-License-Identifier: MIT
package transport

import (
	"math"

	"wavecore/internal/goda"
	applog "wavecore/internal/log"
)

// LoggingPublisher summarizes each result on the application log. Useful
// for headless runs and as a default when no network publisher is
// configured.
type LoggingPublisher struct{}

func NewLoggingPublisher() *LoggingPublisher {
	applog.Infof("Transport: Using logging publisher")
	return &LoggingPublisher{}
}

// Publish logs the reflection coefficient and the dominant incident
// component. It never fails.
func (lp *LoggingPublisher) Publish(result *goda.Result) error {
	peak := -1
	best := math.Inf(-1)
	for i, v := range result.Incident {
		if !math.IsNaN(v) && v > best {
			best = v
			peak = i
		}
	}
	if peak < 0 {
		applog.Infof("Analysis: no valid bins (invalid=%d)", result.InvalidBins)
		return nil
	}
	applog.Infof("Analysis: Kr=%.3f, peak %.3f Hz (Hi=%.4f m), invalid bins=%d",
		result.ReflectionCoeff,
		result.Frequencies[peak],
		2*math.Sqrt(2*result.Incident[peak]), // a²/2 back to wave height H = 2a
		result.InvalidBins)
	return nil
}

func (lp *LoggingPublisher) Close() error { return nil }

var _ Publisher = (*LoggingPublisher)(nil)
