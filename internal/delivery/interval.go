package delivery

import (
	"time"

	"brand-diagnosis/internal/pipeline"
)

const (
	DefaultMinPollInterval = 150 * time.Millisecond
	DefaultMaxPollInterval = 2 * time.Second

	referenceRTT = 100 * time.Millisecond
)

// NextPollInterval computes the delay before the next status request. The base
// interval shrinks as the run nears completion and scales with the last round
// trip, clamped to the default bounds.
func NextPollInterval(progress int, stage string, lastRTT time.Duration) time.Duration {
	return pollInterval(progress, stage, lastRTT, DefaultMinPollInterval, DefaultMaxPollInterval)
}

func pollInterval(progress int, stage string, lastRTT, min, max time.Duration) time.Duration {
	if cp, ok := pipeline.Checkpoint(stage); ok && cp > progress {
		progress = cp
	}

	var base time.Duration
	switch {
	case progress < 10:
		base = 800 * time.Millisecond
	case progress < 30:
		base = 500 * time.Millisecond
	case progress < 70:
		base = 400 * time.Millisecond
	case progress < 90:
		base = 300 * time.Millisecond
	default:
		base = 200 * time.Millisecond
	}

	factor := 1.0
	if lastRTT > 0 {
		factor = float64(lastRTT) / float64(referenceRTT)
	}
	switch {
	case factor < 0.3:
		factor = 0.3
	case factor > 1.2:
		factor = 1.2
	}

	interval := time.Duration(float64(base) * factor)
	if interval < min {
		return min
	}
	if interval > max {
		return max
	}
	return interval
}
