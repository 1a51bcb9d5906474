package connection

import (
	"math"
	"time"
)

// Backoff returns the un-jittered delay before retry number attempt (1-based):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Delay applies jitter to Backoff(attempt). r is a uniform sample in [0, 1);
// the result lies in [delay*(1-JitterRatio), delay*(1+JitterRatio)], floored at 0.
func (p ReconnectPolicy) Delay(attempt int, r float64) time.Duration {
	delay := p.Backoff(attempt)
	jitter := (2*r - 1) * p.JitterRatio * float64(delay)

	d := time.Duration(float64(delay) + jitter)
	if d < 0 {
		return 0
	}
	return d
}

// Exhausted reports whether attempts has reached the retry cap.
func (p ReconnectPolicy) Exhausted(attempts int) bool {
	return p.MaxRetries > 0 && attempts >= p.MaxRetries
}
