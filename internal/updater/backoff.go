package updater

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff between
// update attempts.
type BackoffConfig struct {
	Initial    time.Duration // first retry delay (default: 2s)
	Max        time.Duration // cap (default: 60s)
	Multiplier float64       // growth per attempt (default: 2)
	JitterPct  float64       // jitter as a fraction of the delay (default: 0.4 = ±20%)
}

// DefaultBackoffConfig returns the delays used for steamcmd retries.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		JitterPct:  0.4,
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff. The seed makes the jitter reproducible.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// JitterPct=0.4 means ±20%
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Attempts returns how many delays Next has handed out.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Retryable reports whether a failed steamcmd run is worth retrying.
// steamcmd exits 0 on success and uses small positive codes for transient
// download and login failures; a signal exit means someone stopped us.
func Retryable(exitCode int) bool {
	return exitCode > 0 && exitCode < 128
}
