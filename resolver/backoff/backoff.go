// Package backoff implements the jittered exponential backoff the channel
// applies between resolver re-iteration attempts (§4.4: "waits with
// exponential backoff, then acquires a new iterator"). Jitter is drawn
// from github.com/valyala/fastrand, the same non-cryptographic generator
// the teacher's http2utils package uses for padding-length jitter.
package backoff

import (
	"time"

	"github.com/valyala/fastrand"
)

// Config mirrors the well-known gRPC backoff strategy knobs.
type Config struct {
	BaseDelay  time.Duration
	Multiplier float64
	Jitter     float64
	MaxDelay   time.Duration
}

// DefaultConfig matches the backoff grpc uses between connection attempts
// and resolver re-iteration.
var DefaultConfig = Config{
	BaseDelay:  1 * time.Second,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   120 * time.Second,
}

// Strategy computes successive backoff durations for retry attempts
// starting at 0.
type Strategy struct {
	cfg Config
}

// New builds a Strategy from cfg.
func New(cfg Config) *Strategy {
	return &Strategy{cfg: cfg}
}

// Backoff returns the delay to wait before retry number attempt (0-based).
func (s *Strategy) Backoff(attempt int) time.Duration {
	if attempt == 0 {
		return s.jitter(s.cfg.BaseDelay)
	}

	backoff, max := float64(s.cfg.BaseDelay), float64(s.cfg.MaxDelay)
	for backoff < max && attempt > 0 {
		backoff *= s.cfg.Multiplier
		attempt--
	}
	if backoff > max {
		backoff = max
	}

	return s.jitter(time.Duration(backoff))
}

func (s *Strategy) jitter(d time.Duration) time.Duration {
	if s.cfg.Jitter <= 0 {
		return d
	}

	delta := s.cfg.Jitter * float64(d)
	// fastrand.Uint32 scaled to [0, 1) picks a point in the 2*delta spread,
	// centering the result around d by sampling in [d-delta, d+delta).
	frac := float64(fastrand.Uint32()) / (1 << 32)

	return time.Duration(float64(d) - delta + frac*2*delta)
}
