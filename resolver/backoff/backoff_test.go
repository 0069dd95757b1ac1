package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsThenCaps(t *testing.T) {
	s := New(Config{
		BaseDelay:  10 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0,
		MaxDelay:   100 * time.Millisecond,
	})

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := s.Backoff(attempt)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, Multiplier: 1, Jitter: 0.5, MaxDelay: time.Second}
	s := New(cfg)

	for i := 0; i < 200; i++ {
		d := s.Backoff(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
