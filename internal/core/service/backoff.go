package service

import (
	"math/rand"
	"time"
)

const (
	DEFAULT_BACKOFF_MIN        = 1 * time.Second
	DEFAULT_BACKOFF_MAX        = 60 * time.Second
	DEFAULT_BACKOFF_MULTIPLIER = 2.0
)

type BackoffConfig struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the base delay added at random, [0, 1]
}

// Backoff computes reconnect delays. It is owned by a single session actor and is not safe for
// concurrent use.
type Backoff struct {
	cfg      BackoffConfig
	current  time.Duration
	attempts int
	rng      *rand.Rand
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Min <= 0 {
		cfg.Min = DEFAULT_BACKOFF_MIN
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DEFAULT_BACKOFF_MULTIPLIER
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return &Backoff{
		cfg:     cfg,
		current: cfg.Min,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the jittered delay for the current attempt and advances the base delay.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	if b.cfg.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.cfg.Jitter * b.rng.Float64())
	}
	b.attempts++
	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next
	return delay
}

// Current is the next base delay, without jitter.
func (b *Backoff) Current() time.Duration {
	return b.current
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) Reset() {
	b.current = b.cfg.Min
	b.attempts = 0
}
