package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {

	assert := assert.New(t)

	b := NewBackoff(BackoffConfig{Min: time.Second, Max: 60 * time.Second, Multiplier: 2})
	expected := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, e := range expected {
		assert.Equal(e*time.Second, b.Next(), "attempt %d", i+1)
	}
	assert.Equal(len(expected), b.Attempts())

	b.Reset()
	assert.Equal(0, b.Attempts())
	assert.Equal(time.Second, b.Next())
}

func TestBackoffJitter(t *testing.T) {

	assert := assert.New(t)

	b := NewBackoff(BackoffConfig{Min: time.Second, Max: 8 * time.Second, Jitter: 0.25})
	for i := 0; i < 20; i++ {
		base := b.Current()
		d := b.Next()
		assert.GreaterOrEqual(d, base)
		assert.LessOrEqual(d, base+base/4)
	}
}

func TestBackoffDefaults(t *testing.T) {

	assert := assert.New(t)

	b := NewBackoff(BackoffConfig{Jitter: 3})
	assert.Equal(DEFAULT_BACKOFF_MIN, b.Current())
	d := b.Next()
	assert.LessOrEqual(d, 2*DEFAULT_BACKOFF_MIN)
	assert.Equal(DEFAULT_BACKOFF_MIN, b.Current(), "max defaults to min")
}
