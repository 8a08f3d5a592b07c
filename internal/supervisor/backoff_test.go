package supervisor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 2*time.Second, NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, 4*time.Second, NextBackoffDelay(cfg, 3, nil))
	assert.Equal(t, 8*time.Second, NextBackoffDelay(cfg, 4, nil))
	assert.Equal(t, 10*time.Second, NextBackoffDelay(cfg, 5, nil))
	assert.Equal(t, 10*time.Second, NextBackoffDelay(cfg, 50, nil))
}

func TestNextBackoffDelayMultiplierFloor(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 0.5}
	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 3, nil))
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	cfg := BackoffConfig{Multiplier: 2}
	assert.Zero(t, NextBackoffDelay(cfg, 1, nil))
	assert.Zero(t, NextBackoffDelay(cfg, 4, nil))
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= 8; attempt++ {
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, MaxDelay: cfg.MaxDelay, Multiplier: cfg.Multiplier}, attempt, nil)
		for i := 0; i < 20; i++ {
			d := NextBackoffDelay(cfg, attempt, rng)
			assert.GreaterOrEqual(t, d, base/2, "attempt %d", attempt)
			assert.Less(t, d, base*3/2, "attempt %d", attempt)
		}
	}
}
