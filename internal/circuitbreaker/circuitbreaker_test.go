package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/paygate/internal/gateway"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		b.RecordFailure(gateway.KindMellat)
		assert.True(t, b.Allow(gateway.KindMellat))
	}
	b.RecordFailure(gateway.KindMellat)

	assert.Equal(t, Open, b.StateOf(gateway.KindMellat))
	assert.False(t, b.Allow(gateway.KindMellat))
}

func TestBreakerKindsAreIndependent(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Hour})

	b.RecordFailure(gateway.KindMellat)
	assert.False(t, b.Allow(gateway.KindMellat))
	assert.True(t, b.Allow(gateway.KindSaman))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 2, OpenTimeout: time.Hour})

	b.RecordFailure(gateway.KindMellat)
	b.RecordSuccess(gateway.KindMellat)
	b.RecordFailure(gateway.KindMellat)

	assert.Equal(t, Closed, b.StateOf(gateway.KindMellat))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond, HalfOpenSuccesses: 2})

	b.RecordFailure(gateway.KindMellat)
	assert.Equal(t, Open, b.StateOf(gateway.KindMellat))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow(gateway.KindMellat), "an expired circuit lets one probe through")
	assert.Equal(t, HalfOpen, b.StateOf(gateway.KindMellat))

	b.RecordSuccess(gateway.KindMellat)
	assert.Equal(t, HalfOpen, b.StateOf(gateway.KindMellat))
	b.RecordSuccess(gateway.KindMellat)
	assert.Equal(t, Closed, b.StateOf(gateway.KindMellat))
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Millisecond})

	b.RecordFailure(gateway.KindMellat)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow(gateway.KindMellat))

	b.RecordFailure(gateway.KindMellat)
	assert.Equal(t, Open, b.StateOf(gateway.KindMellat))
}
