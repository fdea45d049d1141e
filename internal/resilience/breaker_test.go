package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration, now *time.Time) *Breaker {
	b := NewBreaker("postgis", BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown})
	b.nowFunc = func() time.Time { return *now }
	return b
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(3, time.Minute, &now)

	require.NoError(t, b.Allow())
	b.Record(assert.AnError)
	b.Record(assert.AnError)
	assert.Equal(t, BreakerClosed, b.State())

	b.Record(assert.AnError)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(3, time.Minute, &now)

	b.Record(assert.AnError)
	b.Record(assert.AnError)
	b.Record(nil)
	b.Record(assert.AnError)
	b.Record(assert.AnError)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(1, time.Minute, &now)

	b.Record(assert.AnError)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// Cool-down elapsed: one probe admitted.
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	t.Run("failed probe re-opens", func(t *testing.T) {
		b.Record(assert.AnError)
		assert.Equal(t, BreakerOpen, b.State())
		assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
	})

	t.Run("successful probe closes", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		require.NoError(t, b.Allow())
		b.Record(nil)
		assert.Equal(t, BreakerClosed, b.State())
	})
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("postgis", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(source string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	b.Record(assert.AnError)
	b.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestBreakerDo(t *testing.T) {
	b := NewBreaker("postgis", BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	err := b.Do(context.Background(), func(context.Context) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	// Tripped: fn must not run.
	ran := false
	err = b.Do(context.Background(), func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, ran)
}

func TestBreakerSetSharesPerSource(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	assert.Same(t, set.Get("postgis"), set.Get("postgis"))
	assert.NotSame(t, set.Get("postgis"), set.Get("layers"))

	set.Get("postgis").Record(assert.AnError)
	states := set.States()
	assert.Equal(t, BreakerOpen, states["postgis"])
	assert.Equal(t, BreakerClosed, states["layers"])
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, JitterFraction: 0}

	attempts := 0
	got, err := RetryVal(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", assert.AnError
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, JitterFraction: 0}

	attempts := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, attempts)
}

func TestRetryHonorsShouldRetry(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		ShouldRetry:    func(error) bool { return false },
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Millisecond}

	attempts := 0
	err := Retry(ctx, cfg, func(context.Context) error {
		attempts++
		cancel()
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
