package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-gateway/internal/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)
	return logger
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(newTestLogger(t), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := Retry(newTestLogger(t), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	initial := time.Second
	max := 60 * time.Second

	for attempt, want := range []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	} {
		got := Backoff(initial, max, attempt)
		assert.GreaterOrEqual(t, got, want, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want+want/5, "attempt %d jitter bound", attempt)
	}

	// Far past the cap the delay stays bounded by max plus jitter.
	got := Backoff(initial, max, 30)
	assert.GreaterOrEqual(t, got, max)
	assert.LessOrEqual(t, got, max+max/5)
}
