package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(err error) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return "", err }
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), b, failing(eris.New("boom")))
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State())

	// Calls are now rejected without executing fn.
	called := false
	_, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	_, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second}).
		WithNow(func() time.Time { return now })

	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())

	// Successful probe closes the circuit.
	_, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second}).
		WithNow(func() time.Time { return now })

	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	now = now.Add(time.Minute)

	_, err := Execute(context.Background(), b, failing(eris.New("still down")))
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker(CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = Execute(context.Background(), b, failing(eris.New("boom")))
	b.Reset()

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}
