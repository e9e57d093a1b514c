package errors

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker tripping after 2 failures
	cb := NewCircuitBreaker("lexical", WithMaxFailures(2), WithResetTimeout(time.Hour))
	fail := errors.New("statement timeout")

	// When: two calls fail
	assert.ErrorIs(t, cb.Execute(func() error { return fail }), fail)
	assert.ErrorIs(t, cb.Execute(func() error { return fail }), fail)

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.False(t, called)
	assert.True(t, HasCode(err, ErrCodeCircuitOpen))
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	// Given: an open breaker with a short reset timeout
	cb := NewCircuitBreaker("vector", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	// When: the timeout elapses and the probe succeeds
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Then: the breaker is closed again
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("vector", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecute_ReturnsResult(t *testing.T) {
	cb := NewCircuitBreaker("vector")

	got, err := CircuitExecute(cb, func() (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb := NewCircuitBreaker("lexical", WithMaxFailures(1000))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return errors.New("flaky")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
