package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          20 * time.Millisecond,
	}, nil)

	boom := errors.New("boom")
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))

	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.True(t, IsDegraded(err))
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	}, nil)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerManagerReusesNamedBreakers(t *testing.T) {
	m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig(), nil)
	a := m.Get("tool-a")
	b := m.Get("tool-a")
	assert.Same(t, a, b)

	c := m.Get("tool-b")
	assert.NotSame(t, a, c)
}
