package keypool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyCredentials(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAcquireRoundRobin(t *testing.T) {
	p, err := New(Config{
		Credentials:         []string{"a", "b", "c"},
		MinInterval:         time.Millisecond,
		PostSuccessCooldown: 0,
	})
	require.NoError(t, err)

	seen := []string{}
	for i := 0; i < 6; i++ {
		acq, err := p.Acquire(context.Background())
		require.NoError(t, err)
		seen = append(seen, acq.Credential)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	p, err := New(Config{
		Credentials: []string{"a", "b"},
		MinInterval: 40 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestReportFailureCooldownSkipsCredential(t *testing.T) {
	p, err := New(Config{
		Credentials: []string{"a", "b"},
		MinInterval: time.Millisecond,
		Cooldown:    time.Hour,
	})
	require.NoError(t, err)

	acq, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", acq.Credential)

	p.ReportFailure(acq.Ordinal, errors.New("429 rate limit"))

	next, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", next.Credential)

	next2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", next2.Credential, "a should remain cooling")
}

func TestAcquireAllCoolingFailsWhenContextExpires(t *testing.T) {
	p, err := New(Config{
		Credentials: []string{"a"},
		MinInterval: time.Millisecond,
		Cooldown:    time.Hour,
	})
	require.NoError(t, err)

	acq, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.ReportFailure(acq.Ordinal, errors.New("503 overload"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.Error(t, err)
}

func TestReportSuccessClearsCooldown(t *testing.T) {
	p, err := New(Config{
		Credentials:         []string{"a", "b"},
		MinInterval:         time.Millisecond,
		Cooldown:            time.Hour,
		PostSuccessCooldown: time.Millisecond,
	})
	require.NoError(t, err)

	acq, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.ReportFailure(acq.Ordinal, errors.New("429"))
	p.ReportSuccess(acq.Ordinal)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Credential, "cooldown cleared by ReportSuccess")
}
