package llmclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alexerrors "alex/internal/errors"
)

type fakeProvider struct {
	calls   int32
	reply   string
	failN   int32 // fail this many calls before succeeding
	failErr error
}

func (f *fakeProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failN {
		return "", f.failErr
	}
	return f.reply, nil
}

func fastRetry() alexerrors.RetryConfig {
	return alexerrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
}

func TestClientCompleteSucceedsFirstTry(t *testing.T) {
	p := &fakeProvider{reply: "hello"}
	c, err := New(context.Background(), Config{
		Credentials:         []string{"key-1"},
		Retry:               fastRetry(),
		PostSuccessCooldown: time.Millisecond,
		NewProvider:         func(ctx context.Context, apiKey string) (Provider, error) { return p, nil },
	})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestClientCompleteRetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{reply: "done", failN: 2, failErr: fmt.Errorf("503 service unavailable")}
	c, err := New(context.Background(), Config{
		Credentials:         []string{"key-1", "key-2"},
		MinInterval:         time.Millisecond,
		Cooldown:            time.Millisecond,
		PostSuccessCooldown: time.Millisecond,
		Retry:               fastRetry(),
		NewProvider:         func(ctx context.Context, apiKey string) (Provider, error) { return p, nil },
	})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestClientCompleteFailsFatalWithoutRetry(t *testing.T) {
	p := &fakeProvider{failN: 100, failErr: fmt.Errorf("401 unauthorized")}
	c, err := New(context.Background(), Config{
		Credentials:         []string{"key-1"},
		Retry:               fastRetry(),
		PostSuccessCooldown: time.Millisecond,
		NewProvider:         func(ctx context.Context, apiKey string) (Provider, error) { return p, nil },
	})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, alexerrors.Is(err, alexerrors.KindLLMFatal))
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestClientNoCredentialsErrors(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
