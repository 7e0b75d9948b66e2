package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	rec *ExecutionRecord
	err error
}

func (s *stubExecutor) Execute(ctx context.Context, req Request) (*ExecutionRecord, error) {
	return s.rec, s.err
}

func TestFallbackExecutorUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubExecutor{rec: &ExecutionRecord{Success: true, ExecutedInSandbox: true}}
	fallback := &stubExecutor{rec: &ExecutionRecord{Success: true, ExecutedInSandbox: false}}
	e := NewFallbackExecutor(primary, fallback, nil)

	rec, err := e.Execute(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, rec.ExecutedInSandbox)
	assert.False(t, rec.DockerFallback)
}

func TestFallbackExecutorFallsBackOnSubstrateError(t *testing.T) {
	primary := &stubExecutor{err: &SubstrateError{Reason: "docker unreachable"}}
	fallback := &stubExecutor{rec: &ExecutionRecord{Success: true}}
	e := NewFallbackExecutor(primary, fallback, nil)

	rec, err := e.Execute(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, rec.DockerFallback)
}

func TestFallbackExecutorDoesNotFallBackOnToolError(t *testing.T) {
	primary := &stubExecutor{rec: &ExecutionRecord{Success: false, Error: "division by zero"}}
	fallback := &stubExecutor{rec: &ExecutionRecord{Success: true}}
	e := NewFallbackExecutor(primary, fallback, nil)

	rec, err := e.Execute(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "division by zero", rec.Error)
}
