package toolstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/sandbox"
)

type fakeExecutor struct {
	record *sandbox.ExecutionRecord
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.ExecutionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func TestExecuteRecordsSuccessBookkeeping(t *testing.T) {
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true, Result: 4.0}}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))
	defer s.Close()

	rec, err := s.Execute(context.Background(), "add", map[string]any{"a": 2.0, "b": 2.0})
	require.NoError(t, err)
	assert.True(t, rec.Success)

	tool, _ := s.Get("add")
	assert.Equal(t, 1, tool.ExecutionCount)
}

func TestExecuteQuarantinesAfterThreshold(t *testing.T) {
	exec := &fakeExecutor{err: plainErr("boom")}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("flaky")))
	defer s.Close()

	_, err1 := s.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err1)
	tool, _ := s.Get("flaky")
	assert.False(t, tool.Bugged)

	_, err2 := s.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err2)
	tool, _ = s.Get("flaky")
	assert.True(t, tool.Bugged)
}

func TestExecuteRejectsBuggedTool(t *testing.T) {
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true}}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	tool := newTool("broken")
	require.NoError(t, s.Create(context.Background(), tool))
	require.NoError(t, s.MarkBugged("broken", "known unsafe"))
	defer s.Close()

	_, err = s.Execute(context.Background(), "broken", nil)
	assert.Error(t, err)
}

func TestExecuteRejectsDepthOverflow(t *testing.T) {
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true}}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))
	defer s.Close()

	ctx := withDepth(context.Background(), MaxCompositeDepth+1)
	_, err = s.Execute(ctx, "add", nil)
	assert.Error(t, err)
}

func TestCallbackServerEnforcesDepthLimit(t *testing.T) {
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true}}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))
	defer s.Close()

	url, err := s.ensureCallbackServer()
	require.NoError(t, err)

	body, _ := json.Marshal(callbackRequest{Name: "add", Params: nil, Depth: MaxCompositeDepth})
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out callbackResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "depth")
}

func TestCallbackServerInvokesToolSuccessfully(t *testing.T) {
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true, Result: 7.0}}
	s, err := New(Config{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))
	defer s.Close()

	url, err := s.ensureCallbackServer()
	require.NoError(t, err)

	body, _ := json.Marshal(callbackRequest{Name: "add", Params: map[string]any{"a": 3.0, "b": 4.0}, Depth: 0})
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out callbackResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, 7.0, out.Result)
}

type plainErr string

func (e plainErr) Error() string { return string(e) }
