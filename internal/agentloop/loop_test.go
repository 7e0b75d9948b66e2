package agentloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/registry"
	"alex/internal/sandbox"
	"alex/internal/search"
	"alex/internal/toolstore"
)

type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if s.calls >= len(s.replies) {
		return `{"state":"exit_response","reasoning":"out of script","action":{"final_answer":"done"}}`, nil
	}
	r := s.replies[s.calls]
	s.calls++
	return r, nil
}

type stubExecutor struct {
	rec *sandbox.ExecutionRecord
	err error
}

func (e *stubExecutor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.ExecutionRecord, error) {
	return e.rec, e.err
}

func newHarness(t *testing.T, executor sandbox.Executor) (*toolstore.Store, *registry.Registry, *search.Engine) {
	t.Helper()
	store, err := toolstore.New(toolstore.Config{Executor: executor})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := registry.New(context.Background(), registry.Config{Source: store, Executor: executor})
	require.NoError(t, err)

	eng := search.New(nil)
	return store, reg, eng
}

func speedUpTimers(t *testing.T) {
	t.Helper()
	orig := timeAfter
	timeAfter = func(d time.Duration) <-chan time.Time { return orig(time.Millisecond) }
	t.Cleanup(func() { timeAfter = orig })
}

func TestProcessExitResponseEndsLoopImmediately(t *testing.T) {
	speedUpTimers(t)
	_, reg, eng := newHarness(t, &stubExecutor{})
	llm := &scriptedLLM{replies: []string{
		`{"state":"exit_response","reasoning":"done thinking","action":{"final_answer":"the answer is 4"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: nil, Search: eng})
	require.Error(t, err) // Store is required

	store, reg2, eng2 := newHarness(t, &stubExecutor{})
	loop, err = New(Config{LLM: llm, Registry: reg2, Store: store, Search: eng2})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "what is 2+2?")
	assert.True(t, res.Success)
	assert.Equal(t, "the answer is 4", res.Response)
	assert.Equal(t, 1, res.Iterations)
}

func TestProcessRespondDoesNotTerminateLoop(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	llm := &scriptedLLM{replies: []string{
		`{"state":"respond","reasoning":"quick guess","action":{"final_answer":"maybe 4"}}`,
		`{"state":"exit_response","reasoning":"confirmed","action":{"final_answer":"4"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "what is 2+2?")
	assert.True(t, res.Success)
	assert.Equal(t, "4", res.Response)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "respond", res.Actions[0].State)
	assert.Equal(t, "exit_response", res.Actions[1].State)
}

func TestProcessUseToolInvokesRegistryAndExits(t *testing.T) {
	speedUpTimers(t)
	executor := &stubExecutor{rec: &sandbox.ExecutionRecord{Success: true, Result: 4.0}}
	store, reg, eng := newHarness(t, executor)
	require.NoError(t, store.Create(context.Background(), &registry.Tool{
		Name: "add", Description: "adds two numbers", Active: true,
		RequiredParams: []string{"a", "b"},
	}))
	require.NoError(t, reg.Reload(context.Background()))

	llm := &scriptedLLM{replies: []string{
		`{"state":"use_tool","reasoning":"use add","action":{"tool_name":"add","params":{"a":2,"b":2}}}`,
		`{"state":"exit_response","reasoning":"got result","action":{"final_answer":"4"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "what is 2+2?")
	assert.True(t, res.Success)
	assert.Equal(t, "4", res.Response)
	assert.True(t, res.Actions[0].Success)
	assert.Equal(t, "add", res.Actions[0].ToolName)
}

func TestProcessUseToolQuarantinesAfterTwoFailures(t *testing.T) {
	speedUpTimers(t)
	executor := &stubExecutor{err: assertError("boom")}
	store, reg, eng := newHarness(t, executor)
	require.NoError(t, store.Create(context.Background(), &registry.Tool{
		Name: "flaky", Description: "fails", Active: true,
	}))
	require.NoError(t, reg.Reload(context.Background()))

	llm := &scriptedLLM{replies: []string{
		`{"state":"use_tool","reasoning":"try flaky","action":{"tool_name":"flaky","params":{}}}`,
		`{"state":"exit_response","reasoning":"give up","action":{"final_answer":"could not complete"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "do the flaky thing")
	assert.True(t, res.Success)
	tool, _ := reg.Get("flaky")
	assert.True(t, tool.Bugged)
}

func TestProcessBoundedIterationsWithoutFinalAnswer(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	replies := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, `{"state":"fetch_tool","reasoning":"looking","action":{"query":"nonexistent"}}`)
	}
	llm := &scriptedLLM{replies: replies}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng, MaxIterations: 3})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "impossible question")
	assert.False(t, res.Success)
	assert.Equal(t, "bounded_iterations", res.ErrorType)
	assert.Equal(t, 3, res.Iterations)
}

func TestProcessParseFailureConsumesIterationButContinues(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	llm := &scriptedLLM{replies: []string{
		"not valid json at all",
		`{"state":"exit_response","reasoning":"recovered","action":{"final_answer":"ok"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "question")
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Response)
	assert.Equal(t, "parse_failure", res.History[0].State)
}

type assertError string

func (e assertError) Error() string { return string(e) }
