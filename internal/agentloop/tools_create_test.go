package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/registry"
)

func TestProcessCreateToolRejectedWithoutPriorFetch(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	llm := &scriptedLLM{replies: []string{
		`{"state":"create_tool","reasoning":"just make one","action":{"name":"double","description":"doubles a number","code":"result := params[\"n\"]"}}`,
		`{"state":"exit_response","reasoning":"gave up","action":{"final_answer":"could not create"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "make me a doubling tool")
	assert.True(t, res.Success)
	assert.False(t, res.Actions[0].Success)
	assert.Contains(t, res.Actions[0].Error, "search for existing tools first")

	_, getErr := reg.Get("double")
	assert.Error(t, getErr, "tool must not have been registered")
}

func TestProcessCreateToolAcceptedAfterFetch(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	llm := &scriptedLLM{replies: []string{
		`{"state":"fetch_tool","reasoning":"look first","action":{"query":"doubling"}}`,
		`{"state":"create_tool","reasoning":"none found","action":{"name":"double","description":"doubles a number","code":"result := params[\"n\"]"}}`,
		`{"state":"exit_response","reasoning":"done","action":{"final_answer":"created"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "make me a doubling tool")
	assert.True(t, res.Success)
	assert.True(t, res.Actions[1].Success)

	tool, getErr := reg.Get("double")
	require.NoError(t, getErr)
	assert.True(t, tool.Active)
}

func TestProcessAnalyzeCompositeFlagsNextCreateTool(t *testing.T) {
	speedUpTimers(t)
	store, reg, eng := newHarness(t, &stubExecutor{})
	require.NoError(t, store.Create(context.Background(), &registry.Tool{
		Name: "add", Description: "adds two numbers", Active: true,
		Code: "func add(params map[string]any) (any, error) { return 0, nil }", EntryName: "add",
	}))
	require.NoError(t, reg.Reload(context.Background()))

	llm := &scriptedLLM{replies: []string{
		`{"state":"fetch_tool","reasoning":"look first","action":{"query":"add"}}`,
		`{"state":"analyze_tools_for_composite","reasoning":"inspect add","action":{"tool_names":["add"]}}`,
		`{"state":"create_tool","reasoning":"wrap add twice","action":{"name":"double_add","description":"adds twice via add"}}`,
		`{"state":"exit_response","reasoning":"done","action":{"final_answer":"created"}}`,
	}}
	loop, err := New(Config{LLM: llm, Registry: reg, Store: store, Search: eng})
	require.NoError(t, err)

	res := loop.Process(context.Background(), "make a composite adder")
	assert.True(t, res.Success)

	assert.False(t, res.Actions[2].Success, "composite-required create without executeTool(...) in generated code must be rejected")
	assert.Contains(t, res.Actions[2].Error, "must call executeTool")
}

func TestClearBugPreservesFailureHistory(t *testing.T) {
	tool := &registry.Tool{Name: "flaky", Bugged: true, BugCount: 3, FailureLog: []registry.FailureEntry{
		{Error: "boom"}, {Error: "boom again"}, {Error: "boom thrice"},
	}}
	registry.ClearBug(tool)
	assert.False(t, tool.Bugged)
	assert.Equal(t, 3, tool.BugCount)
	assert.Len(t, tool.FailureLog, 3)
}
