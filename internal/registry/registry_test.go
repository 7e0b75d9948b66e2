package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/sandbox"
)

type fakeSource struct {
	tools []*Tool
}

func (f *fakeSource) AllTools(ctx context.Context) ([]*Tool, error) {
	return f.tools, nil
}

type fakeExecutor struct {
	record *sandbox.ExecutionRecord
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.ExecutionRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func newTestTool(name string) *Tool {
	return &Tool{
		Name:      name,
		Category:  "math",
		Active:    true,
		Code:      "func entry(params map[string]any) (any, error) { return nil, nil }",
		EntryName: "entry",
	}
}

func TestRegistryListAndGet(t *testing.T) {
	src := &fakeSource{tools: []*Tool{newTestTool("add"), newTestTool("subtract")}}
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true, Result: 4.0}}
	reg, err := New(context.Background(), Config{Source: src, Executor: exec})
	require.NoError(t, err)

	defs := reg.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "add", defs[0].Name)

	tool, err := reg.Get("add")
	require.NoError(t, err)
	assert.True(t, tool.Executable())

	_, err = reg.Get("missing")
	assert.Error(t, err)
}

func TestRegistryRejectsManifestMissingCode(t *testing.T) {
	broken := newTestTool("broken")
	broken.Code = ""
	src := &fakeSource{tools: []*Tool{broken}}
	exec := &fakeExecutor{}
	reg, err := New(context.Background(), Config{Source: src, Executor: exec})
	require.NoError(t, err)

	available, unavailable := reg.AvailabilityStatus()
	assert.NotContains(t, available, "broken")
	assert.Contains(t, unavailable, "broken")
}

func TestExecuteQuarantinesAfterThreshold(t *testing.T) {
	src := &fakeSource{tools: []*Tool{newTestTool("flaky")}}
	exec := &fakeExecutor{err: assertErr{}}
	reg, err := New(context.Background(), Config{Source: src, Executor: exec, BugThreshold: 2})
	require.NoError(t, err)

	_, err1 := reg.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err1)
	tool, _ := reg.Get("flaky")
	assert.False(t, tool.Bugged)
	assert.Equal(t, 1, tool.BugCount)

	_, err2 := reg.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err2)
	tool, _ = reg.Get("flaky")
	assert.True(t, tool.Bugged)
	assert.Equal(t, 2, tool.BugCount)

	// A bugged tool is rejected before reaching the executor.
	callsBefore := exec.calls
	_, err3 := reg.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err3)
	assert.Equal(t, callsBefore, exec.calls)
}

func TestClearBugResetsQuarantine(t *testing.T) {
	tool := newTestTool("flaky")
	src := &fakeSource{tools: []*Tool{tool}}
	exec := &fakeExecutor{err: assertErr{}}
	reg, err := New(context.Background(), Config{Source: src, Executor: exec, BugThreshold: 1})
	require.NoError(t, err)

	_, err1 := reg.Execute(context.Background(), "flaky", nil)
	require.Error(t, err1)
	live, _ := reg.Get("flaky")
	require.True(t, live.Bugged)

	require.NoError(t, reg.ClearBug("flaky"))
	live, _ = reg.Get("flaky")
	assert.False(t, live.Bugged)
	assert.Equal(t, 1, live.BugCount)
	assert.Len(t, live.FailureLog, 1)
}

func TestReloadSwapsTableAtomically(t *testing.T) {
	src := &fakeSource{tools: []*Tool{newTestTool("add")}}
	exec := &fakeExecutor{record: &sandbox.ExecutionRecord{Success: true}}
	reg, err := New(context.Background(), Config{Source: src, Executor: exec})
	require.NoError(t, err)
	require.Len(t, reg.List(), 1)

	src.tools = []*Tool{newTestTool("add"), newTestTool("multiply")}
	require.NoError(t, reg.Reload(context.Background()))
	assert.Len(t, reg.List(), 2)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
