package toolstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/registry"
)

func newTool(name string) *registry.Tool {
	return &registry.Tool{
		Name:      name,
		Category:  "math",
		Active:    true,
		Code:      "func entry(params map[string]any) (any, error) { return nil, nil }",
		EntryName: "entry",
	}
}

func TestStoreCreateGetList(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Create(context.Background(), newTool("add")))
	require.Error(t, s.Create(context.Background(), newTool("add"))) // duplicate name rejected

	tool, err := s.Get("add")
	require.NoError(t, err)
	assert.True(t, tool.Active)

	list := s.List(ListFilter{})
	assert.Len(t, list, 1)
}

func TestStoreUpdateRecordsAuditDiff(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))

	err = s.Update(context.Background(), "add", func(tool *registry.Tool) {
		tool.Code = "func entry(params map[string]any) (any, error) { return 1, nil }"
	})
	require.NoError(t, err)

	audit := s.Audit()
	require.Len(t, audit, 2) // created + updated
	assert.Equal(t, "updated", audit[1].Action)
	assert.NotEmpty(t, audit[1].CodeDiff)
}

func TestStoreDeleteRemovesTool(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))
	require.NoError(t, s.Delete(context.Background(), "add"))

	_, err = s.Get("add")
	assert.Error(t, err)
}

func TestStoreSearchFuzzy(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	addTool := newTool("calculate_sum")
	addTool.Description = "adds a list of numbers together"
	require.NoError(t, s.Create(context.Background(), addTool))
	webTool := newTool("web_search")
	webTool.Description = "search the internet"
	require.NoError(t, s.Create(context.Background(), webTool))

	results := s.Search("calculate numbers", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "calculate_sum", results[0].Name)
}

func TestStoreAllToolsImplementsRegistrySource(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newTool("add")))

	var src registry.Source = s
	tools, err := src.AllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
}
