package ragindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/registry"
)

func TestIndexBuildAndQueryFindsBestMatch(t *testing.T) {
	idx, err := New(nil)
	require.NoError(t, err)

	tools := []*registry.Tool{
		{Name: "calculate_factorial", Description: "computes the factorial of an integer"},
		{Name: "fetch_weather", Description: "retrieves current weather for a city"},
	}
	require.NoError(t, idx.Build(context.Background(), tools))

	names, err := idx.Query(context.Background(), "factorial of a number", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"calculate_factorial"}, names)
}

func TestIndexQueryOnEmptyIndexReturnsNil(t *testing.T) {
	idx, err := New(nil)
	require.NoError(t, err)

	names, err := idx.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, names)
}
