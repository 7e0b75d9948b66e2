package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alex/internal/registry"
)

func sampleTools() []*registry.Tool {
	return []*registry.Tool{
		{
			Name:           "calculate_sum",
			Category:       "math",
			Description:    "Add a list of numbers together and return the sum",
			Tags:           []string{"math", "arithmetic"},
			RequiredParams: []string{"numbers"},
		},
		{
			Name:           "web_search",
			Category:       "web",
			Description:    "Search the internet for a query and return results",
			Tags:           []string{"web", "search"},
			RequiredParams: []string{"query"},
		},
		{
			Name:           "convert_temperature",
			Category:       "conversion",
			Description:    "Convert a temperature between celsius, fahrenheit, and kelvin",
			Tags:           []string{"temperature", "convert"},
			RequiredParams: []string{"value", "from_unit", "to_unit"},
		},
	}
}

func TestSearchRanksMostRelevantFirst(t *testing.T) {
	e := New(sampleTools())
	results, err := e.Search("add numbers together", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "calculate_sum", results[0].Tool.Name)
}

func TestSearchAbbreviationExpansion(t *testing.T) {
	e := New(sampleTools())
	results, err := e.Search("calc math", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "calculate_sum", results[0].Tool.Name)
}

func TestSearchCategoryFilter(t *testing.T) {
	e := New(sampleTools())
	results, err := e.Search("convert value", 5, "conversion")
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "conversion", r.Tool.Category)
	}
}

func TestSearchEmptyCorpusReturnsNoResults(t *testing.T) {
	e := New(nil)
	results, err := e.Search("anything", 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCachesRepeatedQuery(t *testing.T) {
	e := New(sampleTools())
	first, err := e.Search("temperature conversion", 5, "")
	require.NoError(t, err)
	second, err := e.Search("temperature conversion", 5, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildReindexInvalidatesCache(t *testing.T) {
	e := New(sampleTools())
	_, err := e.Search("web search", 5, "")
	require.NoError(t, err)

	e.Build([]*registry.Tool{sampleTools()[0]})
	results, err := e.Search("web search", 5, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "web_search", r.Tool.Name)
	}
}
