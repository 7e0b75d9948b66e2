package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alex/internal/registry"
)

func TestFormatForLLMContextEmpty(t *testing.T) {
	assert.Equal(t, "", FormatForLLMContext(nil))
}

func TestFormatForLLMContextIncludesToolDetails(t *testing.T) {
	results := []SearchResult{
		{Tool: &registry.Tool{Name: "calculate_sum", Description: "adds numbers", RequiredParams: []string{"a", "b"}}},
	}
	out := FormatForLLMContext(results)
	assert.Contains(t, out, "calculate_sum")
	assert.Contains(t, out, "adds numbers")
	assert.Contains(t, out, "[a b]")
}

func TestFormatForLLMContextNotesCompositeHintForMultipleTools(t *testing.T) {
	results := []SearchResult{
		{Tool: &registry.Tool{Name: "a", Description: "d1"}},
		{Tool: &registry.Tool{Name: "b", Description: "d2"}},
	}
	out := FormatForLLMContext(results)
	assert.Contains(t, out, "COMPOSITE TOOL")
}
