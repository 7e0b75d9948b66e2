package toolstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alex/internal/registry"
)

func TestFuzzyScoreExactNameMatchScoresHighest(t *testing.T) {
	exact := &registry.Tool{Name: "calculate_sum", Description: "adds numbers", Active: true}
	other := &registry.Tool{Name: "web_search", Description: "search the web", Active: true}

	assert.Greater(t, fuzzyScore(exact, "calculate_sum"), fuzzyScore(other, "calculate_sum"))
}

func TestFuzzyScoreSynonymExpansionMatches(t *testing.T) {
	tool := &registry.Tool{Name: "compute_average", Description: "computes the average of numbers", Active: true}
	score := fuzzyScore(tool, "calculate average")
	assert.Greater(t, score, 0.0)
}

func TestFuzzyScoreBuggedToolScoresLower(t *testing.T) {
	clean := &registry.Tool{Name: "convert_temperature", Description: "convert celsius to fahrenheit", Active: true, Bugged: false}
	bugged := &registry.Tool{Name: "convert_temperature", Description: "convert celsius to fahrenheit", Active: true, Bugged: true}

	assert.Greater(t, fuzzyScore(clean, "convert temperature"), fuzzyScore(bugged, "convert temperature"))
}

func TestFuzzyScorePopularityBoostIsCapped(t *testing.T) {
	popular := &registry.Tool{Name: "string_reverse", Description: "reverse a string", Active: true, ExecutionCount: 1000}
	base := &registry.Tool{Name: "string_reverse", Description: "reverse a string", Active: true, ExecutionCount: 0}

	assert.InDelta(t, fuzzyScore(popular, "string")-fuzzyScore(base, "string"), fuzzyPopularityCap, 0.001)
}
