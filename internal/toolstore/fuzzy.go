package toolstore

import (
	"strings"

	"alex/internal/registry"
)

const (
	fuzzyExactNameBoost      = 10.0
	fuzzyExactDescBoost      = 5.0
	fuzzyWordOverlapBoost    = 2.0
	fuzzyNameSimilarityMult  = 3.0
	fuzzyDescSimilarityMult  = 2.0
	fuzzyTagMatchBoost       = 3.0
	fuzzyCategoryMatchBoost  = 2.0
	fuzzyActionVerbMult      = 1.5
	fuzzyActiveMultiplier    = 1.1
	fuzzyNotBuggedMultiplier = 1.1
	fuzzyPopularityCap       = 2.0
	fuzzyPopularityPerExec   = 0.1

	// DefaultFuzzyThreshold is the minimum combined score a hit must clear.
	DefaultFuzzyThreshold = 0.3
)

// synonymPairs is the synonym table, ported field-for-field from
// CodeToolManager.intelligent_search. synonymGraph below expands it into
// a symmetric adjacency so either direction of a pair triggers the match.
var synonymPairs = map[string][]string{
	"calculate":   {"compute", "find", "determine", "get"},
	"convert":     {"transform", "change", "translate"},
	"factorial":   {"fact", "permutation"},
	"temperature": {"temp", "fahrenheit", "celsius", "kelvin"},
	"count":       {"number", "quantity", "amount"},
	"character":   {"char", "letter", "symbol"},
	"string":      {"text", "word"},
	"add":         {"sum", "plus", "addition"},
	"subtract":    {"minus", "difference"},
	"multiply":    {"times", "product"},
	"divide":      {"division", "quotient"},
}

var synonymGraph = buildSynonymGraph(synonymPairs)

func buildSynonymGraph(pairs map[string][]string) map[string]map[string]bool {
	graph := make(map[string]map[string]bool)
	add := func(a, b string) {
		if graph[a] == nil {
			graph[a] = make(map[string]bool)
		}
		graph[a][b] = true
	}
	for k, vs := range pairs {
		for _, v := range vs {
			add(k, v)
			add(v, k)
		}
	}
	return graph
}

// expandSynonyms returns word plus its direct synonym neighbors.
func expandSynonyms(word string) map[string]bool {
	out := map[string]bool{word: true}
	for neighbor := range synonymGraph[word] {
		out[neighbor] = true
	}
	return out
}

// actionVerbs is the closed set used for the action-verb overlap boost.
var actionVerbs = map[string]bool{
	"calculate": true, "compute": true, "convert": true, "find": true,
	"count": true, "get": true, "transform": true,
}

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// fuzzyScore computes the intelligent_search combined score for one tool
// against a raw query string.
func fuzzyScore(t *registry.Tool, query string) float64 {
	lowerQuery := strings.ToLower(query)
	lowerName := strings.ToLower(t.Name)
	lowerDesc := strings.ToLower(t.Description)

	var score float64

	if strings.Contains(lowerName, lowerQuery) {
		score += fuzzyExactNameBoost
	}
	if strings.Contains(lowerDesc, lowerQuery) {
		score += fuzzyExactDescBoost
	}

	queryWords := strings.Fields(lowerQuery)
	expandedQuery := make(map[string]bool)
	for _, w := range queryWords {
		for syn := range expandSynonyms(w) {
			expandedQuery[syn] = true
		}
	}
	toolWords := words(t.Name + " " + t.Description + " " + strings.Join(t.Tags, " "))
	overlap := 0
	for w := range expandedQuery {
		if toolWords[w] {
			overlap++
		}
	}
	score += float64(overlap) * fuzzyWordOverlapBoost

	score += similarityRatio(lowerQuery, lowerName) * fuzzyNameSimilarityMult
	score += similarityRatio(lowerQuery, lowerDesc) * fuzzyDescSimilarityMult

	for _, tag := range t.Tags {
		if expandedQuery[strings.ToLower(tag)] {
			score += fuzzyTagMatchBoost
		}
	}

	if expandedQuery[strings.ToLower(t.Category)] {
		score += fuzzyCategoryMatchBoost
	}

	actionOverlap := 0
	for w := range expandedQuery {
		if actionVerbs[w] && (strings.Contains(lowerName, w) || strings.Contains(lowerDesc, w)) {
			actionOverlap++
		}
	}
	score += float64(actionOverlap) * fuzzyActionVerbMult

	if t.Active {
		score *= fuzzyActiveMultiplier
	}
	if !t.Bugged {
		score *= fuzzyNotBuggedMultiplier
	}

	popularity := float64(t.ExecutionCount) * fuzzyPopularityPerExec
	if popularity > fuzzyPopularityCap {
		popularity = fuzzyPopularityCap
	}
	score += popularity

	return score
}
