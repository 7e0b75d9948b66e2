package search

import "strings"

// abbreviations is the query-expansion table, ported verbatim from the
// Python reference's _preprocess_query.
var abbreviations = map[string][]string{
	"calc": {"calculate", "calculation"},
	"math": {"mathematics", "mathematical"},
	"web":  {"website", "internet"},
	"db":   {"database"},
	"img":  {"image"},
	"vid":  {"video"},
	"txt":  {"text"},
	"doc":  {"document"},
}

// metaWords are dropped from the keyword-matching set — generic verbs that
// appear in almost every query and would otherwise dominate keyword boost.
var metaWords = map[string]bool{
	"need": true, "want": true, "use": true, "help": true,
	"tool": true, "function": true, "can": true, "how": true,
}

// preprocessQuery lowercases the query and appends abbreviation expansions
// after each matching word, for TF-IDF/BM25 vectorization.
func preprocessQuery(query string) string {
	words := tokenizeWords(query)
	out := make([]string, 0, len(words)*2)
	for _, w := range words {
		out = append(out, w)
		if expansions, ok := abbreviations[w]; ok {
			out = append(out, expansions...)
		}
	}
	return strings.Join(out, " ")
}

// extractKeywords lowercases the query and drops meta words and tokens of
// length <= 2, for the keyword-boost component.
func extractKeywords(query string) []string {
	words := tokenizeWords(query)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 || metaWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
