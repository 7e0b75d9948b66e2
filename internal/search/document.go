package search

import (
	"fmt"
	"strings"

	"alex/internal/registry"
)

// document is one indexed tool plus its precomputed searchable text and
// per-field token sets, used both for TF-IDF/BM25 corpus construction and
// for keyword-boost field matching.
type document struct {
	tool *registry.Tool

	text string // full searchable text, used for TF-IDF/BM25

	nameWords        map[string]bool
	tagWords         map[string]bool
	categoryWords    map[string]bool
	descriptionWords map[string]bool
	requiredWords    map[string]bool
}

// buildSearchableText concatenates name, name-with-spaces, description,
// category, tags, and required/optional parameter names and types — the
// exact field set _create_searchable_text indexes.
func buildSearchableText(t *registry.Tool) string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString(" ")
	b.WriteString(strings.ReplaceAll(t.Name, "_", " "))
	b.WriteString(" ")
	b.WriteString(t.Description)
	b.WriteString(" ")
	b.WriteString(t.Category)
	b.WriteString(" ")
	b.WriteString(strings.Join(t.Tags, " "))
	b.WriteString(" ")
	b.WriteString(strings.Join(t.RequiredParams, " "))
	for k, v := range t.OptionalParams {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(" ")
		fmt.Fprintf(&b, "%T", v)
	}
	return b.String()
}

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range tokenizeWords(s) {
		m[w] = true
	}
	return m
}

func buildDocument(t *registry.Tool) *document {
	return &document{
		tool:             t,
		text:             buildSearchableText(t),
		nameWords:        wordSet(t.Name + " " + strings.ReplaceAll(t.Name, "_", " ")),
		tagWords:         wordSet(strings.Join(t.Tags, " ")),
		categoryWords:    wordSet(t.Category),
		descriptionWords: wordSet(t.Description),
		requiredWords:    wordSet(strings.Join(t.RequiredParams, " ")),
	}
}

// ScoreBreakdown exposes each weighted component of a result's combined
// score, for debugging/observability.
type ScoreBreakdown struct {
	TFIDF   float64
	BM25    float64
	Keyword float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Tool      *registry.Tool
	Score     float64
	Breakdown ScoreBreakdown
}
