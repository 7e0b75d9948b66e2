// Package search implements the hybrid TF-IDF + BM25 + keyword-boost tool
// ranker (§4.4), ported from the Python reference's ToolSearchEngine — the
// only hybrid-ranker implementation in the example corpus.
package search

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"alex/internal/registry"
)

const (
	tfidfWeight   = 0.3
	bm25Weight    = 0.4
	keywordWeight = 0.3
	scoreEpsilon  = 1e-10
	scoreFloor    = 0.01

	defaultCacheSize = 256
)

// Engine ranks tools against a free-text query using the combined
// TF-IDF/BM25/keyword formula.
type Engine struct {
	mu    sync.RWMutex
	docs  []*document
	tfidf *tfidfIndex
	bm25  *bm25Index

	cache *lru.Cache[string, []SearchResult]
}

// New builds an Engine over an initial tool set. Build may be called again
// later to reindex (e.g. after a registry Reload).
func New(tools []*registry.Tool) *Engine {
	cache, _ := lru.New[string, []SearchResult](defaultCacheSize)
	e := &Engine{cache: cache}
	e.Build(tools)
	return e
}

// Build reindexes the engine over tools, discarding any cached results.
func (e *Engine) Build(tools []*registry.Tool) {
	docs := make([]*document, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		docs = append(docs, buildDocument(t))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = docs
	e.tfidf = buildTFIDFIndex(docs)
	e.bm25 = buildBM25Index(docs)
	if e.cache != nil {
		e.cache.Purge()
	}
}

// Search ranks tools by query, optionally filtered to category, returning
// at most topK results above the score floor, descending by score with
// ties broken by original index order.
func (e *Engine) Search(query string, topK int, category string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	cacheKey := fmt.Sprintf("%s\x00%d\x00%s", query, topK, category)

	e.mu.RLock()
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			e.mu.RUnlock()
			return cached, nil
		}
	}
	docs := e.docs
	tfidfIdx := e.tfidf
	bm25Idx := e.bm25
	e.mu.RUnlock()

	if len(docs) == 0 {
		return nil, nil
	}

	expandedQuery := preprocessQuery(query)
	keywords := extractKeywords(query)

	tfidfScores := tfidfIdx.score(expandedQuery)
	bm25Scores := bm25Idx.score(expandedQuery)
	keywordScores := make([]float64, len(docs))
	for i, d := range docs {
		keywordScores[i] = keywordScore(d, keywords)
	}

	tfidfMax := maxOf(tfidfScores)
	bm25Max := maxOf(bm25Scores)
	keywordMax := maxOf(keywordScores)

	type scored struct {
		idx   int
		score float64
		bd    ScoreBreakdown
	}
	results := make([]scored, 0, len(docs))
	for i, d := range docs {
		if category != "" && d.tool.Category != category {
			continue
		}
		tn := tfidfScores[i] / (tfidfMax + scoreEpsilon)
		bn := bm25Scores[i] / (bm25Max + scoreEpsilon)
		kn := keywordScores[i] / (keywordMax + scoreEpsilon)
		combined := tfidfWeight*tn + bm25Weight*bn + keywordWeight*kn
		if combined <= scoreFloor {
			continue
		}
		results = append(results, scored{
			idx:   i,
			score: combined,
			bd:    ScoreBreakdown{TFIDF: tn, BM25: bn, Keyword: kn},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{Tool: docs[r.idx].tool, Score: r.score, Breakdown: r.bd}
	}

	e.mu.Lock()
	if e.cache != nil {
		e.cache.Add(cacheKey, out)
	}
	e.mu.Unlock()

	return out, nil
}

func maxOf(vals []float64) float64 {
	var m float64
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
