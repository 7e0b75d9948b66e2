// Package ragindex is an optional semantic recall layer over tool
// descriptions, supplementing internal/search's lexical ranker with
// embedding-similarity lookups for paraphrased queries the keyword/TF-IDF
// ranker misses. Grounded on the teacher's internal/rag package (only its
// test files were retrievable from the pack — store_test.go/embedder_test.go
// — so the Document/StoreConfig shapes below are built fresh against the
// observed call shapes, wired directly against the real chromem-go API
// rather than reconstructing the teacher's own store/embedder
// abstraction from no source).
package ragindex

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"alex/internal/registry"
)

const (
	collectionName = "tools"
	vectorDim      = 256
)

// Index wraps a chromem-go in-memory collection keyed by tool name.
type Index struct {
	collection *chromem.Collection
}

// New builds an Index using embed as the embedding function. Pass nil to
// use hashEmbed, a local deterministic bag-of-words hashing embedder that
// needs no external API key or network call — appropriate for this
// optional recall layer, where exact embedding quality matters less than
// having zero external dependencies for a server to boot.
func New(embed chromem.EmbeddingFunc) (*Index, error) {
	if embed == nil {
		embed = hashEmbed
	}
	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("ragindex: create collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

// hashEmbed projects text into a fixed-size vector by hashing each word
// into a bucket, giving a cheap but stable bag-of-words embedding with no
// external calls.
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, vectorDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%vectorDim] += 1
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1) / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Build indexes every tool's name + description + tags as one document.
func (idx *Index) Build(ctx context.Context, tools []*registry.Tool) error {
	docs := make([]chromem.Document, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      t.Name,
			Content: t.Name + " " + t.Description + " " + joinTags(t.Tags),
			Metadata: map[string]string{
				"category": t.Category,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return idx.collection.AddDocuments(ctx, docs, 1)
}

// Query returns the names of the topK tools whose indexed text is
// semantically closest to query.
func (idx *Index) Query(ctx context.Context, query string, topK int) ([]string, error) {
	if idx.collection.Count() == 0 {
		return nil, nil
	}
	if topK > idx.collection.Count() {
		topK = idx.collection.Count()
	}
	results, err := idx.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ragindex: query: %w", err)
	}
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.ID
	}
	return names, nil
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
