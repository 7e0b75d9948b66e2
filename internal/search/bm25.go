package search

import "math"

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Index is a from-scratch port of rank_bm25's BM25Okapi with its
// default parameters (k1=1.5, b=0.75), since the Python reference never
// overrides them.
type bm25Index struct {
	docFreqs  []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

func buildBM25Index(docs []*document) *bm25Index {
	n := len(docs)
	docFreqs := make([]map[string]int, n)
	docLens := make([]int, n)
	df := make(map[string]int)
	var totalLen int

	for i, d := range docs {
		toks := tokenizeWords(d.text)
		docLens[i] = len(toks)
		totalLen += len(toks)
		freqs := make(map[string]int)
		for _, t := range toks {
			freqs[t]++
		}
		docFreqs[i] = freqs
		for t := range freqs {
			df[t]++
		}
	}

	avgDocLen := 0.0
	if n > 0 {
		avgDocLen = float64(totalLen) / float64(n)
	}

	idf := make(map[string]float64, len(df))
	for t, freq := range df {
		idf[t] = math.Log(float64(n)-float64(freq)+0.5) - math.Log(float64(freq)+0.5) + 1
	}

	return &bm25Index{docFreqs: docFreqs, docLens: docLens, avgDocLen: avgDocLen, idf: idf}
}

func (idx *bm25Index) score(query string) []float64 {
	terms := tokenizeWords(query)
	scores := make([]float64, len(idx.docFreqs))
	if idx.avgDocLen == 0 {
		return scores
	}
	for i, freqs := range idx.docFreqs {
		var s float64
		dl := float64(idx.docLens[i])
		for _, t := range terms {
			f := float64(freqs[t])
			if f == 0 {
				continue
			}
			num := f * (bm25K1 + 1)
			den := f + bm25K1*(1-bm25B+bm25B*dl/idx.avgDocLen)
			s += idx.idf[t] * (num / den)
		}
		scores[i] = s
	}
	return scores
}
