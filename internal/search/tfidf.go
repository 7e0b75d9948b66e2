package search

import (
	"math"
	"sort"
)

const maxVocabulary = 1000

// tfidfIndex mirrors sklearn's TfidfVectorizer(ngram_range=(1,2),
// stop_words='english', max_features=1000): smooth IDF, L2-normalized
// term vectors.
type tfidfIndex struct {
	vocab    map[string]int // term -> column index
	idf      []float64
	docVecs  []map[int]float64 // sparse doc vectors, already L2-normalized
}

func buildTFIDFIndex(docs []*document) *tfidfIndex {
	n := len(docs)
	docTokens := make([][]string, n)
	termDocFreq := make(map[string]int)
	termTotalFreq := make(map[string]int)

	for i, d := range docs {
		toks := ngrams(tfidfTokens(d.text))
		docTokens[i] = toks
		seen := make(map[string]bool, len(toks))
		for _, t := range toks {
			termTotalFreq[t]++
			if !seen[t] {
				termDocFreq[t] = termDocFreq[t] + 1
				seen[t] = true
			}
		}
	}

	terms := make([]string, 0, len(termTotalFreq))
	for t := range termTotalFreq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if termTotalFreq[terms[i]] != termTotalFreq[terms[j]] {
			return termTotalFreq[terms[i]] > termTotalFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxVocabulary {
		terms = terms[:maxVocabulary]
	}
	sort.Strings(terms) // stable column ordering, independent of frequency order

	vocab := make(map[string]int, len(terms))
	for i, t := range terms {
		vocab[t] = i
	}

	idf := make([]float64, len(terms))
	for t, col := range vocab {
		df := termDocFreq[t]
		idf[col] = math.Log(float64(1+n)/float64(1+df)) + 1
	}

	docVecs := make([]map[int]float64, n)
	for i, toks := range docTokens {
		tf := make(map[int]int)
		for _, t := range toks {
			if col, ok := vocab[t]; ok {
				tf[col]++
			}
		}
		vec := make(map[int]float64, len(tf))
		var norm float64
		for col, count := range tf {
			w := float64(count) * idf[col]
			vec[col] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for col := range vec {
				vec[col] /= norm
			}
		}
		docVecs[i] = vec
	}

	return &tfidfIndex{vocab: vocab, idf: idf, docVecs: docVecs}
}

// score returns the cosine similarity between the query's TF-IDF vector
// and every document's, in document order.
func (idx *tfidfIndex) score(query string) []float64 {
	toks := ngrams(tfidfTokens(query))
	tf := make(map[int]int)
	for _, t := range toks {
		if col, ok := idx.vocab[t]; ok {
			tf[col]++
		}
	}
	qvec := make(map[int]float64, len(tf))
	var qnorm float64
	for col, count := range tf {
		w := float64(count) * idx.idf[col]
		qvec[col] = w
		qnorm += w * w
	}
	qnorm = math.Sqrt(qnorm)
	if qnorm > 0 {
		for col := range qvec {
			qvec[col] /= qnorm
		}
	}

	scores := make([]float64, len(idx.docVecs))
	for i, dvec := range idx.docVecs {
		var dot float64
		// iterate the smaller map
		if len(qvec) < len(dvec) {
			for col, qw := range qvec {
				if dw, ok := dvec[col]; ok {
					dot += qw * dw
				}
			}
		} else {
			for col, dw := range dvec {
				if qw, ok := qvec[col]; ok {
					dot += qw * dw
				}
			}
		}
		scores[i] = dot
	}
	return scores
}
