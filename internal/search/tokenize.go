package search

import "strings"

// englishStopwords is the stoplist used by the TF-IDF vectorizer, matching
// scikit-learn's built-in "english" list restricted to the terms that
// actually show up in tool-catalog text (a trimmed subset is sufficient —
// the corpus vocabulary here is technical, not prose).
var englishStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "be": true, "this": true, "that": true, "it": true, "as": true,
	"by": true, "at": true, "from": true, "into": true, "than": true, "then": true,
	"so": true, "if": true, "but": true, "not": true, "no": true, "do": true,
	"does": true, "did": true, "has": true, "have": true, "had": true, "was": true,
	"were": true, "will": true, "would": true, "should": true, "can": true,
	"could": true, "may": true, "might": true, "must": true, "shall": true,
	"i": true, "you": true, "he": true, "she": true, "we": true, "they": true,
	"them": true, "their": true, "its": true, "his": true, "her": true,
}

func isWordByte(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// tokenizeWords lowercases s and splits on non-alphanumeric runs.
func tokenizeWords(s string) []string {
	lower := strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range lower {
		if isWordByte(r) {
			cur.WriteRune(r)
		} else if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// tfidfTokens lowercases, splits on non-word runs, and drops stopwords —
// the preprocessing TfidfVectorizer(stop_words='english') performs before
// building unigrams/bigrams.
func tfidfTokens(s string) []string {
	raw := tokenizeWords(s)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if englishStopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ngrams builds unigrams and bigrams from tokens, matching
// ngram_range=(1, 2).
func ngrams(tokens []string) []string {
	out := make([]string, 0, len(tokens)*2)
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}
