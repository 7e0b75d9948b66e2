// Package tokencount estimates prompt/tool-context token usage. No other
// package in the module calls it; the agent loop's prompt builder does not
// count or trim tokens. Grounded on the teacher go.mod's
// pkoukk/tiktoken-go dependency, wired here since no source in the
// retrieved pack imports it directly.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for a fixed encoding, lazily initialized
// since building a tiktoken.Tiktoken is not free.
type Counter struct {
	mu   sync.Mutex
	enc  *tiktoken.Tiktoken
	name string
}

// NewCounter builds a Counter for the named encoding (e.g. "cl100k_base",
// the encoding used by the Gemini-adjacent GPT tokenizer family this spec
// approximates token budgets with, since Gemini ships no public Go
// tokenizer).
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Counter{name: encoding}
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		enc, err := tiktoken.GetEncoding(c.name)
		if err != nil {
			return 0, err
		}
		c.enc = enc
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}
