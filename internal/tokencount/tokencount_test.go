package tokencount

import "testing"

func TestCountNonEmptyText(t *testing.T) {
	c := NewCounter("")
	n, err := c.Count("the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n == 0 {
		t.Fatal("expected non-zero token count")
	}
}

func TestCountEmptyText(t *testing.T) {
	c := NewCounter("cl100k_base")
	n, err := c.Count("")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", n)
	}
}

func TestCountReusesEncoding(t *testing.T) {
	c := NewCounter("cl100k_base")
	first, err := c.Count("hello world")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	second, err := c.Count("hello world")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable count across calls, got %d then %d", first, second)
	}
}
