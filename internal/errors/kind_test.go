package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLLMError(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{"429 Too Many Requests", KindLLMTransient},
		{"rate limit exceeded", KindLLMTransient},
		{"503 Service Unavailable", KindLLMTransient},
		{"resource_exhausted: quota hit", KindLLMTransient},
		{"connection refused", KindLLMTransient},
		{"401 Unauthorized", KindLLMFatal},
		{"403 Forbidden", KindLLMFatal},
		{"404 Not Found", KindLLMFatal},
	}

	for _, tc := range cases {
		err := ClassifyLLMError(errors.New(tc.raw))
		kind, ok := As(err)
		require.True(t, ok, "case %q", tc.raw)
		assert.Equal(t, tc.kind, kind, "case %q", tc.raw)
	}
}

func TestIsOverloadClass(t *testing.T) {
	assert.True(t, IsOverloadClass(errors.New("quota exceeded")))
	assert.True(t, IsOverloadClass(errors.New("server overload")))
	assert.False(t, IsOverloadClass(errors.New("invalid argument")))
}

func TestFormatForLLMPrefersMessage(t *testing.T) {
	err := New(KindExecutionFailure, errors.New("divide by zero"), "tool raised an exception")
	assert.Equal(t, "tool raised an exception", FormatForLLM(err))

	plain := errors.New("boom")
	assert.Equal(t, "boom", FormatForLLM(plain))
}
