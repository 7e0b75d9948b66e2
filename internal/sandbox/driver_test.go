package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDriverEmbedsCodeAndParams(t *testing.T) {
	src, err := renderDriver(
		"func multiply(params map[string]any) (any, error) {\n\treturn params[\"a\"].(float64) * params[\"b\"].(float64), nil\n}",
		"multiply",
		map[string]any{"a": 23.0, "b": 19.0},
		0, "",
	)
	require.NoError(t, err)
	assert.Contains(t, src, "func multiply(params map[string]any)")
	assert.Contains(t, src, "multiply(params)")
	assert.Contains(t, src, `\"a\":23`)
}

func TestRenderDriverEscapesQuotesInParams(t *testing.T) {
	src, err := renderDriver(
		"func reverse_text(params map[string]any) (any, error) { return nil, nil }",
		"reverse_text",
		map[string]any{"text": `say "hi"` + "\nline2"},
		1, "http://127.0.0.1:9999/invoke",
	)
	require.NoError(t, err)
	// The JSON-encoded param must survive re-quoting into a Go string literal
	// without producing an unterminated literal.
	assert.True(t, strings.Count(src, `"`)%2 == 0 || strings.Contains(src, `\"`))
}

func TestRenderDriverAlwaysDefinesExecuteTool(t *testing.T) {
	src, err := renderDriver(
		"func noop(params map[string]any) (any, error) { return nil, nil }",
		"noop",
		map[string]any{},
		3,
		"http://127.0.0.1:8099/invoke",
	)
	require.NoError(t, err)
	assert.Contains(t, src, "func executeTool(name string, params map[string]any) (any, error)")
	assert.Contains(t, src, `"http://127.0.0.1:8099/invoke"`)
	assert.Contains(t, src, `"depth":  3,`)
}

func TestScanLastJSONLinePicksLastParseable(t *testing.T) {
	output := "some warning\n{\"success\":false}\n{\"success\":true,\"result\":437}\n"
	obj, ok := scanLastJSONLine(output)
	require.True(t, ok)
	assert.Equal(t, true, obj["success"])
	assert.Equal(t, float64(437), obj["result"])
}

func TestScanLastJSONLineNoneParseable(t *testing.T) {
	_, ok := scanLastJSONLine("not json\nstill not json\n")
	assert.False(t, ok)
}

func TestEnvelopeToRecordSuccess(t *testing.T) {
	rec := envelopeToRecord(map[string]any{"success": true, "result": float64(42)}, "raw", 0, true, false)
	assert.True(t, rec.Success)
	assert.Equal(t, float64(42), rec.Result)
	assert.True(t, rec.ExecutedInSandbox)
	assert.False(t, rec.DockerFallback)
}

func TestEnvelopeToRecordFailure(t *testing.T) {
	rec := envelopeToRecord(map[string]any{"success": false, "error": "boom"}, "raw", 1, false, true)
	assert.False(t, rec.Success)
	assert.Equal(t, "boom", rec.Error)
	assert.True(t, rec.DockerFallback)
}
