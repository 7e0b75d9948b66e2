package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseStrictJSON(t *testing.T) {
	resp, err := parseResponse(`{"state":"respond","reasoning":"easy","action":{"final_answer":"42"}}`)
	require.NoError(t, err)
	assert.Equal(t, "respond", resp.State)
	assert.Equal(t, "easy", resp.Reasoning)
	assert.Equal(t, "42", actionString(resp.Action, "final_answer"))
}

func TestParseResponseStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"state\":\"exit_response\",\"reasoning\":\"done\",\"action\":{\"final_answer\":\"ok\"}}\n```"
	resp, err := parseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "exit_response", resp.State)
}

func TestParseResponseNormalizesResponseToReasoning(t *testing.T) {
	resp, err := parseResponse(`{"state":"respond","response":"I think so","action":{}}`)
	require.NoError(t, err)
	assert.Equal(t, "I think so", resp.Reasoning)
}

func TestParseResponseDefaultsMissingReasoning(t *testing.T) {
	resp, err := parseResponse(`{"state":"fetch_tool","action":{"query":"math"}}`)
	require.NoError(t, err)
	assert.Equal(t, "no reasoning provided", resp.Reasoning)
}

func TestParseResponseNormalizesParametersToParams(t *testing.T) {
	resp, err := parseResponse(`{"state":"use_tool","reasoning":"x","action":{"tool_name":"add","parameters":{"a":1,"b":2}}}`)
	require.NoError(t, err)
	params := actionParams(resp.Action)
	assert.Equal(t, float64(1), params["a"])
}

func TestParseResponseRepairsTrailingComma(t *testing.T) {
	raw := `{"state":"respond","reasoning":"r","action":{"final_answer":"x",}}`
	resp, err := parseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "respond", resp.State)
}

func TestParseResponseEscapesRawNewlinesInStrings(t *testing.T) {
	raw := "{\"state\":\"create_tool\",\"reasoning\":\"r\",\"action\":{\"code\":\"func entry(params map[string]any) (any, error) {\nresult := 1\nreturn result, nil\n}\"}}"
	resp, err := parseResponse(raw)
	require.NoError(t, err)
	code := actionString(resp.Action, "code")
	assert.Contains(t, code, "func entry")
}

func TestParseResponseAliasesSearchToolsState(t *testing.T) {
	resp, err := parseResponse(`{"state":"search_tools","reasoning":"x","action":{"query":"math"}}`)
	require.NoError(t, err)
	assert.Equal(t, "fetch_tool", resp.State)
}

func TestParseResponseNormalizesAnswerToFinalAnswer(t *testing.T) {
	resp, err := parseResponse(`{"state":"respond","reasoning":"x","action":{"answer":"42"}}`)
	require.NoError(t, err)
	assert.Equal(t, "42", actionString(resp.Action, "final_answer"))
	_, hasAnswer := resp.Action["answer"]
	assert.False(t, hasAnswer)
}

func TestParseResponseNormalizesResponseFieldToFinalAnswerInExitResponse(t *testing.T) {
	resp, err := parseResponse(`{"state":"exit_response","reasoning":"x","action":{"response":"42"}}`)
	require.NoError(t, err)
	assert.Equal(t, "42", actionString(resp.Action, "final_answer"))
}

func TestParseResponseMissingStateErrors(t *testing.T) {
	_, err := parseResponse(`{"reasoning":"r","action":{}}`)
	assert.Error(t, err)
}

func TestParseResponseInvalidJSONErrors(t *testing.T) {
	_, err := parseResponse("not json at all")
	assert.Error(t, err)
}
