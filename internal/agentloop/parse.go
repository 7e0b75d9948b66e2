package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// agentResponse is the decoded {state, reasoning, action} envelope the LLM
// is instructed to emit every iteration.
type agentResponse struct {
	State     string
	Reasoning string
	Action    map[string]any
}

// parseResponse decodes raw, tolerating markdown code fences, a raw
// jsonrepair.JSONRepair pass when strict decoding fails, field-name drift
// (response↔reasoning, parameters↔params), and unescaped newlines embedded
// in string literals (common when the LLM emits multi-line tool code
// inline) — porting _parse_gemini_response's normalization block.
func parseResponse(raw string) (*agentResponse, error) {
	text := stripCodeFence(raw)

	data, err := decodeLoose(text)
	if err != nil {
		return nil, fmt.Errorf("agentloop: parse response: %w", err)
	}

	normalizeFields(data)

	resp := &agentResponse{Action: map[string]any{}}
	if s, ok := data["state"].(string); ok {
		resp.State = s
	}
	if s, ok := data["reasoning"].(string); ok {
		resp.Reasoning = s
	}
	if a, ok := data["action"].(map[string]any); ok {
		resp.Action = a
	}
	if resp.State == "" {
		return nil, fmt.Errorf("agentloop: response missing state field")
	}
	return resp, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decodeLoose tries strict json.Unmarshal, then a jsonrepair pass, then a
// manual re-escape of bare newlines inside string literals before retrying
// both — matching the original's successive fallback attempts.
func decodeLoose(text string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return data, nil
	}

	if repaired, rerr := jsonrepair.JSONRepair(text); rerr == nil {
		if err := json.Unmarshal([]byte(repaired), &data); err == nil {
			return data, nil
		}
	}

	escaped := escapeRawNewlinesInStrings(text)
	if err := json.Unmarshal([]byte(escaped), &data); err == nil {
		return data, nil
	}
	if repaired, rerr := jsonrepair.JSONRepair(escaped); rerr == nil {
		if err := json.Unmarshal([]byte(repaired), &data); err == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON found in response")
}

// escapeRawNewlinesInStrings walks text tracking whether we're inside a
// JSON string literal and replaces any literal newline found there with
// \n, since LLMs frequently emit multi-line tool_code values without
// escaping them.
func escapeRawNewlinesInStrings(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				b.WriteRune(r)
				escaped = false
				continue
			}
			switch r {
			case '\\':
				b.WriteRune(r)
				escaped = true
			case '"':
				inString = false
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				// drop
			default:
				b.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeFields applies the field-name drift corrections documented in
// §4.6: response↔reasoning at the top level, parameters↔params and
// answer↔response inside an action, search_tools↔fetch_tool as the state
// name, and a default reasoning value when the field is absent entirely.
func normalizeFields(data map[string]any) {
	if data["state"] == "search_tools" {
		data["state"] = "fetch_tool"
	}

	if _, ok := data["reasoning"]; !ok {
		if resp, ok := data["response"]; ok {
			data["reasoning"] = resp
			delete(data, "response")
		}
	}
	if _, ok := data["reasoning"]; !ok {
		data["reasoning"] = "no reasoning provided"
	}

	if data["state"] == "use_tool" {
		if action, ok := data["action"].(map[string]any); ok {
			if _, hasParams := action["params"]; !hasParams {
				if p, ok := action["parameters"]; ok {
					action["params"] = p
					delete(action, "parameters")
				}
			}
			if _, ok := action["params"]; !ok {
				action["params"] = map[string]any{}
			}
		}
	}

	if data["state"] == "respond" || data["state"] == "exit_response" {
		if action, ok := data["action"].(map[string]any); ok {
			if _, hasFinal := action["final_answer"]; !hasFinal {
				if a, ok := action["answer"]; ok {
					action["final_answer"] = a
					delete(action, "answer")
				} else if a, ok := action["response"]; ok {
					action["final_answer"] = a
					delete(action, "response")
				}
			}
		}
	}
}

// actionString reads a string field from an action payload, returning "".
func actionString(action map[string]any, key string) string {
	if v, ok := action[key].(string); ok {
		return v
	}
	return ""
}

// actionParams reads the params/parameters field of a use_tool action.
func actionParams(action map[string]any) map[string]any {
	if p, ok := action["params"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}
