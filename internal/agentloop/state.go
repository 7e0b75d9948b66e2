// Package agentloop implements the bounded THINK/ACT/OBSERVE state machine
// described in §4.6, generalizing the teacher's ReactEngine.SolveTask loop
// skeleton (internal/agent/domain/react_engine.go) to the Python
// ToolUseAgent's exact state alphabet, prompt construction, and tolerant
// response parsing (original_source/backend/tool_use.py).
package agentloop

import "time"

// ActionRecord is one dispatched action (every state the loop dispatched,
// including respond, analyze_tools_for_composite and exit_response),
// reported back to the caller as `actions_taken`.
type ActionRecord struct {
	Iteration int       `json:"iteration"`
	State     string    `json:"state"`
	ToolName  string    `json:"tool_name,omitempty"`
	Query     string    `json:"query,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is the full per-iteration trace — state, reasoning, the raw
// action payload, and whatever result was produced — mirroring
// IterationContext.history in the Python original and surfaced on the wire
// as `conversation_history`.
type HistoryEntry struct {
	Iteration int            `json:"iteration"`
	State     string         `json:"state"`
	Reasoning string         `json:"reasoning"`
	Action    map[string]any `json:"action,omitempty"`
	Result    any            `json:"result,omitempty"`
}

// Result is the outcome of one Process call.
type Result struct {
	Success    bool           `json:"success"`
	Response   string         `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	Iterations int            `json:"iterations"`
	Actions    []ActionRecord `json:"actions_taken"`
	History    []HistoryEntry `json:"conversation_history"`
}

// iterationContext accumulates state across the iterations of one Process
// call, mirroring the Python IterationContext model.
type iterationContext struct {
	question     string
	iteration    int
	history      []HistoryEntry
	fetchedTools []toolSummary
	toolResults  []toolExecResult

	// compositeSources holds the full source of tools fetched via
	// analyze_tools_for_composite, and compositeRequired flags the next
	// create_tool as composite-required regardless of what its own action
	// payload signals, per §9 Open Question 1.
	compositeSources  []toolSource
	compositeRequired bool
}

// toolSource is one tool's full code, surfaced to the LLM after
// analyze_tools_for_composite so it can write a composite tool against the
// real signatures rather than guessing from name/description alone.
type toolSource struct {
	Name string
	Code string
}

// toolSummary is the subset of a catalog entry the prompt needs to show
// the LLM, decoupled from *registry.Tool so prompt.go stays independent of
// how tools were found (search vs a direct fetch).
type toolSummary struct {
	Name           string
	Description    string
	RequiredParams []string
	OptionalParams map[string]any
}

type toolExecResult struct {
	ToolName string
	Success  bool
	Result   any
	Error    string
}
