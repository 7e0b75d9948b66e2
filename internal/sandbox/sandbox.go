// Package sandbox launches LLM-authored tool code in an isolated,
// resource-capped subprocess and parses a structured result envelope from
// its combined output, per §4.2.
package sandbox

import (
	"context"
	"time"
)

// ExecutionRecord is the result envelope returned by Execute, matching the
// wire shape in §3/§6.
type ExecutionRecord struct {
	Success           bool      `json:"success"`
	Result            any       `json:"result,omitempty"`
	Error             string    `json:"error,omitempty"`
	ExecutedInSandbox bool      `json:"executed_in_sandbox"`
	ExitCode          *int      `json:"exit_code,omitempty"`
	Stdout            string    `json:"stdout,omitempty"`
	Timestamp         time.Time `json:"timestamp"`

	// DockerFallback is set when the sandbox substrate failed and execution
	// fell back to direct in-process execution (set by FallbackExecutor).
	DockerFallback bool `json:"docker_fallback,omitempty"`
}

// SubstrateError distinguishes sandbox-construction failures (daemon
// unreachable, image missing, permission denied, output-parse failure)
// from in-sandbox tool execution errors. The agent loop falls back to
// direct execution only for this error kind.
type SubstrateError struct {
	Reason string
	Cause  error
}

func (e *SubstrateError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

func (e *SubstrateError) Unwrap() error { return e.Cause }

// Request bundles the parameters of one sandbox invocation.
type Request struct {
	Code         string
	EntryName    string
	Params       map[string]any
	Timeout      time.Duration
	Requirements []string

	// CallbackURL and Depth enable composite tool execution: the rendered
	// driver always defines an
	// executeTool(name string, params map[string]any) (any, error) helper
	// that POSTs to CallbackURL with the current Depth, letting
	// internal/toolstore's composite closure (§4.5) recurse back into the
	// Tool Store across the driver's process/container boundary.
	CallbackURL string
	Depth       int
}

// Executor runs authored tool code in isolation. Execute must always clean
// up its scratch directory and container before returning, on every code
// path (success, tool failure, substrate failure, or timeout) — invariant
// §8.5.
type Executor interface {
	Execute(ctx context.Context, req Request) (*ExecutionRecord, error)
}
