// Package llmclient wires the Key Pool's credential rotation to a Gemini
// completion provider behind the shared retry/circuit-breaker machinery in
// internal/errors, generalizing the teacher's internal/agent/providers
// Google provider and internal/infra/llm retry_client wrapping to the
// single-shot, non-streaming completion shape the agent loop needs.
package llmclient

import "context"

// Provider generates one completion for a single prompt against a model,
// using the credential it was constructed with.
type Provider interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}
