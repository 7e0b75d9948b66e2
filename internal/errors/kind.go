// Package errors implements the error-kind taxonomy, circuit breaker, and
// retry/backoff helpers shared by every component of agentrt.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the ten error kinds named in the error-handling design.
// It identifies origin and surfacing policy, not a Go type.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindUnavailable        Kind = "unavailable"
	KindBugged             Kind = "bugged"
	KindExecutionFailure   Kind = "execution_failure"
	KindSandboxSubstrate   Kind = "sandbox_substrate"
	KindLLMTransient       Kind = "llm_transient"
	KindLLMFatal           Kind = "llm_fatal"
	KindParseFailure       Kind = "parse_failure"
	KindBoundedIterations  Kind = "bounded_iterations"
)

// KindedError carries a Kind alongside the wrapped cause and an optional
// human/LLM-facing message distinct from the raw Go error text.
type KindedError struct {
	Kind    Kind
	Cause   error
	Message string
}

func (e *KindedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *KindedError) Unwrap() error { return e.Cause }

// New wraps cause with the given kind and message.
func New(kind Kind, cause error, message string) error {
	return &KindedError{Kind: kind, Cause: cause, Message: message}
}

// As extracts the Kind from err, if any KindedError is in its chain.
func As(err error) (Kind, bool) {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}

// NewTransientError marks err as llm_transient with an LLM-facing message.
func NewTransientError(cause error, message string) error {
	return New(KindLLMTransient, cause, message)
}

// NewPermanentError marks err as llm_fatal with an LLM-facing message.
func NewPermanentError(cause error, message string) error {
	return New(KindLLMFatal, cause, message)
}

// NewDegradedError marks err as sandbox_substrate/circuit-open degradation;
// reason is shown to the caller, detail is additional context (often empty).
func NewDegradedError(cause error, reason, detail string) error {
	msg := reason
	if detail != "" {
		msg = reason + " " + detail
	}
	return New(KindSandboxSubstrate, cause, msg)
}

// IsTransient reports whether err should be retried with key rotation.
func IsTransient(err error) bool {
	return Is(err, KindLLMTransient)
}

// IsDegraded reports whether err originates from an open circuit breaker.
func IsDegraded(err error) bool {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.Kind == KindSandboxSubstrate
	}
	return false
}

// FormatForLLM renders err as the text surfaced to the LLM in a corrective
// system observation: the KindedError's message if present, else the raw
// error text.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}
	var ke *KindedError
	if errors.As(err, &ke) && ke.Message != "" {
		return ke.Message
	}
	return err.Error()
}
