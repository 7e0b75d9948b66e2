package sandbox

import (
	"context"
	"errors"

	"alex/internal/logging"
)

// FallbackExecutor tries Primary (normally a ContainerExecutor) and, on a
// *SubstrateError (daemon unreachable, image pull failure, ...), retries
// once against Fallback (normally an InProcessExecutor), matching §4.6.1's
// "each attempt through the Sandbox Executor with fallback to direct
// execution on substrate error". Non-substrate errors (tool code failures,
// timeouts) are returned as-is without falling back.
type FallbackExecutor struct {
	Primary  Executor
	Fallback Executor
	logger   logging.Logger
}

// NewFallbackExecutor builds a FallbackExecutor.
func NewFallbackExecutor(primary, fallback Executor, logger logging.Logger) *FallbackExecutor {
	return &FallbackExecutor{Primary: primary, Fallback: fallback, logger: logging.OrNop(logger)}
}

var _ Executor = (*FallbackExecutor)(nil)

func (e *FallbackExecutor) Execute(ctx context.Context, req Request) (*ExecutionRecord, error) {
	rec, err := e.Primary.Execute(ctx, req)
	var substrateErr *SubstrateError
	if err == nil || !errors.As(err, &substrateErr) {
		return rec, err
	}

	e.logger.Warn("sandbox substrate failure, falling back to direct execution: %v", err)
	rec, fallbackErr := e.Fallback.Execute(ctx, req)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	rec.DockerFallback = true
	return rec, nil
}
