package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"alex/internal/logging"
)

// InProcessExecutor runs the compiled driver directly on the host via
// `go run`, with no container isolation. It is the fallback that
// FallbackExecutor runs when the containerized executor fails with a
// sandbox_substrate error (§4.2 fallback rule) — "in-process" here means
// "without container isolation", the closest faithful Go analogue of the
// source's direct function call, since genuinely invoking Go source
// in-process with no subprocess has no stdlib equivalent.
type InProcessExecutor struct {
	logger logging.Logger
}

// NewInProcessExecutor builds an InProcessExecutor.
func NewInProcessExecutor(logger logging.Logger) *InProcessExecutor {
	return &InProcessExecutor{logger: logging.OrNop(logger)}
}

var _ Executor = (*InProcessExecutor)(nil)

// Execute renders the driver and runs it with `go run`, uncontained.
func (e *InProcessExecutor) Execute(ctx context.Context, req Request) (*ExecutionRecord, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	scratch, err := os.MkdirTemp("", "agentrt-inprocess-")
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to create scratch directory", Cause: err}
	}
	defer os.RemoveAll(scratch)

	source, err := renderDriver(req.Code, req.EntryName, req.Params, req.Depth, req.CallbackURL)
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to render driver", Cause: err}
	}
	driverPath := filepath.Join(scratch, "driver.go")
	if err := os.WriteFile(driverPath, []byte(source), 0o644); err != nil {
		return nil, &SubstrateError{Reason: "failed to write driver", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", driverPath)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	output := combined.String()

	exitCode := 0
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, &SubstrateError{Reason: "failed to run sandbox driver in-process", Cause: runErr}
		}
	}

	envelope, ok := scanLastJSONLine(output)
	if !ok {
		return nil, &SubstrateError{Reason: fmt.Sprintf("no parseable JSON line in driver output (exit %d)", exitCode)}
	}

	return envelopeToRecord(envelope, output, exitCode, false, true), nil
}
