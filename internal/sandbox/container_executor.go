package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"alex/internal/logging"
)

// ContainerConfig configures a ContainerExecutor.
type ContainerConfig struct {
	DockerBin string
	BaseImage string // default golang:1.22-alpine
	MemLimit  string // default 512m
	CPUs      string // default 0.5
	Logger    logging.Logger
}

// ContainerExecutor runs the compiled driver inside a Docker container
// launched via the CLI, per §4.2. Scratch directory and container are
// always removed before Execute returns (invariant §8.5): the scratch dir
// via defer os.RemoveAll, the container via --rm on docker run.
type ContainerExecutor struct {
	docker    *dockerClient
	baseImage string
	memLimit  string
	cpus      string
	logger    logging.Logger
}

// NewContainerExecutor builds a ContainerExecutor from cfg, defaulting
// unset fields.
func NewContainerExecutor(cfg ContainerConfig) *ContainerExecutor {
	if cfg.BaseImage == "" {
		cfg.BaseImage = "golang:1.22-alpine"
	}
	if cfg.MemLimit == "" {
		cfg.MemLimit = "512m"
	}
	if cfg.CPUs == "" {
		cfg.CPUs = "0.5"
	}
	return &ContainerExecutor{
		docker:    newDockerClient(cfg.DockerBin),
		baseImage: cfg.BaseImage,
		memLimit:  cfg.MemLimit,
		cpus:      cfg.CPUs,
		logger:    logging.OrNop(cfg.Logger),
	}
}

var _ Executor = (*ContainerExecutor)(nil)

// Execute materializes the driver, runs it in a container, and parses the
// result envelope, per §4.2's numbered protocol.
func (e *ContainerExecutor) Execute(ctx context.Context, req Request) (*ExecutionRecord, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	scratch, err := os.MkdirTemp("", "agentrt-sandbox-")
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to create scratch directory", Cause: err}
	}
	defer os.RemoveAll(scratch)

	source, err := renderDriver(req.Code, req.EntryName, req.Params, req.Depth, req.CallbackURL)
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to render sandbox driver", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(scratch, "driver.go"), []byte(source), 0o444); err != nil {
		return nil, &SubstrateError{Reason: "failed to write sandbox driver", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(scratch, "go.mod"), []byte("module tool\n\ngo 1.22\n"), 0o444); err != nil {
		return nil, &SubstrateError{Reason: "failed to write sandbox go.mod", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := []string{"go", "run", "/tool/driver.go"}
	if len(req.Requirements) > 0 {
		// Requirements become additional `go get` targets before `go run`.
		getArgs := append([]string{"go", "get"}, req.Requirements...)
		cmd = []string{"sh", "-c", shJoin(getArgs) + " && " + shJoin(cmd)}
	}

	output, exitCode, substrateErr := e.docker.runContainer(ctx, runContainerOpts{
		image:    e.baseImage,
		mountSrc: scratch,
		mountDst: "/tool",
		memLimit: e.memLimit,
		cpus:     e.cpus,
		network:  true,
		cmd:      cmd,
	})
	if substrateErr != nil {
		e.logger.Warn("sandbox substrate failure: %v", substrateErr)
		return nil, substrateErr
	}

	envelope, ok := scanLastJSONLine(output)
	if !ok {
		return nil, &SubstrateError{
			Reason: fmt.Sprintf("no parseable JSON line in sandbox output (exit %d)", exitCode),
		}
	}

	rec := envelopeToRecord(envelope, output, exitCode, true, false)
	return rec, nil
}

func envelopeToRecord(envelope map[string]any, rawOutput string, exitCode int, executedInSandbox, dockerFallback bool) *ExecutionRecord {
	rec := &ExecutionRecord{
		ExecutedInSandbox: executedInSandbox,
		DockerFallback:    dockerFallback,
		Stdout:            rawOutput,
		ExitCode:          &exitCode,
		Timestamp:         time.Now(),
	}
	if success, _ := envelope["success"].(bool); success {
		rec.Success = true
		rec.Result = envelope["result"]
	} else {
		rec.Success = false
		if errText, ok := envelope["error"].(string); ok {
			rec.Error = errText
		} else {
			rec.Error = "tool reported failure without an error message"
		}
	}
	return rec
}

func shJoin(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// available reports whether the docker CLI itself is reachable. Nothing
// in the module calls it; FallbackExecutor decides on fallback from the
// error Execute returns.
func (e *ContainerExecutor) available(ctx context.Context) bool {
	return e.docker.Available(ctx)
}
