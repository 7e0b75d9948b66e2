package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// dockerClient is a minimal CLI-shelling Docker client, adapted from the
// teacher's internal/devops/docker.Client: a type-safe wrapper over
// os/exec rather than a Docker SDK import, since no SDK appears anywhere
// in the example corpus.
type dockerClient struct {
	bin string
}

func newDockerClient(bin string) *dockerClient {
	if bin == "" {
		bin = "docker"
		if p, err := exec.LookPath("docker"); err == nil {
			bin = p
		}
	}
	return &dockerClient{bin: bin}
}

func (c *dockerClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runContainer launches a one-shot container (no -d) with the given
// mounts/limits and returns combined stdout+stderr plus the exit code. It
// never returns a nil *exec.ExitError distinction — callers inspect the
// returned exit code, not the error, to tell tool failure from substrate
// failure.
type runContainerOpts struct {
	image      string
	mountSrc   string
	mountDst   string
	memLimit   string // e.g. "512m"
	cpus       string // e.g. "0.5"
	network    bool
	cmd        []string
}

func (c *dockerClient) runContainer(ctx context.Context, opts runContainerOpts) (output string, exitCode int, substrateErr error) {
	args := []string{"run", "--rm"}
	if opts.mountSrc != "" {
		args = append(args, "-v", opts.mountSrc+":"+opts.mountDst+":ro")
	}
	if opts.memLimit != "" {
		args = append(args, "--memory", opts.memLimit)
	}
	if opts.cpus != "" {
		args = append(args, "--cpus", opts.cpus)
	}
	if !opts.network {
		args = append(args, "--network", "none")
	}
	args = append(args, opts.image)
	args = append(args, opts.cmd...)

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	output = combined.String()

	if runErr == nil {
		return output, 0, nil
	}

	var exitErr *exec.ExitError
	if asExitError(runErr, &exitErr) {
		return output, exitErr.ExitCode(), nil
	}

	// Not a clean non-zero exit: daemon unreachable, image missing,
	// permission denied, context deadline, etc. — a substrate failure.
	return output, -1, &SubstrateError{Reason: "docker run failed to launch or complete", Cause: runErr}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// ImagePull pulls the sandbox base image ahead of time, surfacing a
// substrate error on failure.
func (c *dockerClient) ImagePull(ctx context.Context, image string) error {
	if _, err := c.run(ctx, "pull", image); err != nil {
		return &SubstrateError{Reason: "failed to pull sandbox image " + image, Cause: err}
	}
	return nil
}

// Available reports whether the docker binary responds to `docker info`.
func (c *dockerClient) Available(ctx context.Context) bool {
	_, err := c.run(ctx, "info")
	return err == nil
}
