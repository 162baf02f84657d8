package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// BuildRunner executes the ordered build commands (interface-definition
// generation for the configured subsystem catalog) inside the container after
// all checkouts succeed. The first non-zero exit aborts the pipeline; the
// test stage never runs after a build failure.
type BuildRunner struct {
	runtime ports.ContainerRuntime
	// workDir is the workspace mount point; build commands resolve their
	// relative paths against it.
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewBuildRunner creates a build stage runner.
func NewBuildRunner(runtime ports.ContainerRuntime, workDir string, timeout time.Duration, logger *slog.Logger) *BuildRunner {
	return &BuildRunner{runtime: runtime, workDir: workDir, timeout: timeout, logger: logger}
}

// Run executes each build command in order, failing fast with a
// *domain.BuildFailure on the first one that does not succeed.
func (r *BuildRunner) Run(ctx context.Context, handle domain.ContainerHandle, commands [][]string) error {
	for _, cmd := range commands {
		r.logger.Info("running build command", "cmd", cmd)
		if _, err := r.runtime.Exec(ctx, handle, ports.ExecSpec{Cmd: cmd, WorkDir: r.workDir, Timeout: r.timeout}); err != nil {
			var execErr *domain.ExecError
			if errors.As(err, &execErr) {
				return &domain.BuildFailure{
					Command:  cmd,
					ExitCode: execErr.ExitCode,
					Output:   execErr.Stdout + execErr.Stderr,
					Err:      err,
				}
			}
			return &domain.BuildFailure{Command: cmd, Err: err}
		}
	}
	return nil
}

// TestRunner executes the test command and reports its exit code along with
// the locations of the generated report artifacts. It does not interpret test
// results beyond success/failure; rendering and publishing belong to an
// external collaborator.
type TestRunner struct {
	runtime ports.ContainerRuntime
	// workDir is the workspace mount point; report artifacts land at paths
	// relative to it.
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTestRunner creates a test stage runner.
func NewTestRunner(runtime ports.ContainerRuntime, workDir string, timeout time.Duration, logger *slog.Logger) *TestRunner {
	return &TestRunner{runtime: runtime, workDir: workDir, timeout: timeout, logger: logger}
}

// Run executes the test command. A non-zero exit is returned as a
// *domain.TestFailure with the outcome still populated, so the caller can
// surface the artifacts; infrastructure errors (timeout, exec plumbing) come
// back as-is with a zero-valued outcome.
func (r *TestRunner) Run(ctx context.Context, handle domain.ContainerHandle, command []string, artifacts domain.ArtifactSet) (domain.TestOutcome, error) {
	r.logger.Info("running tests", "cmd", command)
	outcome := domain.TestOutcome{Artifacts: artifacts}

	_, err := r.runtime.Exec(ctx, handle, ports.ExecSpec{Cmd: command, WorkDir: r.workDir, Timeout: r.timeout})
	if err != nil {
		var execErr *domain.ExecError
		if errors.As(err, &execErr) && !execErr.Timeout && execErr.Err == nil {
			// Ordinary test failure: report artifacts are still in place.
			outcome.ExitCode = execErr.ExitCode
			return outcome, &domain.TestFailure{ExitCode: execErr.ExitCode}
		}
		return outcome, err
	}
	return outcome, nil
}
