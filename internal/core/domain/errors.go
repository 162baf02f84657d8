package domain

import (
	"fmt"
	"strings"
)

// ImagePullError reports a failed image pull. Pulls can fail transiently
// (registry, network); retrying is the caller's decision, not the pipeline's.
type ImagePullError struct {
	Ref string
	Err error
}

func (e *ImagePullError) Error() string {
	return fmt.Sprintf("failed to pull image %s: %v", e.Ref, e.Err)
}

func (e *ImagePullError) Unwrap() error { return e.Err }

// NetworkConflictError reports that the run's network name already exists,
// which means two runs share a build identity.
type NetworkConflictError struct {
	Name string
}

func (e *NetworkConflictError) Error() string {
	return fmt.Sprintf("network %s already exists", e.Name)
}

// ContainerStartError reports that the build container could not be created
// or started.
type ContainerStartError struct {
	Name  string
	Image string
	Err   error
}

func (e *ContainerStartError) Error() string {
	return fmt.Sprintf("failed to start container %s from %s: %v", e.Name, e.Image, e.Err)
}

func (e *ContainerStartError) Unwrap() error { return e.Err }

// ExecError reports a command executed inside the container that did not
// succeed, either by exiting non-zero or by hitting its deadline.
type ExecError struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
	Timeout  bool
	Err      error
}

func (e *ExecError) Error() string {
	cmd := strings.Join(e.Cmd, " ")
	if e.Timeout {
		return fmt.Sprintf("exec %q timed out", cmd)
	}
	if e.Err != nil {
		return fmt.Sprintf("exec %q: %v", cmd, e.Err)
	}
	return fmt.Sprintf("exec %q exited with code %d", cmd, e.ExitCode)
}

func (e *ExecError) Unwrap() error { return e.Err }

// CheckoutFailure aborts the checkout stage: the named repository could not
// be fetched, resolved, or checked out, and no later repository was attempted.
type CheckoutFailure struct {
	Repo RepositorySpec
	Err  error
}

func (e *CheckoutFailure) Error() string {
	return fmt.Sprintf("checkout of %s failed: %v", e.Repo.Name, e.Err)
}

func (e *CheckoutFailure) Unwrap() error { return e.Err }

// BuildFailure aborts the pipeline before the test stage runs.
type BuildFailure struct {
	Command  []string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build command %q failed with exit code %d", strings.Join(e.Command, " "), e.ExitCode)
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// TestFailure marks the run as failed without short-circuiting cleanup or
// report publication.
type TestFailure struct {
	ExitCode int
}

func (e *TestFailure) Error() string {
	return fmt.Sprintf("tests failed with exit code %d", e.ExitCode)
}
