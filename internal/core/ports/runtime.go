package ports

import (
	"context"
	"time"

	"github.com/mkersu/caravel/internal/core/domain"
)

// RunSpec specifies the build container to start: detached, auto-removing,
// attached to the run's private network, with the workspace bind-mounted.
type RunSpec struct {
	Image   string
	Name    string
	Network string
	// Binds are host:container bind mounts.
	Binds []string
}

// ExecSpec specifies one command to run inside the build container.
type ExecSpec struct {
	Cmd     []string
	WorkDir string
	// AsRoot runs the command privileged instead of as the runtime's
	// configured build user. The only sanctioned use is the workspace
	// ownership fix during cleanup.
	AsRoot bool
	// Timeout bounds the exec; zero means no deadline beyond the context's.
	Timeout time.Duration
}

// ContainerRuntime is the core's capability over the container engine.
// This interface allows us to switch between Docker, Podman, or Kubernetes
// without changing the pipeline logic, and to substitute a fake in tests.
type ContainerRuntime interface {
	// PullImage fetches the image; it fails with *domain.ImagePullError and
	// is retryable by the caller.
	PullImage(ctx context.Context, ref string) error

	// CreateNetwork creates the run's isolated network; it fails with
	// *domain.NetworkConflictError when the name is taken.
	CreateNetwork(ctx context.Context, name string) error

	// RunContainer creates and starts the build container.
	RunContainer(ctx context.Context, spec RunSpec) (domain.ContainerHandle, error)

	// Exec runs a command synchronously inside the container, capturing both
	// streams. A non-zero exit or an expired timeout yields *domain.ExecError.
	Exec(ctx context.Context, handle domain.ContainerHandle, spec ExecSpec) (domain.ExecResult, error)

	// StopContainer stops the build container. Idempotent: a container that
	// is already gone is not an error.
	StopContainer(ctx context.Context, handle domain.ContainerHandle) error

	// RemoveNetwork removes the run's network. Idempotent like StopContainer.
	RemoveNetwork(ctx context.Context, name string) error
}
