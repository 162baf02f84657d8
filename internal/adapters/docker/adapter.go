package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// Runtime implements ports.ContainerRuntime using the Docker SDK.
type Runtime struct {
	cli *client.Client
	// user is the unprivileged account commands run as unless the exec spec
	// asks for root.
	user string
}

// NewRuntime creates a new Docker runtime. user is the in-container build
// account (e.g. "builder").
func NewRuntime(user string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{cli: cli, user: user}, nil
}

// PullImage fetches the image, consuming the progress stream so the pull
// actually completes before returning. The daemon reports registry failures
// in-band on a 200 stream, so the messages must be decoded, not just drained.
func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	reader, err := r.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return &domain.ImagePullError{Ref: ref, Err: err}
	}
	defer reader.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return &domain.ImagePullError{Ref: ref, Err: err}
	}
	return nil
}

// CreateNetwork creates the run's private network.
func (r *Runtime) CreateNetwork(ctx context.Context, name string) error {
	_, err := r.cli.NetworkCreate(ctx, name, types.NetworkCreate{CheckDuplicate: true})
	if err != nil {
		if errdefs.IsConflict(err) {
			return &domain.NetworkConflictError{Name: name}
		}
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return nil
}

// RunContainer creates and starts the detached build container. AutoRemove
// means a plain stop during cleanup also deletes it.
func (r *Runtime) RunContainer(ctx context.Context, spec ports.RunSpec) (domain.ContainerHandle, error) {
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			// Keep the container's entrypoint alive between execs.
			Tty: true,
		},
		&container.HostConfig{
			AutoRemove: true,
			Binds:      spec.Binds,
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		},
		nil, spec.Name)
	if err != nil {
		return domain.ContainerHandle{}, &domain.ContainerStartError{Name: spec.Name, Image: spec.Image, Err: err}
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return domain.ContainerHandle{}, &domain.ContainerStartError{Name: spec.Name, Image: spec.Image, Err: err}
	}

	return domain.ContainerHandle{
		ID:          resp.ID,
		Name:        spec.Name,
		NetworkName: spec.Network,
		Image:       spec.Image,
	}, nil
}

// Exec runs a command synchronously inside the container and captures both
// output streams. A non-zero exit or an expired per-call timeout comes back
// as *domain.ExecError.
func (r *Runtime) Exec(ctx context.Context, handle domain.ContainerHandle, spec ports.ExecSpec) (domain.ExecResult, error) {
	user := r.user
	if spec.AsRoot {
		user = "root"
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	created, err := r.cli.ContainerExecCreate(ctx, handle.ID, types.ExecConfig{
		User:         user,
		Cmd:          spec.Cmd,
		WorkingDir:   spec.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return domain.ExecResult{}, r.execError(ctx, spec, err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return domain.ExecResult{}, r.execError(ctx, spec, err)
	}
	defer attach.Close()

	// The hijacked attach connection is not context-aware: nothing on the
	// stream read path watches ctx, so a silent long-running command would
	// block the copy past any deadline. Closing the connection is what
	// unblocks it.
	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		attach.Close()
		<-copied
		return domain.ExecResult{}, r.execError(ctx, spec, ctx.Err())
	case err := <-copied:
		if err != nil {
			return domain.ExecResult{}, r.execError(ctx, spec, err)
		}
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return domain.ExecResult{}, r.execError(ctx, spec, err)
	}

	result := domain.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if inspect.ExitCode != 0 {
		return result, &domain.ExecError{
			Cmd:      spec.Cmd,
			ExitCode: inspect.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return result, nil
}

// execError distinguishes a per-call timeout from plain exec plumbing errors.
func (r *Runtime) execError(ctx context.Context, spec ports.ExecSpec, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ExecError{Cmd: spec.Cmd, Timeout: true, Err: err}
	}
	return &domain.ExecError{Cmd: spec.Cmd, Err: err}
}

// StopContainer stops the build container. AutoRemove takes care of deleting
// it afterwards; a container that is already gone is fine.
func (r *Runtime) StopContainer(ctx context.Context, handle domain.ContainerHandle) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := r.cli.ContainerStop(ctx, handle.ID, container.StopOptions{})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", handle.Name, err)
	}
	return nil
}

// RemoveNetwork removes the run's network; already-removed is fine.
func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	err := r.cli.NetworkRemove(ctx, name)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}
