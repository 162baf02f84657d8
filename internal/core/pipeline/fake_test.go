package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// fakeLister serves branch lists from a map keyed by remote URL.
type fakeLister struct {
	branches map[string][]string
	err      error
}

func (f *fakeLister) ListBranches(ctx context.Context, remoteURL string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.branches[remoteURL], nil
}

// execCall records one command executed through the fake runtime.
type execCall struct {
	cmd     []string
	workDir string
	asRoot  bool
}

func (c execCall) String() string { return strings.Join(c.cmd, " ") }

// fakeRuntime implements ports.ContainerRuntime in memory, recording every
// call and failing on demand via the injectable error fields.
type fakeRuntime struct {
	mu sync.Mutex

	pullErr  error
	netErr   error
	startErr error
	stopErr  error
	rmNetErr error
	// execErr decides per command whether the exec fails; nil means all
	// execs succeed.
	execErr func(cmd []string) error

	pulled          []string
	networksCreated []string
	networksRemoved []string
	started         []ports.RunSpec
	stopped         []string
	execs           []execCall
}

var _ ports.ContainerRuntime = (*fakeRuntime)(nil)

func (f *fakeRuntime) PullImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return f.pullErr
	}
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeRuntime) CreateNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.netErr != nil {
		return f.netErr
	}
	f.networksCreated = append(f.networksCreated, name)
	return nil
}

func (f *fakeRuntime) RunContainer(ctx context.Context, spec ports.RunSpec) (domain.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return domain.ContainerHandle{}, f.startErr
	}
	f.started = append(f.started, spec)
	return domain.ContainerHandle{
		ID:          "fake-" + spec.Name,
		Name:        spec.Name,
		NetworkName: spec.Network,
		Image:       spec.Image,
	}, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, handle domain.ContainerHandle, spec ports.ExecSpec) (domain.ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, execCall{cmd: spec.Cmd, workDir: spec.WorkDir, asRoot: spec.AsRoot})
	errFn := f.execErr
	f.mu.Unlock()
	if errFn != nil {
		if err := errFn(spec.Cmd); err != nil {
			return domain.ExecResult{}, err
		}
	}
	return domain.ExecResult{}, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, handle domain.ContainerHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, handle.Name)
	return f.stopErr
}

func (f *fakeRuntime) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networksRemoved = append(f.networksRemoved, name)
	return f.rmNetErr
}

// execCmds returns the recorded commands joined for easy matching.
func (f *fakeRuntime) execCmds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.execs))
	for _, c := range f.execs {
		out = append(out, c.String())
	}
	return out
}
