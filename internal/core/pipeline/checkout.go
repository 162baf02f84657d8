package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// CheckoutExecutor brings every dependency repository to its resolved branch
// inside the running build container. Repositories are processed sequentially
// in their declared order: later build stages assume earlier repositories are
// already on disk, so the order is part of the contract, not an optimization
// opportunity.
type CheckoutExecutor struct {
	runtime  ports.ContainerRuntime
	resolver *Resolver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCheckoutExecutor creates a checkout executor. timeout bounds each git
// command inside the container.
func NewCheckoutExecutor(runtime ports.ContainerRuntime, resolver *Resolver, timeout time.Duration, logger *slog.Logger) *CheckoutExecutor {
	return &CheckoutExecutor{runtime: runtime, resolver: resolver, timeout: timeout, logger: logger}
}

// CheckoutAll checks out each repository in order. On the first failure it
// aborts the remaining repositories and returns the results gathered so far
// together with a *domain.CheckoutFailure; no partial recovery is attempted.
func (e *CheckoutExecutor) CheckoutAll(ctx context.Context, handle domain.ContainerHandle, repos []domain.RepositorySpec, pref domain.BranchPreference) ([]domain.CheckoutResult, error) {
	results := make([]domain.CheckoutResult, 0, len(repos))
	for _, repo := range repos {
		branch, err := e.resolver.Resolve(ctx, repo, pref)
		if err != nil {
			results = append(results, domain.CheckoutResult{Repo: repo, Err: err})
			return results, &domain.CheckoutFailure{Repo: repo, Err: err}
		}

		e.logger.Info("checking out repository",
			"repo", repo.Name, "branch", branch, "path", repo.Path)

		if err := e.checkout(ctx, handle, repo, branch); err != nil {
			results = append(results, domain.CheckoutResult{Repo: repo, ResolvedBranch: branch, Err: err})
			return results, &domain.CheckoutFailure{Repo: repo, Err: err}
		}
		results = append(results, domain.CheckoutResult{Repo: repo, ResolvedBranch: branch})
	}
	return results, nil
}

// checkout fetches, hard-checks-out the resolved branch (discarding local
// modifications left by a previous run in the same workspace), then
// fast-forwards to the remote tip.
func (e *CheckoutExecutor) checkout(ctx context.Context, handle domain.ContainerHandle, repo domain.RepositorySpec, branch string) error {
	cmds := [][]string{
		{"git", "-C", repo.Path, "fetch", "--all", "--prune"},
		{"git", "-C", repo.Path, "checkout", "-f", branch},
		{"git", "-C", repo.Path, "pull", "--ff-only"},
	}
	for _, cmd := range cmds {
		if _, err := e.runtime.Exec(ctx, handle, ports.ExecSpec{Cmd: cmd, Timeout: e.timeout}); err != nil {
			return err
		}
	}
	return nil
}
