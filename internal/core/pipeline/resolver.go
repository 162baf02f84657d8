package pipeline

import (
	"context"
	"fmt"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// Resolver picks, per repository, the branch the checkout executor should
// use. Feature work across related repositories shares a branch name by
// convention, so the resolver walks the preference list in order and takes
// the first branch that exists on the remote, degrading to the trunk default.
type Resolver struct {
	lister ports.BranchLister
}

// NewResolver creates a resolver over the given remote prober.
func NewResolver(lister ports.BranchLister) *Resolver {
	return &Resolver{lister: lister}
}

// Resolve returns the first branch in pref that exists on the repository's
// remote. If none of the preferred branches exist it returns the final
// (default) entry without re-verifying it; the default is a configuration
// invariant, not a runtime question.
func (r *Resolver) Resolve(ctx context.Context, repo domain.RepositorySpec, pref domain.BranchPreference) (string, error) {
	branches, err := r.lister.ListBranches(ctx, repo.URL)
	if err != nil {
		return "", fmt.Errorf("failed to list branches of %s: %w", repo.Name, err)
	}

	existing := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		existing[b] = struct{}{}
	}

	for _, want := range pref {
		if _, ok := existing[want]; ok {
			return want, nil
		}
	}
	return pref.Default(), nil
}
