package ports

import "context"

// BranchLister probes a remote repository for its branch names. The branch
// resolver uses it to pick the first preferred branch that actually exists.
type BranchLister interface {
	ListBranches(ctx context.Context, remoteURL string) ([]string, error)
}
