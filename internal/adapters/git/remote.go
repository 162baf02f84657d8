package git

import (
	"context"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/mkersu/caravel/internal/core/ports"
)

// RemoteLister implements ports.BranchLister by listing a remote's refs
// without cloning it (the go-git equivalent of git ls-remote).
type RemoteLister struct{}

// NewRemoteLister creates a remote branch lister.
func NewRemoteLister() *RemoteLister {
	return &RemoteLister{}
}

var _ ports.BranchLister = (*RemoteLister)(nil)

// ListBranches returns the short branch names present on the remote.
func (l *RemoteLister) ListBranches(ctx context.Context, remoteURL string) ([]string, error) {
	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list refs of %s: %w", remoteURL, err)
	}

	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	return branches, nil
}
