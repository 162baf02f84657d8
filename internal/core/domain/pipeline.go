package domain

import "fmt"

// RepositorySpec identifies one dependency repository the pipeline checks out.
type RepositorySpec struct {
	// Name is the short repository name (e.g. "ts_xml").
	Name string `json:"name"`
	// URL is the remote the branch resolver probes.
	URL string `json:"url"`
	// Path is the repository's location inside the build container.
	Path string `json:"path"`
}

// BranchPreference is an ordered list of branch names to try, most specific
// first. The last entry is a stable default assumed to exist on every remote;
// that assumption is validated at configuration load, not re-verified per repo.
type BranchPreference []string

// Default returns the final fallback branch.
func (p BranchPreference) Default() string {
	return p[len(p)-1]
}

// Validate checks the preference list is usable.
func (p BranchPreference) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("branch preference: must not be empty")
	}
	for i, b := range p {
		if b == "" {
			return fmt.Errorf("branch preference: entry %d is empty", i)
		}
	}
	return nil
}

// CheckoutResult records the outcome of checking out one repository.
type CheckoutResult struct {
	Repo           RepositorySpec `json:"repo"`
	ResolvedBranch string         `json:"resolved_branch,omitempty"`
	Err            error          `json:"-"`
}

// ContainerHandle refers to the one live container of a pipeline run.
// It is created during prepare and destroyed during cleanup regardless of
// the run's outcome.
type ContainerHandle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NetworkName string `json:"network_name"`
	Image       string `json:"image"`
}

// ExecResult carries the captured outcome of a command executed inside the
// build container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ArtifactSet names the report artifacts a run produces for the external
// publisher, relative to the workspace.
type ArtifactSet struct {
	// ResultsFile is the structured test-results file (e.g. junit XML).
	ResultsFile string `json:"results_file"`
	// CoverageDir is the static HTML coverage report directory.
	CoverageDir string `json:"coverage_dir"`
}

// TestOutcome is what the test stage hands back to the orchestrator: the raw
// exit code plus the artifact locations, which remain publishable even when
// the tests failed.
type TestOutcome struct {
	ExitCode  int         `json:"exit_code"`
	Artifacts ArtifactSet `json:"artifacts"`
}
