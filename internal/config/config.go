package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/pipeline"
)

// Pipeline is the static declaration of a pipeline, loaded from YAML.
// Per-run inputs (build identity, branches) arrive separately and are merged
// into a pipeline.Plan via Plan.
type Pipeline struct {
	// Image is the pinned build/test environment image.
	Image string `yaml:"image"`

	// Workspace is the host directory bind-mounted into the container.
	// Usually overridden per run by flag or environment.
	Workspace string `yaml:"workspace"`

	// MountPoint is where the workspace appears inside the container.
	MountPoint string `yaml:"mount_point"`

	// User is the unprivileged in-container account commands run as.
	User string `yaml:"user"`

	// DefaultBranch is the trunk branch that exists on every repository and
	// terminates the branch preference list.
	DefaultBranch string `yaml:"default_branch"`

	// Ownership is the uid:gid the workspace is chowned to during cleanup.
	// Empty disables the ownership fix.
	Ownership string `yaml:"ownership"`

	// ExecTimeout bounds each command inside the container.
	ExecTimeout Duration `yaml:"exec_timeout"`

	Repositories []Repository `yaml:"repositories"`
	Build        Build        `yaml:"build"`
	Test         Test         `yaml:"test"`
}

// Repository declares one dependency repository.
type Repository struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
}

// Build declares the build stage: an interface-definition generation command
// applied to a catalog of named subsystems.
type Build struct {
	// IDLCommand is the generator invocation; the subsystem names are
	// appended as arguments.
	IDLCommand []string `yaml:"idl_command"`
	Subsystems []string `yaml:"subsystems"`
}

// Test declares the test stage command and where its report artifacts land,
// relative to the workspace.
type Test struct {
	Command     []string `yaml:"command"`
	ResultsFile string   `yaml:"results_file"`
	CoverageDir string   `yaml:"coverage_dir"`
}

// Duration lets YAML carry durations as strings ("30m", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

const defaultExecTimeout = Duration(30 * time.Minute)

// Load reads and validates a pipeline declaration.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}
	if p.ExecTimeout == 0 {
		p.ExecTimeout = defaultExecTimeout
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the declaration is complete enough to run.
func (p *Pipeline) Validate() error {
	if p.Image == "" {
		return fmt.Errorf("pipeline: image is required")
	}
	if p.MountPoint == "" {
		return fmt.Errorf("pipeline: mount_point is required")
	}
	if p.User == "" {
		return fmt.Errorf("pipeline: user is required")
	}
	if p.DefaultBranch == "" {
		return fmt.Errorf("pipeline: default_branch is required")
	}
	if len(p.Repositories) == 0 {
		return fmt.Errorf("pipeline: at least one repository is required")
	}
	for i, r := range p.Repositories {
		if r.Name == "" || r.URL == "" || r.Path == "" {
			return fmt.Errorf("pipeline: repository %d needs name, url and path", i)
		}
	}
	if len(p.Build.IDLCommand) == 0 {
		return fmt.Errorf("pipeline: build.idl_command is required")
	}
	if len(p.Test.Command) == 0 {
		return fmt.Errorf("pipeline: test.command is required")
	}
	if p.Ownership != "" {
		parts := strings.Split(p.Ownership, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("pipeline: ownership must be uid:gid, got %q", p.Ownership)
		}
	}
	return nil
}

// Preference assembles the branch preference for a run: the change/PR branch
// when present, then the source branch, then the default. First match wins,
// and duplicates collapse so the default stays the unambiguous last entry.
func (p *Pipeline) Preference(changeBranch, sourceBranch string) domain.BranchPreference {
	var pref domain.BranchPreference
	seen := map[string]bool{}
	for _, b := range []string{changeBranch, sourceBranch, p.DefaultBranch} {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		pref = append(pref, b)
	}
	return pref
}

// Plan merges the declaration with per-run inputs into an executable plan.
func (p *Pipeline) Plan(in pipeline.RunInputs) (pipeline.Plan, error) {
	identity := domain.BuildIdentity{BuildID: in.BuildID, NodeCookie: in.NodeCookie}
	if err := identity.Validate(); err != nil {
		return pipeline.Plan{}, err
	}
	if p.Workspace == "" {
		return pipeline.Plan{}, fmt.Errorf("pipeline: workspace is required")
	}

	repos := make([]domain.RepositorySpec, 0, len(p.Repositories))
	for _, r := range p.Repositories {
		repos = append(repos, domain.RepositorySpec{Name: r.Name, URL: r.URL, Path: r.Path})
	}

	idl := append(append([]string{}, p.Build.IDLCommand...), p.Build.Subsystems...)

	return pipeline.Plan{
		Identity:      identity,
		Image:         p.Image,
		Workspace:     p.Workspace,
		MountPoint:    p.MountPoint,
		Repos:         repos,
		Branches:      p.Preference(in.ChangeBranch, in.SourceBranch),
		BuildCommands: [][]string{idl},
		TestCommand:   append([]string{}, p.Test.Command...),
		Artifacts: domain.ArtifactSet{
			ResultsFile: p.Test.ResultsFile,
			CoverageDir: p.Test.CoverageDir,
		},
		Ownership:   p.Ownership,
		ExecTimeout: time.Duration(p.ExecTimeout),
	}, nil
}
