package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkersu/caravel/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testPlan() Plan {
	return Plan{
		Identity:   domain.BuildIdentity{BuildID: "42", NodeCookie: "abc"},
		Image:      "builder-env:pinned",
		Workspace:  "/srv/ci/ws",
		MountPoint: "/home/builder/repos",
		Repos: []domain.RepositorySpec{
			{Name: "core", URL: "https://git.example.com/core", Path: "/home/builder/repos/core"},
			{Name: "idl", URL: "https://git.example.com/idl", Path: "/home/builder/repos/idl"},
			{Name: "scripts", URL: "https://git.example.com/scripts", Path: "/home/builder/repos/scripts"},
		},
		Branches:      domain.BranchPreference{"feature-x", "master"},
		BuildCommands: [][]string{{"make_idl_files.py", "Test", "Script"}},
		TestCommand:   []string{"pytest", "--junitxml=jenkinsReport/report.xml"},
		Artifacts: domain.ArtifactSet{
			ResultsFile: "jenkinsReport/report.xml",
			CoverageDir: "htmlcov",
		},
		Ownership:   "1003:1003",
		ExecTimeout: time.Minute,
	}
}

// allBranches gives every repo in testPlan both preference branches.
func allBranches(plan Plan, branches ...string) *fakeLister {
	m := map[string][]string{}
	for _, r := range plan.Repos {
		m[r.URL] = branches
	}
	return &fakeLister{branches: m}
}

func TestRunHappyPath(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{}
	orch := NewOrchestrator(rt, allBranches(plan, "feature-x", "master"), testLogger())

	report := orch.Run(context.Background(), plan)

	require.True(t, report.Succeeded(), "report error: %v", report.Err)
	assert.Equal(t, domain.StageCleaned, report.Stage)

	// Resources are namespaced by the build identity.
	assert.Equal(t, []string{"n_42_abc"}, rt.networksCreated)
	require.Len(t, rt.started, 1)
	assert.Equal(t, "c_42_abc", rt.started[0].Name)
	assert.Equal(t, []string{"/srv/ci/ws:/home/builder/repos"}, rt.started[0].Binds)

	// Every repo resolved the feature branch.
	require.Len(t, report.Checkouts, 3)
	for _, res := range report.Checkouts {
		assert.NoError(t, res.Err)
		assert.Equal(t, "feature-x", res.ResolvedBranch)
	}

	// Cleanup ran exactly once, with the privileged ownership fix first.
	assert.Equal(t, []string{"c_42_abc"}, rt.stopped)
	assert.Equal(t, []string{"n_42_abc"}, rt.networksRemoved)
	last := rt.execs[len(rt.execs)-1]
	assert.True(t, last.asRoot, "ownership fix must run privileged")
	assert.Equal(t, []string{"chown", "-R", "1003:1003", "/home/builder/repos"}, last.cmd)

	require.NotNil(t, report.Tests)
	assert.Equal(t, "jenkinsReport/report.xml", report.Tests.Artifacts.ResultsFile)
}

func TestStageCommandsRunFromMountPoint(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{}
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(context.Background(), plan)
	require.True(t, report.Succeeded())

	// Build and test commands resolve their relative paths (report files,
	// coverage dir) against the workspace mount point.
	for _, call := range rt.execs {
		switch call.cmd[0] {
		case "make_idl_files.py", "pytest":
			assert.Equal(t, "/home/builder/repos", call.workDir, "cmd %v", call.cmd)
		case "git":
			assert.Empty(t, call.workDir, "git commands address their repo via -C")
		}
	}
}

func TestRunFallsBackToDefaultBranch(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{}
	// Remotes only carry the default branch.
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(context.Background(), plan)

	require.True(t, report.Succeeded())
	for _, res := range report.Checkouts {
		assert.Equal(t, "master", res.ResolvedBranch)
	}
}

func TestCheckoutFailureIsFailFast(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{
		execErr: func(cmd []string) error {
			// Fail the fetch of the second repo.
			if strings.Contains(strings.Join(cmd, " "), "repos/idl fetch") {
				return &domain.ExecError{Cmd: cmd, ExitCode: 128}
			}
			return nil
		},
	}
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(context.Background(), plan)

	require.False(t, report.Succeeded())
	var failure *domain.CheckoutFailure
	require.ErrorAs(t, report.Err, &failure)
	assert.Equal(t, "idl", failure.Repo.Name)

	// Repo #3 was never touched and the build stage never ran.
	for _, cmd := range rt.execCmds() {
		assert.NotContains(t, cmd, "repos/scripts")
		assert.NotContains(t, cmd, "make_idl_files.py")
		assert.NotContains(t, cmd, "pytest")
	}

	// The partial results still name the failed repo.
	require.Len(t, report.Checkouts, 2)
	assert.Error(t, report.Checkouts[1].Err)

	// Cleanup still tore everything down.
	assert.Equal(t, domain.StageCleaned, report.Stage)
	assert.Equal(t, []string{"c_42_abc"}, rt.stopped)
	assert.Equal(t, []string{"n_42_abc"}, rt.networksRemoved)
}

func TestBuildFailureSkipsTests(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{
		execErr: func(cmd []string) error {
			if cmd[0] == "make_idl_files.py" {
				return &domain.ExecError{Cmd: cmd, ExitCode: 2, Stderr: "generator exploded"}
			}
			return nil
		},
	}
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(context.Background(), plan)

	var failure *domain.BuildFailure
	require.ErrorAs(t, report.Err, &failure)
	assert.Equal(t, 2, failure.ExitCode)
	assert.Nil(t, report.Tests)
	for _, cmd := range rt.execCmds() {
		assert.NotContains(t, cmd, "pytest")
	}
	assert.Equal(t, domain.StageCleaned, report.Stage)
}

func TestTestFailureStillSurfacesArtifacts(t *testing.T) {
	plan := testPlan()
	rt := &fakeRuntime{
		execErr: func(cmd []string) error {
			if cmd[0] == "pytest" {
				return &domain.ExecError{Cmd: cmd, ExitCode: 1}
			}
			return nil
		},
	}
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(context.Background(), plan)

	var failure *domain.TestFailure
	require.ErrorAs(t, report.Err, &failure)
	assert.Equal(t, 1, failure.ExitCode)
	assert.False(t, report.Succeeded())

	// The publisher can still locate the reports.
	require.NotNil(t, report.Tests)
	assert.Equal(t, "jenkinsReport/report.xml", report.Tests.Artifacts.ResultsFile)
	assert.Equal(t, "htmlcov", report.Tests.Artifacts.CoverageDir)
	assert.Equal(t, domain.StageCleaned, report.Stage)
}

func TestCleanupRunsOnEveryFailureEdge(t *testing.T) {
	base := testPlan()

	tests := []struct {
		name          string
		configure     func(rt *fakeRuntime)
		wantStops     int
		wantNetRemove int
	}{
		{
			name:      "image pull fails",
			configure: func(rt *fakeRuntime) { rt.pullErr = &domain.ImagePullError{Ref: base.Image, Err: errors.New("registry down")} },
			// Nothing was created, nothing to tear down.
			wantStops:     0,
			wantNetRemove: 0,
		},
		{
			name:          "network name conflicts",
			configure:     func(rt *fakeRuntime) { rt.netErr = &domain.NetworkConflictError{Name: "n_42_abc"} },
			wantStops:     0,
			wantNetRemove: 0,
		},
		{
			name:          "container start fails",
			configure:     func(rt *fakeRuntime) { rt.startErr = &domain.ContainerStartError{Name: "c_42_abc", Image: base.Image, Err: errors.New("no such image")} },
			wantStops:     0,
			wantNetRemove: 1,
		},
		{
			name: "exec times out during checkout",
			configure: func(rt *fakeRuntime) {
				rt.execErr = func(cmd []string) error {
					if cmd[0] == "git" {
						return &domain.ExecError{Cmd: cmd, Timeout: true, Err: context.DeadlineExceeded}
					}
					return nil
				}
			},
			wantStops:     1,
			wantNetRemove: 1,
		},
		{
			name:          "cleanup tolerates its own failures",
			configure:     func(rt *fakeRuntime) { rt.stopErr = errors.New("already gone"); rt.rmNetErr = errors.New("already gone") },
			wantStops:     1,
			wantNetRemove: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{}
			tt.configure(rt)
			orch := NewOrchestrator(rt, allBranches(base, "master"), testLogger())

			report := orch.Run(context.Background(), base)

			assert.Equal(t, domain.StageCleaned, report.Stage, "cleanup must terminate every run")
			assert.Len(t, rt.stopped, tt.wantStops)
			assert.Len(t, rt.networksRemoved, tt.wantNetRemove)

			if tt.name == "cleanup tolerates its own failures" {
				// Teardown errors never overwrite the verdict.
				assert.True(t, report.Succeeded())
			} else {
				assert.False(t, report.Succeeded())
			}
		})
	}
}

func TestCancellationJumpsToCleanup(t *testing.T) {
	plan := testPlan()
	ctx, cancel := context.WithCancel(context.Background())
	rt := &fakeRuntime{
		execErr: func(cmd []string) error {
			// Cancel mid-checkout; the orchestrator must skip the remaining
			// stages and still clean up.
			cancel()
			return nil
		},
	}
	orch := NewOrchestrator(rt, allBranches(plan, "master"), testLogger())

	report := orch.Run(ctx, plan)

	require.False(t, report.Succeeded())
	assert.ErrorIs(t, report.Err, context.Canceled)
	for _, cmd := range rt.execCmds() {
		assert.NotContains(t, cmd, "make_idl_files.py")
		assert.NotContains(t, cmd, "pytest")
	}
	assert.Equal(t, domain.StageCleaned, report.Stage)
	assert.Equal(t, []string{"c_42_abc"}, rt.stopped)
	assert.Equal(t, []string{"n_42_abc"}, rt.networksRemoved)
}
