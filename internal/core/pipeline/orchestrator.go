package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkersu/caravel/internal/core/domain"
	"github.com/mkersu/caravel/internal/core/ports"
)

// Plan is the immutable description of one pipeline run. Every stage reads
// from it; nothing writes to it. Per-run inputs (identity, branches) and the
// static pipeline declaration are merged into a Plan before Run is called.
type Plan struct {
	Identity domain.BuildIdentity
	Image    string

	// Workspace is the host directory bind-mounted into the container.
	Workspace string
	// MountPoint is where the workspace appears inside the container.
	MountPoint string

	Repos    []domain.RepositorySpec
	Branches domain.BranchPreference

	BuildCommands [][]string
	TestCommand   []string
	Artifacts     domain.ArtifactSet

	// Ownership is the uid:gid the workspace is chowned to during cleanup,
	// executed privileged inside the container. Empty disables the fix.
	Ownership string

	// ExecTimeout bounds each individual command inside the container.
	ExecTimeout time.Duration
}

// Report is the run's outcome handed to the caller and, in serve mode, to the
// API. Artifacts stay populated even when the tests failed so the external
// publisher can pick them up.
type Report struct {
	Identity  domain.BuildIdentity    `json:"identity"`
	Stage     domain.Stage            `json:"stage"`
	Checkouts []domain.CheckoutResult `json:"checkouts,omitempty"`
	Tests     *domain.TestOutcome     `json:"tests,omitempty"`
	Err       error                   `json:"-"`
}

// Succeeded reports whether checkout, build, and test all passed.
func (r *Report) Succeeded() bool {
	return r.Err == nil
}

// Orchestrator sequences a pipeline run through its stages and guarantees
// cleanup. The central correctness property: no matter which stage fails, the
// run's container and network are torn down exactly once, and cleanup's own
// partial failures never mask the run's verdict.
type Orchestrator struct {
	runtime  ports.ContainerRuntime
	resolver *Resolver
	logger   *slog.Logger
}

// NewOrchestrator wires an orchestrator from the container runtime and the
// remote branch prober.
func NewOrchestrator(runtime ports.ContainerRuntime, lister ports.BranchLister, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		runtime:  runtime,
		resolver: NewResolver(lister),
		logger:   logger,
	}
}

// cleanupTimeout bounds the teardown calls. Cleanup uses its own deadline
// because the run context may already be cancelled by the time it executes.
const cleanupTimeout = 2 * time.Minute

// Run executes the full pipeline for the given plan. The returned report is
// always non-nil; its Err field carries the first fatal stage error, or the
// test failure when everything else succeeded.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) *Report {
	report := &Report{Identity: plan.Identity, Stage: domain.StageInit}

	checkout := NewCheckoutExecutor(o.runtime, o.resolver, plan.ExecTimeout, o.logger)
	build := NewBuildRunner(o.runtime, plan.MountPoint, plan.ExecTimeout, o.logger)
	test := NewTestRunner(o.runtime, plan.MountPoint, plan.ExecTimeout, o.logger)

	st := &runState{}
	defer o.cleanup(context.WithoutCancel(ctx), plan, st, report)

	if err := o.prepare(ctx, plan, st); err != nil {
		report.Err = err
		return report
	}
	o.advance(report, domain.StagePrepared)

	results, err := checkout.CheckoutAll(ctx, st.handle, plan.Repos, plan.Branches)
	report.Checkouts = results
	if err != nil {
		report.Err = err
		return report
	}
	o.advance(report, domain.StageCheckoutsDone)

	if err := ctx.Err(); err != nil {
		report.Err = err
		return report
	}
	if err := build.Run(ctx, st.handle, plan.BuildCommands); err != nil {
		report.Err = err
		return report
	}
	o.advance(report, domain.StageInterfacesBuilt)

	if err := ctx.Err(); err != nil {
		report.Err = err
		return report
	}
	outcome, err := test.Run(ctx, st.handle, plan.TestCommand, plan.Artifacts)
	report.Tests = &outcome
	o.advance(report, domain.StageTestsRan)
	if err != nil {
		// A test failure decides the verdict but the artifacts above remain
		// locatable for the publisher.
		report.Err = err
	}
	return report
}

// runState tracks which resources prepare managed to create, so cleanup can
// tear down exactly what exists even after a partial prepare.
type runState struct {
	networkCreated   bool
	containerStarted bool
	handle           domain.ContainerHandle
}

func (o *Orchestrator) prepare(ctx context.Context, plan Plan, st *runState) error {
	o.logger.Info("pulling image", "image", plan.Image)
	if err := o.runtime.PullImage(ctx, plan.Image); err != nil {
		return err
	}

	network := plan.Identity.NetworkName()
	o.logger.Info("creating network", "network", network)
	if err := o.runtime.CreateNetwork(ctx, network); err != nil {
		return err
	}
	st.networkCreated = true

	name := plan.Identity.ContainerName()
	o.logger.Info("starting container", "container", name, "image", plan.Image)
	handle, err := o.runtime.RunContainer(ctx, ports.RunSpec{
		Image:   plan.Image,
		Name:    name,
		Network: network,
		Binds:   []string{plan.Workspace + ":" + plan.MountPoint},
	})
	if err != nil {
		return err
	}
	st.handle = handle
	st.containerStarted = true
	return nil
}

// cleanup tears down the run's resources. It runs exactly once per run, on
// every exit path, and tolerates its own sub-step failures: by this point the
// run's verdict is already decided and must not be overwritten.
func (o *Orchestrator) cleanup(ctx context.Context, plan Plan, st *runState, report *Report) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	if st.containerStarted {
		if plan.Ownership != "" {
			// The one privileged exec: hand the workspace back to the host
			// owner before the container goes away.
			_, err := o.runtime.Exec(ctx, st.handle, ports.ExecSpec{
				Cmd:     []string{"chown", "-R", plan.Ownership, plan.MountPoint},
				AsRoot:  true,
				Timeout: plan.ExecTimeout,
			})
			if err != nil {
				o.logger.Warn("workspace ownership fix failed", "error", err)
			}
		}
		if err := o.runtime.StopContainer(ctx, st.handle); err != nil {
			o.logger.Warn("failed to stop container", "container", st.handle.Name, "error", err)
		}
	}
	if st.networkCreated {
		if err := o.runtime.RemoveNetwork(ctx, plan.Identity.NetworkName()); err != nil {
			o.logger.Warn("failed to remove network", "network", plan.Identity.NetworkName(), "error", err)
		}
	}
	report.Stage = domain.StageCleaned
}

func (o *Orchestrator) advance(report *Report, next domain.Stage) {
	if !report.Stage.CanAdvanceTo(next) {
		// Transitions are fixed at compile time; a bad one is a programming
		// error, not a runtime condition.
		panic(fmt.Sprintf("invalid stage transition %s -> %s", report.Stage, next))
	}
	o.logger.Debug("stage complete", "from", report.Stage, "to", next)
	report.Stage = next
}
