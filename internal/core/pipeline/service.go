package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkersu/caravel/internal/core/domain"
)

// RunStatus is the coarse lifecycle of a run as seen by the API.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one tracked pipeline execution.
type Run struct {
	ID         string               `json:"id"`
	Identity   domain.BuildIdentity `json:"identity"`
	Status     RunStatus            `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Report     *Report              `json:"report,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// RunInputs are the per-run parameters supplied by the caller (CLI flags or
// the HTTP trigger); everything else comes from the pipeline declaration.
type RunInputs struct {
	BuildID      string `json:"build_id"`
	NodeCookie   string `json:"node_cookie"`
	SourceBranch string `json:"source_branch"`
	ChangeBranch string `json:"change_branch"`
}

// PlanFunc builds a concrete Plan from per-run inputs. Provided by the
// configuration layer so the service stays independent of the file format.
type PlanFunc func(in RunInputs) (Plan, error)

// Service launches pipeline runs asynchronously and keeps their records in
// memory for the API to poll. Runs sharing a build identity would collide on
// docker resource names, so the service rejects a launch whose identity is
// already in flight.
type Service struct {
	orch     *Orchestrator
	makePlan PlanFunc
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewService creates a run service.
func NewService(orch *Orchestrator, makePlan PlanFunc, logger *slog.Logger) *Service {
	return &Service{
		orch:     orch,
		makePlan: makePlan,
		logger:   logger,
		runs:     map[string]*Run{},
	}
}

// Start launches a pipeline run in the background and returns its record.
// A missing node cookie is filled in with a generated one; the build ID is
// required since the external CI system owns that namespace.
func (s *Service) Start(ctx context.Context, in RunInputs) (*Run, error) {
	if in.NodeCookie == "" {
		in.NodeCookie = uuid.NewString()[:8]
	}
	plan, err := s.makePlan(in)
	if err != nil {
		return nil, err
	}
	if err := plan.Identity.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Identity:  plan.Identity,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	for _, other := range s.runs {
		if other.Status == RunStatusRunning && other.Identity == plan.Identity {
			s.mu.Unlock()
			return nil, fmt.Errorf("run with identity %s/%s is already in flight",
				plan.Identity.BuildID, plan.Identity.NodeCookie)
		}
	}
	s.runs[run.ID] = run
	s.mu.Unlock()

	// The run outlives the triggering request, so it must not inherit the
	// request's cancellation.
	go s.execute(context.WithoutCancel(ctx), run, plan)

	snapshot := *run
	return &snapshot, nil
}

func (s *Service) execute(ctx context.Context, run *Run, plan Plan) {
	report := s.orch.Run(ctx, plan)

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	run.FinishedAt = &now
	run.Report = report
	if report.Succeeded() {
		run.Status = RunStatusSucceeded
	} else {
		run.Status = RunStatusFailed
		run.Error = report.Err.Error()
	}
	s.logger.Info("run finished", "run", run.ID, "status", run.Status)
}

// Get returns a snapshot of the run with the given ID.
func (s *Service) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns snapshots of all known runs, newest first.
func (s *Service) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
