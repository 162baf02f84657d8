package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mkersu/caravel/internal/adapters/docker"
	"github.com/mkersu/caravel/internal/adapters/git"
	"github.com/mkersu/caravel/internal/config"
	"github.com/mkersu/caravel/internal/core/pipeline"
)

// envOr returns the flag default taken from the environment, matching the
// variables a CI agent already exports.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRunCmd() *cobra.Command {
	var (
		pipelineFile string
		workspace    string
		inputs       pipeline.RunInputs
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and exit non-zero on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			cfg, err := config.Load(pipelineFile)
			if err != nil {
				return err
			}
			if workspace != "" {
				cfg.Workspace = workspace
			}
			if inputs.NodeCookie == "" {
				inputs.NodeCookie = uuid.NewString()[:8]
			}

			runtime, err := docker.NewRuntime(cfg.User)
			if err != nil {
				return err
			}

			plan, err := cfg.Plan(inputs)
			if err != nil {
				return err
			}

			// On SIGINT/SIGTERM remaining stages are skipped and the run
			// jumps straight to cleanup.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			orch := pipeline.NewOrchestrator(runtime, git.NewRemoteLister(), logger)
			report := orch.Run(ctx, plan)

			for _, res := range report.Checkouts {
				if res.Err == nil {
					logger.Info("checked out", "repo", res.Repo.Name, "branch", res.ResolvedBranch)
				}
			}
			if report.Tests != nil {
				logger.Info("test artifacts",
					"results", report.Tests.Artifacts.ResultsFile,
					"coverage", report.Tests.Artifacts.CoverageDir)
			}
			if !report.Succeeded() {
				return fmt.Errorf("pipeline failed at stage %s: %w", report.Stage, report.Err)
			}
			logger.Info("pipeline succeeded", "build", plan.Identity.BuildID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "caravel.yaml", "pipeline declaration file")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", envOr("WORKSPACE", ""), "host workspace directory")
	cmd.Flags().StringVar(&inputs.BuildID, "build-id", envOr("BUILD_ID", ""), "unique build identifier")
	cmd.Flags().StringVar(&inputs.NodeCookie, "node-cookie", envOr("NODE_COOKIE", ""), "per-agent cookie for resource names")
	cmd.Flags().StringVar(&inputs.SourceBranch, "branch", envOr("BRANCH_NAME", ""), "source branch under build")
	cmd.Flags().StringVar(&inputs.ChangeBranch, "change-branch", envOr("CHANGE_BRANCH", ""), "PR/change branch, if any")
	return cmd
}
