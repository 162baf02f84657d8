package main

import (
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/mkersu/caravel/internal/adapters/docker"
	"github.com/mkersu/caravel/internal/adapters/git"
	apihttp "github.com/mkersu/caravel/internal/adapters/http"
	"github.com/mkersu/caravel/internal/config"
	"github.com/mkersu/caravel/internal/core/pipeline"
)

func newServeCmd() *cobra.Command {
	var (
		pipelineFile string
		workspace    string
		addr         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an HTTP API for triggering and inspecting pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			cfg, err := config.Load(pipelineFile)
			if err != nil {
				return err
			}
			if workspace != "" {
				cfg.Workspace = workspace
			}

			runtime, err := docker.NewRuntime(cfg.User)
			if err != nil {
				return err
			}

			orch := pipeline.NewOrchestrator(runtime, git.NewRemoteLister(), logger)
			service := pipeline.NewService(orch, cfg.Plan, logger)
			handler := apihttp.NewRunHandler(service)

			app := fiber.New()
			handler.Register(app.Group("/api").Group("/v1"))

			logger.Info("server starting", "addr", addr)
			return app.Listen(addr)
		},
	}

	cmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "caravel.yaml", "pipeline declaration file")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", envOr("WORKSPACE", ""), "host workspace directory")
	cmd.Flags().StringVar(&addr, "addr", ":3000", "listen address")
	return cmd
}
