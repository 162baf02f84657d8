package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mkersu/caravel/internal/core/pipeline"
)

// RunHandler exposes pipeline runs over HTTP: trigger a run, poll it by ID,
// list known runs. Report publication stays with the external CI platform;
// this surface only hands it the artifact locations.
type RunHandler struct {
	service *pipeline.Service
}

// NewRunHandler creates a run handler over the given service.
func NewRunHandler(service *pipeline.Service) *RunHandler {
	return &RunHandler{service: service}
}

// Register mounts the run routes on the given router group.
func (h *RunHandler) Register(router fiber.Router) {
	runs := router.Group("/runs")
	runs.Post("/", h.StartRun)
	runs.Get("/", h.ListRuns)
	runs.Get("/:id", h.GetRun)
}

// StartRun launches a pipeline run asynchronously and returns its record.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	var req pipeline.RunInputs
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.BuildID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "build_id is required",
		})
	}

	run, err := h.service.Start(c.Context(), req)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(run)
}

// GetRun returns one run by ID.
func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	id := c.Params("id")
	run, ok := h.service.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "run not found",
		})
	}
	return c.JSON(run)
}

// ListRuns returns all known runs, newest first.
func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	return c.JSON(h.service.List())
}
