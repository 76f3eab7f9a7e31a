package http

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/render"
	"github.com/smartcity/intersection-sim/internal/service"
	"github.com/smartcity/intersection-sim/internal/simulation"
)

// Handler contains all HTTP handlers
type Handler struct {
	ctx          context.Context // server lifetime, parent of the simulation loop
	dashboardSvc *service.DashboardService
	controller   *service.PhaseController
	runner       *simulation.Runner
	log          *logrus.Entry
}

// NewHandler creates a new handler. ctx bounds simulation runs started over HTTP.
func NewHandler(ctx context.Context, dashboardSvc *service.DashboardService, controller *service.PhaseController, runner *simulation.Runner) *Handler {
	return &Handler{
		ctx:          ctx,
		dashboardSvc: dashboardSvc,
		controller:   controller,
		runner:       runner,
		log:          logrus.WithField("module", "http"),
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "intersection-sim",
		"version": "1.0.0",
		"running": h.runner.Running(),
	})
}

// GetDashboard returns aggregated live data
func (h *Handler) GetDashboard(c *fiber.Ctx) error {
	ctx := c.Context()

	data, err := h.dashboardSvc.GetDashboardData(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch dashboard data")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// GetSnapshot returns the world state after the latest tick
func (h *Handler) GetSnapshot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.runner.Snapshot(),
	})
}

// GetScene returns the display list of the latest frame
func (h *Handler) GetScene(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    render.Draw(h.runner.Snapshot(), h.runner.Geometry()),
	})
}

// GetFrame returns the latest frame as a PNG image
func (h *Handler) GetFrame(c *fiber.Ctx) error {
	scene := render.Draw(h.runner.Snapshot(), h.runner.Geometry())

	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, scene); err != nil {
		h.log.Errorf("Failed to encode frame %d: %v", scene.Frame, err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to render frame")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

// StartSimulation begins ticking the world
func (h *Handler) StartSimulation(c *fiber.Ctx) error {
	if err := h.runner.Start(h.ctx); err != nil {
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			return fiber.NewError(fiber.StatusConflict, "Simulation already running")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to start simulation")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"running": true,
	})
}

// StopSimulation pauses the world; vehicles are kept for the next start
func (h *Handler) StopSimulation(c *fiber.Ctx) error {
	h.runner.Stop()

	return c.JSON(fiber.Map{
		"success": true,
		"running": false,
		"frame":   h.runner.Snapshot().Frame,
	})
}

// InjectVehicle queues a hand-placed vehicle for the next tick
func (h *Handler) InjectVehicle(c *fiber.Ctx) error {
	var spec simulation.VehicleSpec
	if err := c.BodyParser(&spec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.runner.Inject(spec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data":    spec,
	})
}

type modeRequest struct {
	Mode domain.FailsafeMode `json:"mode"`
}

// SetSignalMode switches between the normal cycle and the failsafe modes
func (h *Handler) SetSignalMode(c *fiber.Ctx) error {
	var req modeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.controller.SetMode(req.Mode); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.controller.Status(),
	})
}

// TriggerEmergency preempts the cycle for an emergency vehicle
func (h *Handler) TriggerEmergency(c *fiber.Ctx) error {
	kind := domain.EmergencyType(strings.ToUpper(strings.Clone(c.Params("type"))))

	err := h.controller.TriggerEmergency(c.Context(), kind)
	switch {
	case errors.Is(err, service.ErrUnknownEmergency):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrEmergencyActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to trigger emergency")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.controller.Status(),
	})
}

// GetControllerStatus returns the phase controller state
func (h *Handler) GetControllerStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.controller.Status(),
	})
}

// GetControllerLogs returns the recent controller events, oldest first
func (h *Handler) GetControllerLogs(c *fiber.Ctx) error {
	logs := h.controller.Logs()

	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
		"count":   len(logs),
	})
}

// GetStatsHistory returns stats samples within a time range
func (h *Handler) GetStatsHistory(c *fiber.Ctx) error {
	ctx := c.Context()

	data, err := h.dashboardSvc.GetStatsHistory(ctx, historyHours(c))
	if err != nil {
		h.log.Errorf("Failed to fetch stats history: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch stats history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// GetDecisionHistory returns phase decisions within a time range
func (h *Handler) GetDecisionHistory(c *fiber.Ctx) error {
	ctx := c.Context()

	data, err := h.dashboardSvc.GetDecisionHistory(ctx, historyHours(c))
	if err != nil {
		h.log.Errorf("Failed to fetch decision history: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch decision history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

func historyHours(c *fiber.Ctx) int {
	hours := c.QueryInt("hours", 24)
	if hours < 1 || hours > 720 { // max 30 days
		hours = 24
	}
	return hours
}
