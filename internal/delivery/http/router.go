package http

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler) {
	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/dashboard", handler.GetDashboard)

		// Simulation
		sim := api.Group("/simulation")
		sim.Get("/snapshot", handler.GetSnapshot)
		sim.Get("/scene", handler.GetScene)
		sim.Get("/frame.png", handler.GetFrame)
		sim.Post("/start", handler.StartSimulation)
		sim.Post("/stop", handler.StopSimulation)
		sim.Post("/vehicles", handler.InjectVehicle)

		// Signal overrides
		api.Put("/signal/mode", handler.SetSignalMode)
		api.Post("/signal/emergency/:type", handler.TriggerEmergency)

		// Controller
		api.Get("/controller/status", handler.GetControllerStatus)
		api.Get("/controller/logs", handler.GetControllerLogs)
		api.Get("/controller/decisions", handler.GetDecisionHistory)

		// History
		api.Get("/stats/history", handler.GetStatsHistory)
	}
}
