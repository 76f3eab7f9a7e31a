package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/smartcity/intersection-sim/internal/config"
	"github.com/smartcity/intersection-sim/internal/delivery/http"
	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/repository/postgres"
	"github.com/smartcity/intersection-sim/internal/service"
	"github.com/smartcity/intersection-sim/internal/simulation"
)

var log = logrus.WithField("module", "server")

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment")
	}

	// Configuration
	cfg := loadConfig()
	if err := config.SetupLogging(cfg.LogLevel); err != nil {
		log.Fatal(err)
	}

	scenario, err := config.Load(cfg.ScenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	if cfg.Seed != "" {
		seed, err := strconv.ParseUint(cfg.Seed, 10, 64)
		if err != nil {
			log.Fatalf("SIM_SEED must be an unsigned integer: %v", err)
		}
		scenario.Seed = seed
	}
	phaseCfg := scenario.PhaseConfig()
	if cfg.IntersectionID != "" {
		id, err := strconv.ParseInt(cfg.IntersectionID, 10, 64)
		if err != nil {
			log.Fatalf("INTERSECTION_ID must be an integer: %v", err)
		}
		phaseCfg.IntersectionID = id
	}

	// Database connection
	dataRepo := connectRepository(cfg.DatabaseURL)

	// Dependency Injection: simulation and services.
	// The listener is bound before the services exist, nothing fires until the runner starts.
	var (
		controller *service.PhaseController
		dashboard  *service.DashboardService
	)
	listener := simulation.ListenerFuncs{
		Demand: func(axis domain.Axis) { dashboard.OnDemand(axis) },
		Stats: func(stats domain.Stats) {
			controller.ObserveStats(stats)
			dashboard.OnStats(stats)
		},
	}
	world := simulation.NewWorld(scenario.SimulationConfig(), listener)
	runner := simulation.NewRunner(world, scenario.TickInterval())
	meter := service.NewCongestionMeter(world.Geometry())
	optimizer := service.NewOptimizer(cfg.OptimizerURL, cfg.OptimizerToken)
	controller = service.NewPhaseController(phaseCfg, optimizer, runner, meter)
	dashboard = service.NewDashboardService(controller, meter, dataRepo)
	controller.OnDecision(dashboard.RecordDecision)

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := optimizer.Health(healthCtx); err != nil {
		log.Warnf("Optimizer unavailable, phases will use the local rule until it answers: %v", err)
	}
	healthCancel()

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := runner.Start(appCtx); err != nil {
		log.Fatalf("Failed to start simulation: %v", err)
	}
	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		controller.Run(appCtx)
	}()
	log.Infof("Simulation run %s started (seed %d, %s)", dashboard.RunID(), scenario.Seed, cfg.Env)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "Intersection Simulator API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	http.SetupRoutes(app, http.NewHandler(appCtx, dashboard, controller, runner))

	// Graceful shutdown
	go func() {
		log.Infof("Server starting on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()
	runner.Stop()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Warnf("Server forced to shutdown: %v", err)
	}
	// an in-flight green request may still record a decision
	<-controllerDone
	dashboard.WaitBackground()
	log.Info("Server exited gracefully")
}

// connectRepository falls back to the in-memory store when Postgres is unreachable
func connectRepository(databaseURL string) service.DataRepository {
	if databaseURL == "" {
		log.Info("No DATABASE_URL set, running with in-memory storage")
		return postgres.NewMockRepository()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		log.Warnf("Could not connect to database: %v", err)
		log.Info("Running with in-memory storage")
		if pool != nil {
			pool.Close()
		}
		return postgres.NewMockRepository()
	}

	repo := postgres.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Warnf("Could not prepare database: %v", err)
		pool.Close()
		return postgres.NewMockRepository()
	}
	log.Info("Connected to PostgreSQL")
	return repo
}

type Config struct {
	DatabaseURL    string
	OptimizerURL   string
	OptimizerToken string
	IntersectionID string
	Port           string
	Env            string
	LogLevel       string
	Seed           string
	ScenarioPath   string
}

func loadConfig() *Config {
	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		OptimizerURL:   getEnv("OPTIMIZER_URL", "http://localhost:8080"),
		OptimizerToken: getEnv("OPTIMIZER_TOKEN", ""),
		IntersectionID: getEnv("INTERSECTION_ID", ""),
		Port:           getEnv("PORT", "8081"),
		Env:            getEnv("GO_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Seed:           getEnv("SIM_SEED", ""),
		ScenarioPath:   getEnv("SCENARIO_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
