package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/repository/postgres"
	"github.com/smartcity/intersection-sim/internal/service"
	"github.com/smartcity/intersection-sim/internal/simulation"
)

type testServer struct {
	app        *fiber.App
	runner     *simulation.Runner
	controller *service.PhaseController
	dashboard  *service.DashboardService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	runner := simulation.NewRunner(simulation.NewWorld(simulation.DefaultConfig(), nil), time.Millisecond)
	meter := service.NewCongestionMeter(runner.Geometry())
	controller := service.NewPhaseController(service.DefaultPhaseConfig(), service.NewOptimizer("", ""), runner, meter)
	dashboard := service.NewDashboardService(controller, meter, postgres.NewMockRepository())
	controller.OnDecision(dashboard.RecordDecision)
	t.Cleanup(func() {
		runner.Stop()
		dashboard.WaitBackground()
	})

	app := fiber.New()
	SetupRoutes(app, NewHandler(context.Background(), dashboard, controller, runner))
	return &testServer{app: app, runner: runner, controller: controller, dashboard: dashboard}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestSimulationLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/simulation/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.runner.Running())

	resp, _ = s.do(t, http.MethodPost, "/api/v1/simulation/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Eventually(t, func() bool { return s.runner.Snapshot().Frame > 0 }, time.Second, time.Millisecond)

	resp, body := s.do(t, http.MethodPost, "/api/v1/simulation/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["running"])
	assert.False(t, s.runner.Running())
}

func TestSnapshotAndScene(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/v1/simulation/snapshot", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(0), data["frame"])
	assert.Equal(t, map[string]any{"NS": "red", "EW": "red"}, data["signal"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/simulation/scene", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	scene := body["data"].(map[string]any)
	assert.Equal(t, float64(800), scene["width"])
	assert.NotEmpty(t, scene["shapes"])
}

func TestFramePNG(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/simulation/frame.png", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestInjectVehicle(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/simulation/vehicles", `{"direction":"N","class":"TRUCK","before_stop_line":50,"speed":2}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/simulation/vehicles", `{"direction":"Q","speed":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/simulation/vehicles", `{"direction":"N","class":"BUS"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, s.runner.Start(context.Background()))
	require.Eventually(t, func() bool { return len(s.runner.Snapshot().Vehicles) > 0 }, time.Second, time.Millisecond)
	s.runner.Stop()
	v := s.runner.Snapshot().Vehicles[0]
	assert.Equal(t, domain.North, v.Direction)
	assert.Equal(t, simulation.ClassTruck, v.Class)
}

func TestSignalMode(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPut, "/api/v1/signal/mode", `{"mode":"flash-yellow"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "flash-yellow", data["mode"])
	assert.Equal(t, domain.ColorYellow, s.runner.Input().Signal.NS)

	resp, _ = s.do(t, http.MethodPut, "/api/v1/signal/mode", `{"mode":"strobe"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/api/v1/signal/mode", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTriggerEmergency(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/signal/emergency/police", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "POLICE", data["emergency"])
	assert.Equal(t, "EW", data["active_axis"])
	assert.Equal(t, domain.ColorGreen, s.runner.Input().Signal.EW)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/signal/emergency/AMBULANCE", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/signal/emergency/taxi", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/api/v1/controller/logs", "")
	assert.Equal(t, float64(1), body["count"])

	s.dashboard.WaitBackground()
	_, body = s.do(t, http.MethodGet, "/api/v1/controller/decisions", "")
	assert.Equal(t, float64(1), body["count"])
}

func TestDashboardAndHistory(t *testing.T) {
	s := newTestServer(t)
	s.controller.Advance(context.Background())
	s.dashboard.OnStats(domain.Stats{Frame: 30, Approaching: map[domain.Direction]int{domain.North: 2}})
	s.dashboard.WaitBackground()

	resp, body := s.do(t, http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["storage"])
	assert.Equal(t, "COUNTING", data["controller"].(map[string]any)["status"])
	assert.Len(t, data["recent_decisions"], 1)

	for _, path := range []string{
		"/api/v1/stats/history",
		"/api/v1/stats/history?hours=2",
		"/api/v1/stats/history?hours=9999",
	} {
		resp, body = s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, float64(1), body["count"], path)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/controller/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EW", body["data"].(map[string]any)["active_axis"])
}
