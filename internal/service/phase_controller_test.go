package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/repository/postgres"
	"github.com/smartcity/intersection-sim/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanner struct {
	mu       sync.Mutex
	reqs     []domain.OptimizationRequest
	green    int
	err      error
	notified []domain.EmergencyType
	during   func() // runs inside NextGreen, before it answers
}

func (f *fakePlanner) NextGreen(ctx context.Context, req domain.OptimizationRequest) (domain.OptimizationResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	green, err, during := f.green, f.err, f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if err != nil {
		return domain.OptimizationResult{}, err
	}
	return domain.OptimizationResult{GreenSeconds: green, Reason: "fake"}, nil
}

func (f *fakePlanner) NotifyEmergency(ctx context.Context, kind domain.EmergencyType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, kind)
	return nil
}

func (f *fakePlanner) requests() []domain.OptimizationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OptimizationRequest(nil), f.reqs...)
}

type fakeSink struct {
	mu     sync.Mutex
	signal domain.SignalState
	rate   float64
}

func (s *fakeSink) SetSignal(signal domain.SignalState) {
	s.mu.Lock()
	s.signal = signal
	s.mu.Unlock()
}

func (s *fakeSink) SetSpawnRate(rate float64) {
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
}

func (s *fakeSink) get() (domain.SignalState, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal, s.rate
}

var (
	nsGreen  = domain.SignalState{NS: domain.ColorGreen, EW: domain.ColorRed}
	ewGreen  = domain.SignalState{NS: domain.ColorRed, EW: domain.ColorGreen}
	ewYellow = domain.SignalState{NS: domain.ColorRed, EW: domain.ColorYellow}
)

func testConfig() PhaseConfig {
	cfg := DefaultPhaseConfig()
	cfg.EmergencySeconds = 5
	cfg.RetrySeconds = 2
	return cfg
}

func newTestController(t *testing.T, green int) (*PhaseController, *fakePlanner, *fakeSink) {
	t.Helper()
	planner := &fakePlanner{green: green}
	sink := &fakeSink{}
	meter := NewCongestionMeter(simulation.DefaultGeometry())
	return NewPhaseController(testConfig(), planner, sink, meter), planner, sink
}

func advance(c *PhaseController, n int) {
	for i := 0; i < n; i++ {
		c.Advance(context.Background())
	}
}

func TestControllerStartsAllRed(t *testing.T) {
	c, planner, sink := newTestController(t, 20)

	st := c.Status()
	assert.Equal(t, domain.StatusInitializing, st.Status)
	signal, rate := sink.get()
	assert.Equal(t, domain.AllRed, signal)
	assert.Zero(t, rate)
	assert.Empty(t, planner.requests())
	assert.Nil(t, st.Density)
}

func TestControllerFirstGreenGoesToCrossAxis(t *testing.T) {
	c, planner, sink := newTestController(t, 20)
	var decisions []domain.PhaseDecision
	c.OnDecision(func(d domain.PhaseDecision) { decisions = append(decisions, d) })

	advance(c, 1)

	reqs := planner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "EAST", reqs[0].Direction)
	assert.Equal(t, int64(1), reqs[0].IntersectionID)
	assert.Equal(t, 60.0, reqs[0].AverageSpeed)

	st := c.Status()
	assert.Equal(t, domain.StatusCounting, st.Status)
	assert.Equal(t, domain.AxisEW, st.Active)
	assert.Equal(t, 20, st.TimeLeft)
	signal, rate := sink.get()
	assert.Equal(t, ewGreen, signal)
	assert.Equal(t, 2.0, rate)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.AxisEW, decisions[0].Axis)
	assert.Equal(t, 20, decisions[0].GreenSeconds)
}

func TestControllerCycle(t *testing.T) {
	c, planner, sink := newTestController(t, 8)
	advance(c, 1)

	advance(c, 7)
	assert.Equal(t, 1, c.Status().TimeLeft)

	advance(c, 1)
	st := c.Status()
	assert.Equal(t, domain.StepYellow, st.Step)
	assert.Equal(t, 3, st.TimeLeft)
	signal, _ := sink.get()
	assert.Equal(t, ewYellow, signal)

	advance(c, 2)
	assert.Len(t, planner.requests(), 1)
	advance(c, 1)

	reqs := planner.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "NORTH", reqs[1].Direction)
	st = c.Status()
	assert.Equal(t, domain.AxisNS, st.Active)
	assert.Equal(t, domain.StepGreen, st.Step)
	signal, _ = sink.get()
	assert.Equal(t, nsGreen, signal)
}

func TestControllerWithoutYellow(t *testing.T) {
	planner := &fakePlanner{green: 2}
	cfg := testConfig()
	cfg.YellowSeconds = 0
	c := NewPhaseController(cfg, planner, &fakeSink{}, NewCongestionMeter(simulation.DefaultGeometry()))

	advance(c, 3)
	assert.Len(t, planner.requests(), 2)
	assert.Equal(t, domain.AxisNS, c.Status().Active)
}

func TestControllerGapOut(t *testing.T) {
	c, _, _ := newTestController(t, 30)
	advance(c, 1)
	c.ObserveStats(domain.Stats{Approaching: map[domain.Direction]int{}})

	advance(c, 1)
	st := c.Status()
	assert.True(t, st.GapOut)
	assert.Equal(t, 4, st.TimeLeft)

	advance(c, 1)
	assert.Equal(t, 3, c.Status().TimeLeft, "gap-out fires once per phase")

	logs := c.Logs()
	assert.Equal(t, "GAP-OUT", logs[len(logs)-1].Type)
}

func TestControllerNoGapOutWithTraffic(t *testing.T) {
	c, _, _ := newTestController(t, 30)
	advance(c, 1)
	c.ObserveStats(domain.Stats{Approaching: map[domain.Direction]int{domain.West: 1}})

	advance(c, 1)
	st := c.Status()
	assert.False(t, st.GapOut)
	assert.Equal(t, 29, st.TimeLeft)
}

func TestControllerNoGapOutNearPhaseEnd(t *testing.T) {
	c, _, _ := newTestController(t, 7)
	advance(c, 1)
	c.ObserveStats(domain.Stats{})

	advance(c, 1) // 7 > 6, cut
	assert.Equal(t, 4, c.Status().TimeLeft)

	c2, _, _ := newTestController(t, 6)
	advance(c2, 1)
	c2.ObserveStats(domain.Stats{})
	advance(c2, 1)
	assert.Equal(t, 5, c2.Status().TimeLeft)
	assert.False(t, c2.Status().GapOut)
}

func TestControllerRequestCarriesWaitingDensity(t *testing.T) {
	c, planner, _ := newTestController(t, 20)
	c.ObserveStats(domain.Stats{Approaching: map[domain.Direction]int{
		domain.East:  2,
		domain.West:  1,
		domain.North: 4,
	}})
	advance(c, 1)

	reqs := planner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 75, reqs[0].VehicleCount)
	assert.Equal(t, 22.5, reqs[0].AverageSpeed)

	st := c.Status()
	assert.Equal(t, 100, st.Density[domain.North])
	assert.Equal(t, 50, st.Density[domain.East])
	assert.Equal(t, 0, st.Density[domain.South])
}

func TestControllerErrorAndRetry(t *testing.T) {
	c, planner, sink := newTestController(t, 20)
	planner.err = errors.New("backend down")

	advance(c, 1)
	assert.Equal(t, domain.StatusError, c.Status().Status)
	signal, rate := sink.get()
	assert.Equal(t, domain.AllRed, signal)
	assert.Zero(t, rate)

	planner.mu.Lock()
	planner.err = nil
	planner.mu.Unlock()

	advance(c, 1)
	assert.Len(t, planner.requests(), 1, "waits before retrying")
	advance(c, 1)
	assert.Len(t, planner.requests(), 2)
	assert.Equal(t, domain.StatusCounting, c.Status().Status)
}

func TestControllerEmergency(t *testing.T) {
	c, planner, sink := newTestController(t, 20)
	var decisions []domain.PhaseDecision
	c.OnDecision(func(d domain.PhaseDecision) { decisions = append(decisions, d) })
	advance(c, 1)

	ctx := context.Background()
	require.NoError(t, c.TriggerEmergency(ctx, domain.EmergencyAmbulance))
	assert.ErrorIs(t, c.TriggerEmergency(ctx, domain.EmergencyPolice), ErrEmergencyActive)
	assert.ErrorIs(t, c.TriggerEmergency(ctx, "TAXI"), ErrUnknownEmergency)
	assert.Equal(t, []domain.EmergencyType{domain.EmergencyAmbulance}, planner.notified)

	st := c.Status()
	assert.Equal(t, domain.EmergencyAmbulance, st.Emergency)
	assert.Equal(t, domain.AxisNS, st.Active)
	assert.Equal(t, 5, st.TimeLeft)
	signal, _ := sink.get()
	assert.Equal(t, nsGreen, signal)
	require.Len(t, decisions, 2)
	assert.Contains(t, decisions[1].Reason, "AMBULANCE")

	// no gap-out while preempted
	c.ObserveStats(domain.Stats{})
	advance(c, 4)
	assert.Equal(t, 1, c.Status().TimeLeft)

	advance(c, 1)
	st = c.Status()
	assert.Empty(t, st.Emergency)
	assert.Equal(t, domain.AxisEW, st.Active)
	assert.Equal(t, "EAST", planner.requests()[1].Direction)
}

func TestControllerEmergencyDropsPendingAnswer(t *testing.T) {
	c, planner, sink := newTestController(t, 20)
	planner.during = func() {
		require.NoError(t, c.TriggerEmergency(context.Background(), domain.EmergencyPolice))
	}

	advance(c, 1)

	st := c.Status()
	assert.Equal(t, domain.EmergencyPolice, st.Emergency)
	assert.Equal(t, domain.AxisEW, st.Active)
	assert.Equal(t, 5, st.TimeLeft, "the late green must not replace the preemption")
	signal, _ := sink.get()
	assert.Equal(t, ewGreen, signal)
}

func TestControllerFailsafeModes(t *testing.T) {
	c, _, sink := newTestController(t, 20)
	advance(c, 1)

	require.NoError(t, c.SetMode(domain.ModeFlashYellow))
	signal, rate := sink.get()
	assert.Equal(t, domain.SignalState{NS: domain.ColorYellow, EW: domain.ColorYellow}, signal)
	assert.Equal(t, 2.0, rate)

	advance(c, 3)
	assert.Equal(t, 20, c.Status().TimeLeft, "failsafe freezes the cycle")

	require.NoError(t, c.SetMode(domain.ModeAllRed))
	signal, _ = sink.get()
	assert.Equal(t, domain.AllRed, signal)

	require.NoError(t, c.SetMode(domain.ModeNormal))
	signal, _ = sink.get()
	assert.Equal(t, ewGreen, signal)
	advance(c, 1)
	assert.Equal(t, 19, c.Status().TimeLeft)

	assert.ErrorIs(t, c.SetMode("disco"), ErrUnknownMode)
}

func TestControllerEmergencyOverridesFailsafe(t *testing.T) {
	c, _, sink := newTestController(t, 20)
	advance(c, 1)
	require.NoError(t, c.SetMode(domain.ModeAllRed))
	require.NoError(t, c.TriggerEmergency(context.Background(), domain.EmergencyFire))

	signal, _ := sink.get()
	assert.Equal(t, nsGreen, signal)

	advance(c, 5)
	st := c.Status()
	assert.Empty(t, st.Emergency)
	assert.Equal(t, domain.StatusInitializing, st.Status)
	signal, _ = sink.get()
	assert.Equal(t, domain.AllRed, signal)
}

func TestControllerLogCapacity(t *testing.T) {
	c, _, _ := newTestController(t, 1)
	cfg := testConfig()
	cfg.YellowSeconds = 0
	c.cfg = cfg

	advance(c, 30)
	logs := c.Logs()
	assert.Len(t, logs, LogCapacity)
	assert.False(t, logs[0].Time.After(logs[len(logs)-1].Time))
}

func TestControllerRun(t *testing.T) {
	planner := &fakePlanner{green: 20}
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	c := NewPhaseController(cfg, planner, &fakeSink{}, NewCongestionMeter(simulation.DefaultGeometry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st := c.Status()
		return st.Status == domain.StatusCounting && st.TimeLeft < 18
	}, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestControllerRunReturnsAfterInFlightDecision(t *testing.T) {
	planner := &fakePlanner{green: 20}
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	meter := NewCongestionMeter(simulation.DefaultGeometry())
	c := NewPhaseController(cfg, planner, &fakeSink{}, meter)
	repo := postgres.NewMockRepository()
	dashboard := NewDashboardService(c, meter, repo)
	c.OnDecision(dashboard.RecordDecision)

	// shutdown lands while the first green is being requested
	ctx, cancel := context.WithCancel(context.Background())
	planner.during = cancel
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	dashboard.WaitBackground()
	stored, err := repo.GetPhaseDecisions(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1, "the decision answered during shutdown is saved")
	assert.Equal(t, domain.AxisEW, stored[0].Axis)
}

func TestControllerDrivesRunner(t *testing.T) {
	runner := simulation.NewRunner(simulation.NewWorld(simulation.DefaultConfig(), nil), time.Millisecond)
	c := NewPhaseController(testConfig(), &fakePlanner{green: 20}, runner, NewCongestionMeter(runner.Geometry()))

	advance(c, 1)
	assert.Equal(t, simulation.Input{Signal: ewGreen, SpawnRate: 2}, runner.Input())
}
