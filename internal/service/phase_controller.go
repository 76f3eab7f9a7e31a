package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartcity/intersection-sim/internal/domain"
)

var (
	ErrEmergencyActive  = errors.New("controller: an emergency is already active")
	ErrUnknownEmergency = errors.New("controller: unknown emergency type")
	ErrUnknownMode      = errors.New("controller: unknown failsafe mode")
)

// LogCapacity is the number of controller log entries kept
const LogCapacity = 12

// GreenPlanner decides the green duration of the next phase
type GreenPlanner interface {
	NextGreen(ctx context.Context, req domain.OptimizationRequest) (domain.OptimizationResult, error)
}

// EmergencyNotifier is optionally implemented by a GreenPlanner that wants to
// hear about preemptions
type EmergencyNotifier interface {
	NotifyEmergency(ctx context.Context, kind domain.EmergencyType) error
}

// SignalSink receives the light state and spawn rate the controller decides on.
// simulation.Runner implements it.
type SignalSink interface {
	SetSignal(signal domain.SignalState)
	SetSpawnRate(rate float64)
}

// PhaseConfig holds the phase timings. Durations in seconds are whole
// countdown steps.
type PhaseConfig struct {
	IntersectionID   int64
	SpawnRate        float64       // spawn multiplier while a phase runs
	YellowSeconds    int           // clearance after each green, 0 disables
	EmergencySeconds int           // green held for a preempting vehicle
	GapOutDensity    int           // green approach peak occupancy that counts as empty
	GapOutAbove      int           // gap-out only when more than this is left
	GapOutTo         int           // countdown after a gap-out
	RetrySeconds     int           // wait in ERROR before asking again
	RequestTimeout   time.Duration // bound on one backend call
	TickInterval     time.Duration // length of one countdown step
}

// DefaultPhaseConfig returns the timings of the reference dashboard
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		IntersectionID:   1,
		SpawnRate:        2.0,
		YellowSeconds:    3,
		EmergencySeconds: 60,
		GapOutDensity:    10,
		GapOutAbove:      6,
		GapOutTo:         4,
		RetrySeconds:     5,
		RequestTimeout:   5 * time.Second,
		TickInterval:     time.Second,
	}
}

// PhaseController runs the signal cycle of one intersection. It alternates the
// two axes, asks a GreenPlanner how long each green lasts, cuts greens short
// on an empty approach and yields to emergency vehicles and failsafe modes.
type PhaseController struct {
	cfg     PhaseConfig
	planner GreenPlanner
	sink    SignalSink
	meter   *CongestionMeter
	log     *logrus.Entry
	now     func() time.Time

	mu         sync.Mutex
	state      domain.ControllerState
	stats      domain.Stats
	haveStats  bool
	retryIn    int
	epoch      uint64 // bumped by every override so stale backend answers are dropped
	logs       []domain.LogEntry
	onDecision func(domain.PhaseDecision)
}

// NewPhaseController creates a controller in INITIALIZING with all lights red
func NewPhaseController(cfg PhaseConfig, planner GreenPlanner, sink SignalSink, meter *CongestionMeter) *PhaseController {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	c := &PhaseController{
		cfg:     cfg,
		planner: planner,
		sink:    sink,
		meter:   meter,
		log:     logrus.WithField("module", "controller"),
		now:     time.Now,
		state: domain.ControllerState{
			Status: domain.StatusInitializing,
			Active: domain.AxisNS,
			Step:   domain.StepGreen,
			Mode:   domain.ModeNormal,
		},
	}
	c.mu.Lock()
	c.applyLocked()
	c.mu.Unlock()
	return c
}

// OnDecision registers fn to be called with every green phase handed out
func (c *PhaseController) OnDecision(fn func(domain.PhaseDecision)) {
	c.mu.Lock()
	c.onDecision = fn
	c.mu.Unlock()
}

// ObserveStats feeds the latest simulator stats; it never blocks on the backend
func (c *PhaseController) ObserveStats(stats domain.Stats) {
	c.mu.Lock()
	c.stats = stats
	c.haveStats = true
	c.mu.Unlock()
}

// Run advances the controller once per TickInterval until ctx is done
func (c *PhaseController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.Advance(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Advance(ctx)
		}
	}
}

// Advance performs one countdown step. It blocks for the backend call when a
// phase ends, so it must be called from a single goroutine.
func (c *PhaseController) Advance(ctx context.Context) {
	c.mu.Lock()
	next, ask := c.advanceLocked()
	var req domain.OptimizationRequest
	var epoch uint64
	if ask {
		req, epoch = c.beginRequestLocked(next)
	}
	c.mu.Unlock()

	if ask {
		c.request(ctx, next, req, epoch)
	}
}

// advanceLocked moves the countdown and reports whether a new green must be requested
func (c *PhaseController) advanceLocked() (domain.Axis, bool) {
	s := &c.state
	next := s.Active.Other()

	if s.Mode != domain.ModeNormal && s.Emergency == "" {
		return next, false
	}

	switch s.Status {
	case domain.StatusInitializing:
		return next, true
	case domain.StatusError:
		c.retryIn--
		return next, c.retryIn <= 0
	case domain.StatusWaitingBackend:
		return next, false
	}

	if s.Emergency != "" {
		s.TimeLeft--
		if s.TimeLeft > 0 {
			return next, false
		}
		c.addLocked("INFO", fmt.Sprintf("emergency %s cleared, resuming normal cycle", s.Emergency))
		s.Emergency = ""
		if s.Mode != domain.ModeNormal {
			s.Status = domain.StatusInitializing
			c.applyLocked()
			return next, false
		}
		return next, true
	}

	if s.Step == domain.StepGreen && c.gapOutLocked() {
		return next, false
	}

	s.TimeLeft--
	if s.TimeLeft > 0 {
		return next, false
	}
	if s.Step == domain.StepGreen && c.cfg.YellowSeconds > 0 {
		s.Step = domain.StepYellow
		s.TimeLeft = c.cfg.YellowSeconds
		c.applyLocked()
		return next, false
	}
	return next, true
}

// gapOutLocked cuts the green short once per phase when its approaches are empty
func (c *PhaseController) gapOutLocked() bool {
	s := &c.state
	if s.GapOut || !c.haveStats || s.TimeLeft <= c.cfg.GapOutAbove {
		return false
	}
	density := c.meter.Peak(c.stats, s.Active)
	if density >= c.cfg.GapOutDensity {
		return false
	}
	s.GapOut = true
	s.TimeLeft = c.cfg.GapOutTo
	c.addLocked("GAP-OUT", fmt.Sprintf("%s approaches empty (density %d), cutting green to %ds", s.Active, density, c.cfg.GapOutTo))
	return true
}

func (c *PhaseController) beginRequestLocked(next domain.Axis) (domain.OptimizationRequest, uint64) {
	s := &c.state
	s.Status = domain.StatusWaitingBackend
	s.GapOut = false
	s.TimeLeft = 0
	c.applyLocked()

	waiting := 0
	if c.haveStats {
		waiting = c.meter.Waiting(c.stats, next)
	}
	req := domain.OptimizationRequest{
		IntersectionID: c.cfg.IntersectionID,
		VehicleCount:   waiting,
		AverageSpeed:   math.Max(10, 60-float64(waiting)/2),
		Direction:      next.APIDirection(),
	}
	c.addLocked("REQ", fmt.Sprintf("requesting green for %s (%d waiting)", req.Direction, waiting))
	return req, c.epoch
}

func (c *PhaseController) request(ctx context.Context, next domain.Axis, req domain.OptimizationRequest, epoch uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	result, err := c.planner.NextGreen(reqCtx, req)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.log.Infof("dropping green for %s, an override took over", next)
		return
	}
	s := &c.state
	if err != nil {
		s.Status = domain.StatusError
		c.retryIn = c.cfg.RetrySeconds
		c.addLocked("ERR", fmt.Sprintf("backend failed: %v", err))
		c.applyLocked()
		c.mu.Unlock()
		c.log.Errorf("next green request failed: %v", err)
		return
	}
	green := result.GreenSeconds
	if green < 1 {
		green = 1
	}
	s.Active = next
	s.Step = domain.StepGreen
	s.TimeLeft = green
	s.Status = domain.StatusCounting
	source := "backend"
	if result.IsMock {
		source = "fallback"
	}
	c.addLocked("SUCCESS", fmt.Sprintf("%s green for %ds (%s)", next, green, source))
	c.applyLocked()
	decision := domain.PhaseDecision{
		Axis:         next,
		GreenSeconds: green,
		VehicleCount: req.VehicleCount,
		IsMock:       result.IsMock,
		Reason:       result.Reason,
		DecidedAt:    c.now(),
	}
	hook := c.onDecision
	c.mu.Unlock()

	if hook != nil {
		hook(decision)
	}
}

// TriggerEmergency preempts the cycle and holds the emergency axis green
func (c *PhaseController) TriggerEmergency(ctx context.Context, kind domain.EmergencyType) error {
	axis, ok := kind.Axis()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEmergency, kind)
	}

	c.mu.Lock()
	busy := c.state.Emergency != ""
	c.mu.Unlock()
	if busy {
		return ErrEmergencyActive
	}

	if n, ok := c.planner.(EmergencyNotifier); ok {
		if err := n.NotifyEmergency(ctx, kind); err != nil {
			c.log.Warnf("emergency notification failed, preempting locally: %v", err)
		}
	}

	c.mu.Lock()
	s := &c.state
	if s.Emergency != "" {
		c.mu.Unlock()
		return ErrEmergencyActive
	}
	c.epoch++
	s.Emergency = kind
	s.Active = axis
	s.Step = domain.StepGreen
	s.TimeLeft = c.cfg.EmergencySeconds
	s.GapOut = false
	s.Status = domain.StatusCounting
	c.addLocked("ALERT", fmt.Sprintf("%s approaching, holding %s green for %ds", kind, axis, c.cfg.EmergencySeconds))
	c.applyLocked()
	decision := domain.PhaseDecision{
		Axis:         axis,
		GreenSeconds: c.cfg.EmergencySeconds,
		Reason:       fmt.Sprintf("emergency preemption: %s", kind),
		DecidedAt:    c.now(),
	}
	hook := c.onDecision
	c.mu.Unlock()

	if hook != nil {
		hook(decision)
	}
	return nil
}

// SetMode switches the failsafe mode. A failsafe freezes the cycle, normal resumes it.
func (c *PhaseController) SetMode(mode domain.FailsafeMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Mode == mode {
		return nil
	}
	c.epoch++
	if c.state.Status == domain.StatusWaitingBackend {
		// the dropped request is asked again once the cycle resumes
		c.state.Status = domain.StatusInitializing
	}
	c.state.Mode = mode
	c.addLocked("MODE", fmt.Sprintf("failsafe mode %s", mode))
	c.applyLocked()
	return nil
}

// Status returns a copy of the controller state
func (c *PhaseController) Status() domain.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	if c.haveStats {
		out.Density = c.meter.Densities(c.stats)
	}
	return out
}

// Logs returns the retained log entries, oldest first
func (c *PhaseController) Logs() []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LogEntry(nil), c.logs...)
}

func (c *PhaseController) addLocked(kind, msg string) {
	c.logs = append(c.logs, domain.LogEntry{Time: c.now(), Type: kind, Message: msg})
	if len(c.logs) > LogCapacity {
		c.logs = c.logs[len(c.logs)-LogCapacity:]
	}
	c.log.WithField("event", kind).Info(msg)
}

// applyLocked derives the lights and spawn rate from the state and hands them to the sink
func (c *PhaseController) applyLocked() {
	s := &c.state
	signal := domain.AllRed
	running := false

	switch {
	case s.Emergency != "":
		signal = lit(s.Active, domain.ColorGreen)
		running = true
	case s.Mode == domain.ModeFlashYellow:
		signal = domain.SignalState{NS: domain.ColorYellow, EW: domain.ColorYellow}
		running = true
	case s.Mode == domain.ModeAllRed:
		running = true
	case s.Status == domain.StatusCounting && s.Step == domain.StepYellow:
		signal = lit(s.Active, domain.ColorYellow)
		running = true
	case s.Status == domain.StatusCounting:
		signal = lit(s.Active, domain.ColorGreen)
		running = true
	}

	rate := 0.0
	if running {
		rate = c.cfg.SpawnRate
	}
	s.Signal = signal
	s.SpawnRate = rate
	if c.sink != nil {
		c.sink.SetSignal(signal)
		c.sink.SetSpawnRate(rate)
	}
}

func lit(axis domain.Axis, color domain.Color) domain.SignalState {
	if axis == domain.AxisNS {
		return domain.SignalState{NS: color, EW: domain.ColorRed}
	}
	return domain.SignalState{NS: domain.ColorRed, EW: color}
}
