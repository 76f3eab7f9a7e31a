package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartcity/intersection-sim/internal/domain"
)

// recentDecisions is how many phase decisions the dashboard keeps in memory
const recentDecisions = 10

// StatusSource reports the controller state shown on the dashboard
type StatusSource interface {
	Status() domain.ControllerState
}

// DashboardService aggregates all live data and persists the simulator output.
// It receives simulator events as a simulation.Listener.
type DashboardService struct {
	runID    uuid.UUID
	status   StatusSource
	meter    *CongestionMeter
	repo     DataRepository
	log      *logrus.Entry
	demandNS atomic.Int64
	demandEW atomic.Int64

	mu        sync.Mutex
	latest    *domain.Stats
	decisions []domain.PhaseDecision

	wgBg sync.WaitGroup // tracks background goroutines for graceful shutdown
}

// NewDashboardService creates a new dashboard service with a fresh run id
func NewDashboardService(status StatusSource, meter *CongestionMeter, repo DataRepository) *DashboardService {
	return &DashboardService{
		runID:  uuid.New(),
		status: status,
		meter:  meter,
		repo:   repo,
		log:    logrus.WithField("module", "dashboard"),
	}
}

// RunID identifies the samples persisted by this process
func (s *DashboardService) RunID() uuid.UUID {
	return s.runID
}

// WaitBackground blocks until all background save goroutines complete.
// Call during graceful shutdown to avoid dropped writes.
func (s *DashboardService) WaitBackground() {
	s.wgBg.Wait()
}

// OnDemand counts demand raised since the previous stats sample
func (s *DashboardService) OnDemand(axis domain.Axis) {
	if axis == domain.AxisNS {
		s.demandNS.Add(1)
	} else {
		s.demandEW.Add(1)
	}
}

// OnStats records the sample and persists it asynchronously
func (s *DashboardService) OnStats(stats domain.Stats) {
	sample := domain.StatsSample{
		RunID:      s.runID,
		Stats:      stats,
		DemandNS:   int(s.demandNS.Swap(0)),
		DemandEW:   int(s.demandEW.Swap(0)),
		RecordedAt: time.Now(),
	}

	s.mu.Lock()
	s.latest = &sample.Stats
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.repo.SaveStatsSample(ctx, sample)
	}, "stats sample")
}

// RecordDecision tags a phase decision with the run id and persists it asynchronously
func (s *DashboardService) RecordDecision(decision domain.PhaseDecision) {
	decision.RunID = s.runID

	s.mu.Lock()
	s.decisions = append(s.decisions, decision)
	if len(s.decisions) > recentDecisions {
		s.decisions = s.decisions[len(s.decisions)-recentDecisions:]
	}
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.repo.SavePhaseDecision(ctx, decision)
	}, "phase decision")
}

func (s *DashboardService) persist(save func(ctx context.Context) error, what string) {
	s.wgBg.Add(1)
	go func() {
		defer s.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := save(bgCtx); err != nil {
			s.log.Warnf("Failed to save %s: %v", what, err)
		}
	}()
}

// GetDashboardData assembles the live view, checking storage concurrently
func (s *DashboardService) GetDashboardData(ctx context.Context) (domain.DashboardData, error) {
	var (
		storage = "ok"
		wg      sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.repo.Health(ctx); err != nil {
			s.log.Warnf("Dashboard storage check failed: %v", err)
			storage = "unavailable"
		}
	}()

	data := domain.DashboardData{
		RunID:     s.runID,
		Timestamp: time.Now(),
	}
	if s.status != nil {
		data.Controller = s.status.Status()
	}

	s.mu.Lock()
	if s.latest != nil {
		stats := *s.latest
		congestion := s.meter.Assess(stats)
		data.Stats = &stats
		data.Congestion = &congestion
	}
	data.Decisions = append([]domain.PhaseDecision{}, s.decisions...)
	s.mu.Unlock()

	wg.Wait()
	data.Storage = storage

	// Even with a storage failure, return what we have
	return data, nil
}

// GetStatsHistory returns stats samples of the last hours
func (s *DashboardService) GetStatsHistory(ctx context.Context, hours int) ([]domain.StatsSample, error) {
	to := time.Now()
	return s.repo.GetHistoricalStats(ctx, to.Add(-time.Duration(hours)*time.Hour), to)
}

// GetDecisionHistory returns phase decisions of the last hours
func (s *DashboardService) GetDecisionHistory(ctx context.Context, hours int) ([]domain.PhaseDecision, error) {
	to := time.Now()
	return s.repo.GetPhaseDecisions(ctx, to.Add(-time.Duration(hours)*time.Hour), to)
}
