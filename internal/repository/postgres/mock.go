package postgres

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/smartcity/intersection-sim/internal/domain"
)

// Caps of the in-memory store, oldest entries are dropped first
const (
	mockStatsCap     = 5000
	mockDecisionsCap = 1000
)

// MockRepository implements domain.SimulationRepository in memory for
// testing and demo mode
type MockRepository struct {
	mu        sync.RWMutex
	stats     []domain.StatsSample
	decisions []domain.PhaseDecision
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

// SaveStatsSample keeps the sample in memory
func (r *MockRepository) SaveStatsSample(ctx context.Context, sample domain.StatsSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, sample)
	if len(r.stats) > mockStatsCap {
		r.stats = r.stats[len(r.stats)-mockStatsCap:]
	}
	return nil
}

// SavePhaseDecision keeps the decision in memory
func (r *MockRepository) SavePhaseDecision(ctx context.Context, decision domain.PhaseDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision)
	if len(r.decisions) > mockDecisionsCap {
		r.decisions = r.decisions[len(r.decisions)-mockDecisionsCap:]
	}
	return nil
}

// GetHistoricalStats returns up to historyStatsLimit stored samples in range, newest first
func (r *MockRepository) GetHistoricalStats(ctx context.Context, from, to time.Time) ([]domain.StatsSample, error) {
	r.mu.RLock()
	out := lo.Filter(r.stats, func(s domain.StatsSample, _ int) bool {
		return within(s.RecordedAt, from, to)
	})
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if len(out) > historyStatsLimit {
		out = out[:historyStatsLimit]
	}
	return out, nil
}

// GetPhaseDecisions returns up to historyDecisionsLimit stored decisions in range, newest first
func (r *MockRepository) GetPhaseDecisions(ctx context.Context, from, to time.Time) ([]domain.PhaseDecision, error) {
	r.mu.RLock()
	out := lo.Filter(r.decisions, func(d domain.PhaseDecision, _ int) bool {
		return within(d.DecidedAt, from, to)
	})
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	if len(out) > historyDecisionsLimit {
		out = out[:historyDecisionsLimit]
	}
	return out, nil
}

// Health always returns nil in mock mode
func (r *MockRepository) Health(ctx context.Context) error {
	return nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
