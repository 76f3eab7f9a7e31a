package domain

import (
	"context"
	"time"
)

// SimulationRepository defines the interface for data persistence
// The domain owns the interface, storage packages implement it
type SimulationRepository interface {
	// SaveStatsSample persists one throttled stats emission
	SaveStatsSample(ctx context.Context, sample StatsSample) error

	// SavePhaseDecision persists a green phase chosen by the controller
	SavePhaseDecision(ctx context.Context, decision PhaseDecision) error

	// GetHistoricalStats retrieves stats samples recorded in a time range
	GetHistoricalStats(ctx context.Context, from, to time.Time) ([]StatsSample, error)

	// GetPhaseDecisions retrieves phase decisions taken in a time range
	GetPhaseDecisions(ctx context.Context, from, to time.Time) ([]PhaseDecision, error)

	// Health checks database connectivity
	Health(ctx context.Context) error
}
