package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smartcity/intersection-sim/internal/domain"
)

// History queries return at most this many rows, newest first
const (
	historyStatsLimit     = 500
	historyDecisionsLimit = 100
)

const schema = `
	CREATE TABLE IF NOT EXISTS sim_stats (
		id            BIGSERIAL PRIMARY KEY,
		run_id        UUID NOT NULL,
		frame         BIGINT NOT NULL,
		active_count  INTEGER NOT NULL,
		total_wait    DOUBLE PRECISION NOT NULL,
		total_spawned BIGINT NOT NULL,
		approaching   JSONB NOT NULL DEFAULT '{}',
		queued        JSONB NOT NULL DEFAULT '{}',
		demand_ns     INTEGER NOT NULL,
		demand_ew     INTEGER NOT NULL,
		recorded_at   TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sim_stats_recorded_at_idx ON sim_stats (recorded_at);

	CREATE TABLE IF NOT EXISTS phase_decisions (
		id            BIGSERIAL PRIMARY KEY,
		run_id        UUID NOT NULL,
		axis          TEXT NOT NULL,
		green_seconds INTEGER NOT NULL,
		vehicle_count INTEGER NOT NULL,
		is_mock       BOOLEAN NOT NULL,
		reason        TEXT NOT NULL,
		decided_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS phase_decisions_decided_at_idx ON phase_decisions (decided_at);
`

// DB is the part of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresRepository implements domain.SimulationRepository
type PostgresRepository struct {
	pool DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// SaveStatsSample persists one stats emission to PostgreSQL
func (r *PostgresRepository) SaveStatsSample(ctx context.Context, sample domain.StatsSample) error {
	query := `
		INSERT INTO sim_stats (
			run_id, frame, active_count, total_wait, total_spawned,
			approaching, queued, demand_ns, demand_ew, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	approaching, err := json.Marshal(sample.Stats.Approaching)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode approach counts: %w", err)
	}
	queued, err := json.Marshal(sample.Stats.Queued)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode queue counts: %w", err)
	}

	s := sample.Stats
	_, err = r.pool.Exec(ctx, query,
		sample.RunID, int64(s.Frame), s.ActiveCount, s.TotalWaitTime, int64(s.TotalSpawned),
		approaching, queued, sample.DemandNS, sample.DemandEW, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save stats sample: %w", err)
	}

	return nil
}

// SavePhaseDecision persists a phase decision to PostgreSQL
func (r *PostgresRepository) SavePhaseDecision(ctx context.Context, d domain.PhaseDecision) error {
	query := `
		INSERT INTO phase_decisions (
			run_id, axis, green_seconds, vehicle_count, is_mock, reason, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		d.RunID, string(d.Axis), d.GreenSeconds, d.VehicleCount, d.IsMock, d.Reason, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save phase decision: %w", err)
	}

	return nil
}

// GetHistoricalStats retrieves stats history from PostgreSQL
func (r *PostgresRepository) GetHistoricalStats(ctx context.Context, from, to time.Time) ([]domain.StatsSample, error) {
	query := `
		SELECT run_id, frame, active_count, total_wait, total_spawned,
			   approaching, queued, demand_ns, demand_ew, recorded_at
		FROM sim_stats
		WHERE recorded_at BETWEEN $1 AND $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, from, to, historyStatsLimit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query stats: %w", err)
	}
	defer rows.Close()

	var results []domain.StatsSample
	for rows.Next() {
		var (
			s                   domain.StatsSample
			frame, spawned      int64
			approaching, queued []byte
		)
		err := rows.Scan(
			&s.RunID, &frame, &s.Stats.ActiveCount, &s.Stats.TotalWaitTime, &spawned,
			&approaching, &queued, &s.DemandNS, &s.DemandEW, &s.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan stats row: %w", err)
		}
		s.Stats.Frame, s.Stats.TotalSpawned = uint64(frame), uint64(spawned)
		if err := json.Unmarshal(approaching, &s.Stats.Approaching); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode approach counts: %w", err)
		}
		if err := json.Unmarshal(queued, &s.Stats.Queued); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode queue counts: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read stats rows: %w", err)
	}

	return results, nil
}

// GetPhaseDecisions retrieves phase decision history from PostgreSQL
func (r *PostgresRepository) GetPhaseDecisions(ctx context.Context, from, to time.Time) ([]domain.PhaseDecision, error) {
	query := `
		SELECT run_id, axis, green_seconds, vehicle_count, is_mock, reason, decided_at
		FROM phase_decisions
		WHERE decided_at BETWEEN $1 AND $2
		ORDER BY decided_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, from, to, historyDecisionsLimit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query phase decisions: %w", err)
	}
	defer rows.Close()

	var results []domain.PhaseDecision
	for rows.Next() {
		var (
			d    domain.PhaseDecision
			axis string
		)
		err := rows.Scan(&d.RunID, &axis, &d.GreenSeconds, &d.VehicleCount, &d.IsMock, &d.Reason, &d.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan phase decision row: %w", err)
		}
		d.Axis = domain.Axis(axis)
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read phase decision rows: %w", err)
	}

	return results, nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
