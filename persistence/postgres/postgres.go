// Package postgres implements persistence.SampleSink against a Postgres
// table, adapted directly from the corpus's saveMPCDecisions: a single
// transaction that deletes any existing rows at-or-after the batch's
// earliest timestamp, then upserts every sample, keyed by timestamp.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/homeems/core/domain"
)

// Sink persists BatteryStateSample batches to a `battery_samples` table.
type Sink struct {
	db *sql.DB
}

// Open connects to Postgres using the given DSN, exactly as the teacher
// opens its connection with sql.Open("postgres", ...).
func Open(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error { return s.db.Close() }

// Schema is the DDL the operator is expected to apply before first use,
// mirroring the teacher's expectation that `mpc_decisions` already exists.
const Schema = `
CREATE TABLE IF NOT EXISTS battery_samples (
	timestamp    TIMESTAMPTZ PRIMARY KEY,
	soc_percent  DOUBLE PRECISION NOT NULL,
	power_w      DOUBLE PRECISION NOT NULL,
	voltage_v    DOUBLE PRECISION NOT NULL,
	temperature_c DOUBLE PRECISION NOT NULL,
	health_percent DOUBLE PRECISION NOT NULL,
	status       INTEGER NOT NULL
)`

// SaveSamples implements persistence.SampleSink.
func (s *Sink) SaveSamples(ctx context.Context, samples []domain.BatteryStateSample) error {
	if len(samples) == 0 {
		return nil
	}
	minTimestamp := samples[0].Timestamp
	for _, sample := range samples[1:] {
		if sample.Timestamp.Before(minTimestamp) {
			minTimestamp = sample.Timestamp
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM battery_samples WHERE timestamp >= $1`, minTimestamp); err != nil {
		return fmt.Errorf("postgres: delete existing samples: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO battery_samples (
			timestamp, soc_percent, power_w, voltage_v, temperature_c, health_percent, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (timestamp) DO UPDATE SET
			soc_percent = EXCLUDED.soc_percent,
			power_w = EXCLUDED.power_w,
			voltage_v = EXCLUDED.voltage_v,
			temperature_c = EXCLUDED.temperature_c,
			health_percent = EXCLUDED.health_percent,
			status = EXCLUDED.status
	`)
	if err != nil {
		return fmt.Errorf("postgres: prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx,
			sample.Timestamp,
			sample.State.SoCPercent,
			sample.State.PowerW,
			sample.State.VoltageV,
			sample.State.TemperatureC,
			sample.State.HealthPercent,
			int(sample.State.Status),
		); err != nil {
			return fmt.Errorf("postgres: insert sample at %s: %w", sample.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
