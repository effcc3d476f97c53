// Package persistence defines the SampleSink collaborator the controller
// drains its BatteryStateSample ring into, specified only at its interface
// per the system boundary — concrete storage lives in persistence/postgres.
package persistence

import (
	"context"

	"github.com/homeems/core/domain"
)

// SampleSink accepts a batch of battery-state samples for durable storage.
// Implementations must be safe to call from the controller's shutdown
// path, where ctx may already be near its deadline.
type SampleSink interface {
	SaveSamples(ctx context.Context, samples []domain.BatteryStateSample) error
}

// NopSink discards every sample. Used when no PostgresConnString is
// configured, the same "persistence is optional" stance the teacher takes
// when config.PostgresConnString is empty.
type NopSink struct{}

func (NopSink) SaveSamples(context.Context, []domain.BatteryStateSample) error { return nil }
