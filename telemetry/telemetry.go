// Package telemetry defines the outbound push surface the controller uses
// to stream tick snapshots and re-optimized schedules to observers,
// specified only at its interface per the system boundary — a
// WebSocket-backed implementation lives in telemetry/ws.
package telemetry

import "github.com/homeems/core/domain"

// Publisher pushes a PowerSnapshot after every control tick and a Schedule
// after every successful re-optimization. Implementations must not block
// the caller on a slow or absent subscriber.
type Publisher interface {
	PublishSnapshot(domain.PowerSnapshot)
	PublishSchedule(domain.Schedule)
}

// Nop discards everything published. Used when no telemetry sink is
// configured.
type Nop struct{}

func (Nop) PublishSnapshot(domain.PowerSnapshot) {}
func (Nop) PublishSchedule(domain.Schedule)       {}
