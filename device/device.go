// Package device defines the uniform async contract every controllable
// device (battery, inverter, EV charger) exposes to the control loop, plus
// a HealthStatus/liveness shape shared by every variant. Concrete
// variants live in the device/simulated, device/mock, device/modbus, and
// device/ocpp subpackages; the controller is never aware of which one is
// mounted.
package device

import (
	"context"
	"time"

	"github.com/homeems/core/domain"
)

// IOTimeout is the hard deadline applied to any outward device call that
// doesn't carry its own context deadline already. Modbus-class I/O per
// the teacher's handler.Timeout convention.
const IOTimeout = 5 * time.Second

// HealthStatus is the result of a cheap liveness probe.
type HealthStatus struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// Battery is the control-loop contract for a stationary battery.
type Battery interface {
	// ReadState returns the latest known state. May fail transiently (I/O
	// error, stale read); callers treat a failed read as "last good state
	// is no longer trustworthy", not as a zero state.
	ReadState(ctx context.Context) (domain.BatteryState, error)
	// SetPower commands signed power in watts (positive = charge). Must
	// validate against Capabilities before emission.
	SetPower(ctx context.Context, watts float64) error
	// Capabilities is pure and cached; it never performs I/O.
	Capabilities() domain.BatteryCapabilities
	// EmergencyShutdown brings the battery to zero power and leaves it
	// safe to leave. Idempotent. The safety monitor may call this
	// directly, bypassing SetPower.
	EmergencyShutdown(ctx context.Context) error
	// HealthCheck is a cheap liveness probe, cheaper than ReadState.
	HealthCheck(ctx context.Context) (HealthStatus, error)
}

// Inverter is the control-loop contract for the household inverter.
type Inverter interface {
	ReadState(ctx context.Context) (domain.InverterState, error)
	SetPower(ctx context.Context, watts float64) error
	Capabilities() domain.InverterCapabilities
	EmergencyShutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) (HealthStatus, error)
}

// EvCharger is the control-loop contract for the EV charge point.
type EvCharger interface {
	ReadState(ctx context.Context) (domain.ChargerState, error)
	// SetCurrent commands a per-phase current limit in amps. Negative
	// values request V2X discharge on chargers with V2XCapability;
	// callers must check Capabilities().V2X before requesting a negative
	// value.
	SetCurrent(ctx context.Context, amps float64) error
	Capabilities() domain.ChargerCapabilities
	EmergencyShutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) (HealthStatus, error)
}
