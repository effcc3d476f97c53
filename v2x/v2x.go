// Package v2x implements the vehicle-to-X discharge sub-controller: a
// seven-gate chain, evaluated in order, gating an EV charger's optional
// discharge capability. Consulted by the main controller before the
// PowerFlowModel runs each tick, whenever an EV is connected.
package v2x

import (
	"time"

	"github.com/homeems/core/domain"
)

// Mode selects the V2X operating policy.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeV2G
	ModeSmart
)

// Config holds the tunables for the gate chain, mirroring the teacher's
// scalar-threshold config style (PriceLimit-style fields compared
// directly, no derived state).
type Config struct {
	Mode Mode
	// MinDrivingRangeSoCPercent is the floor below which the vehicle is
	// never discharged regardless of price (default 50).
	MinDrivingRangeSoCPercent float64
	// PeakHourStart/End bound an optional hour-of-day window (default
	// 17-21). Equal values disable the peak-hours gate.
	PeakHourStart, PeakHourEnd int
	// MinPriceDifferentialSEKPerKWh is the minimum (current - average)
	// price gap required for V2G/Smart modes (default 0.5).
	MinPriceDifferentialSEKPerKWh float64
	// MaxDischargeKW is the configured ceiling, independent of the
	// charger's own V2XCapability.MaxDischargeKW nameplate limit.
	MaxDischargeKW float64
}

// DefaultConfig returns the spec-pinned defaults.
func DefaultConfig() Config {
	return Config{
		Mode: ModeDisabled, MinDrivingRangeSoCPercent: 50,
		PeakHourStart: 17, PeakHourEnd: 21,
		MinPriceDifferentialSEKPerKWh: 0.5,
	}
}

// EmergencyStopChecker is the narrow view of safety.Monitor this package
// needs — the non-negotiable final gate.
type EmergencyStopChecker interface {
	EmergencyStopActive() bool
}

// Decision is the gate chain's outcome.
type Decision struct {
	ShouldDischarge bool
	TargetKW        float64
	Reason          string
}

func reject(reason string) Decision { return Decision{Reason: reason} }

// Evaluate runs the seven gates in spec order, short-circuiting at the
// first failure, and computes a headroom-scaled discharge target when
// every gate passes.
func Evaluate(cfg Config, caps domain.ChargerCapabilities, state domain.ChargerState, currentPrice, averagePrice float64, now time.Time, safety EmergencyStopChecker) Decision {
	// 1. V2X capability present.
	if caps.V2X == nil {
		return reject("not_supported")
	}
	// 2. Mode not Disabled.
	if cfg.Mode == ModeDisabled {
		return reject("mode_disabled")
	}
	// 3. Vehicle connected.
	if !state.Connected {
		return reject("not_connected")
	}
	// 4. Vehicle SoC above the driving-range reserve.
	if state.VehicleSoCPercent < cfg.MinDrivingRangeSoCPercent {
		return reject("soc_below_minimum")
	}
	// 5. Optional peak-hours window.
	if cfg.PeakHourStart != cfg.PeakHourEnd && !inHourWindow(now.Hour(), cfg.PeakHourStart, cfg.PeakHourEnd) {
		return reject("outside_peak_hours")
	}
	// 6. Price differential gate, V2G/Smart only.
	if cfg.Mode == ModeV2G || cfg.Mode == ModeSmart {
		if currentPrice-averagePrice < cfg.MinPriceDifferentialSEKPerKWh {
			return reject("price_differential_not_met")
		}
	}
	// 7. Safety override — non-negotiable, checked last.
	if safety.EmergencyStopActive() {
		return reject("emergency_stop_active")
	}

	maxKW := cfg.MaxDischargeKW
	if caps.V2X.MaxDischargeKW < maxKW || maxKW == 0 {
		maxKW = caps.V2X.MaxDischargeKW
	}
	scale := headroomScale(state.VehicleSoCPercent, caps.V2X.MinSoCReserve)
	return Decision{ShouldDischarge: true, TargetKW: maxKW * scale, Reason: "v2x_discharge"}
}

// headroomScale linearly scales from 0 at the reserve SoC to 1 at 100%,
// the same linear-interpolation-by-headroom idea as the corpus's
// SteppedHysteresis, reused here as a plain continuous scale rather than
// a stepped state machine.
func headroomScale(socPercent, reserve float64) float64 {
	span := 100 - reserve
	if span <= 0 {
		return 0
	}
	scale := (socPercent - reserve) / span
	if scale < 0 {
		return 0
	}
	if scale > 1 {
		return 1
	}
	return scale
}

func inHourWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	// window wraps past midnight
	return hour >= start || hour < end
}
