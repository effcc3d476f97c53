// Package simulated provides physics-light simulated Battery, Inverter,
// and EvCharger implementations used by the test harness and
// `cmd/emsd -simulate`. SoC integration follows the backward-looking
// interval accounting of the corpus's home battery simulator: energy
// moved during [lastTime, now) is attributed to the power level commanded
// at lastTime, clamped so the battery never charges past capacity or
// discharges below zero.
package simulated

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// Battery is a simulated stationary battery with linear SoC integration.
type Battery struct {
	caps domain.BatteryCapabilities
	clk  domain.Clock

	mu       sync.Mutex
	socWh    float64
	powerW   float64
	lastTime time.Time
	status   domain.BatteryStatus
	faulted  bool
}

// NewBattery creates a simulated battery starting at the given SoC.
func NewBattery(caps domain.BatteryCapabilities, initialSoCPercent float64, clk domain.Clock) *Battery {
	capacityWh := caps.CapacityKWh * 1000
	return &Battery{
		caps:   caps,
		clk:    clk,
		socWh:  capacityWh * initialSoCPercent / 100,
		status: domain.BatteryIdle,
	}
}

func (b *Battery) Capabilities() domain.BatteryCapabilities { return b.caps }

func (b *Battery) ReadState(ctx context.Context) (domain.BatteryState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faulted {
		return domain.BatteryState{}, errs.NewTransient("simulated battery fault injected", nil)
	}

	b.integrate(b.clk.Now())
	capacityWh := b.caps.CapacityKWh * 1000
	socPercent := 0.0
	if capacityWh > 0 {
		socPercent = b.socWh / capacityWh * 100
	}
	return domain.BatteryState{
		SoCPercent:  socPercent,
		PowerW:      b.powerW,
		VoltageV:    400,
		TemperatureC: 25,
		HealthPercent: 100,
		Status:      b.status,
		Timestamp:   b.clk.Now(),
	}, nil
}

// SetPower commands signed power (positive = charge) after validating
// against capability. It does not itself integrate SoC; integration
// happens lazily in ReadState/integrate so elapsed time is always
// measured against the wall clock, not call cadence.
func (b *Battery) SetPower(ctx context.Context, watts float64) error {
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		return errs.NewInvalidInput("non-finite power setpoint", nil)
	}
	maxChargeW := b.caps.MaxChargeKW * 1000
	maxDischargeW := b.caps.MaxDischargeKW * 1000
	if watts > maxChargeW+1e-6 {
		return errs.NewCapabilityViolation("power exceeds max charge", nil)
	}
	if watts < -maxDischargeW-1e-6 {
		return errs.NewCapabilityViolation("power exceeds max discharge", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.faulted {
		return errs.NewTransient("simulated battery fault injected", nil)
	}
	b.integrate(b.clk.Now())
	b.powerW = watts
	switch {
	case watts > 0:
		b.status = domain.BatteryCharging
	case watts < 0:
		b.status = domain.BatteryDischarging
	default:
		b.status = domain.BatteryIdle
	}
	return nil
}

func (b *Battery) EmergencyShutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.integrate(b.clk.Now())
	b.powerW = 0
	b.status = domain.BatteryIdle
	return nil
}

func (b *Battery) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.faulted {
		return device.HealthStatus{Healthy: false, Message: "fault injected", CheckedAt: b.clk.Now()}, nil
	}
	return device.HealthStatus{Healthy: true, CheckedAt: b.clk.Now()}, nil
}

// InjectFault makes subsequent calls fail transiently, for test harnesses
// exercising the stale-data / I/O-error paths.
func (b *Battery) InjectFault(faulted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faulted = faulted
}

// integrate advances SoC using the power level commanded since lastTime,
// clamped to [0, capacity]. Must be called with mu held.
func (b *Battery) integrate(now time.Time) {
	if b.lastTime.IsZero() {
		b.lastTime = now
		return
	}
	dt := now.Sub(b.lastTime).Seconds()
	if dt <= 0 {
		return
	}
	capacityWh := b.caps.CapacityKWh * 1000
	energyWh := b.powerW * dt / 3600 * b.caps.RoundTripEfficiency
	b.socWh += energyWh
	if b.socWh > capacityWh {
		b.socWh = capacityWh
	}
	if b.socWh < 0 {
		b.socWh = 0
	}
	b.lastTime = now
}
