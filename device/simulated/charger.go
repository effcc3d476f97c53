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

// EvCharger is a simulated EV charge point. Vehicle presence and SoC are
// driven externally via Connect/Disconnect, matching the test harness's
// environmental-simulator contract.
type EvCharger struct {
	caps domain.ChargerCapabilities
	clk  domain.Clock

	mu            sync.Mutex
	status        domain.ChargerStatus
	connected     bool
	currentAmps   float64
	vehicleSoC    float64
	targetSoC     float64
	departureTime time.Time
	faulted       bool
}

func NewEvCharger(caps domain.ChargerCapabilities, clk domain.Clock) *EvCharger {
	return &EvCharger{caps: caps, clk: clk, status: domain.ChargerAvailable}
}

func (c *EvCharger) Capabilities() domain.ChargerCapabilities { return c.caps }

// Connect simulates a vehicle plugging in with the given starting/target
// SoC and departure time.
func (c *EvCharger) Connect(vehicleSoC, targetSoC float64, departure time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.vehicleSoC = vehicleSoC
	c.targetSoC = targetSoC
	c.departureTime = departure
	c.status = domain.ChargerPreparing
}

func (c *EvCharger) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.currentAmps = 0
	c.status = domain.ChargerAvailable
}

func (c *EvCharger) ReadState(ctx context.Context) (domain.ChargerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulted {
		return domain.ChargerState{}, errs.NewTransient("simulated charger fault injected", nil)
	}
	return domain.ChargerState{
		Status:            c.status,
		Connected:         c.connected,
		CurrentAmps:       c.currentAmps,
		VehicleSoCPercent: c.vehicleSoC,
		TargetSoCPercent:  c.targetSoC,
		DepartureTime:     c.departureTime,
		Timestamp:         c.clk.Now(),
	}, nil
}

// SetCurrent commands a per-phase current limit in amps; negative values
// request V2X discharge and require V2X capability.
func (c *EvCharger) SetCurrent(ctx context.Context, amps float64) error {
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return errs.NewInvalidInput("non-finite current setpoint", nil)
	}
	if amps < 0 {
		if c.caps.V2X == nil {
			return errs.NewCapabilityViolation("charger has no V2X capability", nil)
		}
		maxDischargeAmps := c.caps.V2X.MaxDischargeKW * 1000 / c.caps.VoltageV / float64(c.caps.PhaseCount)
		if -amps > maxDischargeAmps+1e-6 {
			return errs.NewCapabilityViolation("discharge current exceeds V2X max", nil)
		}
	} else if amps > 0 && amps < c.caps.MinAmps {
		return errs.NewCapabilityViolation("current below charger minimum", nil)
	} else if amps > c.caps.MaxAmps+1e-6 {
		return errs.NewCapabilityViolation("current exceeds charger max", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulted {
		return errs.NewTransient("simulated charger fault injected", nil)
	}
	if !c.connected {
		return errs.NewCapabilityViolation("no vehicle connected", nil)
	}
	c.currentAmps = amps
	switch {
	case amps > 0:
		c.status = domain.ChargerCharging
	case amps < 0:
		c.status = domain.ChargerCharging // discharging, still an active session
	default:
		c.status = domain.ChargerSuspendedEVSE
	}
	return nil
}

func (c *EvCharger) EmergencyShutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentAmps = 0
	if c.connected {
		c.status = domain.ChargerSuspendedEVSE
	} else {
		c.status = domain.ChargerAvailable
	}
	return nil
}

func (c *EvCharger) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulted {
		return device.HealthStatus{Healthy: false, Message: "fault injected", CheckedAt: c.clk.Now()}, nil
	}
	return device.HealthStatus{Healthy: true, CheckedAt: c.clk.Now()}, nil
}

// InjectFault makes subsequent calls fail transiently.
func (c *EvCharger) InjectFault(faulted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faulted = faulted
}
