package simulated

import (
	"context"
	"math"
	"sync"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// Inverter is a simulated hybrid inverter. PV input is driven externally
// via SetPVInput (the test harness's environmental simulator), AC output
// follows the last commanded power.
type Inverter struct {
	caps domain.InverterCapabilities
	clk  domain.Clock

	mu      sync.Mutex
	mode    domain.InverterMode
	pvKW    float64
	acKW    float64
	faulted bool
}

func NewInverter(caps domain.InverterCapabilities, clk domain.Clock) *Inverter {
	return &Inverter{caps: caps, clk: clk, mode: domain.InverterGridTied}
}

func (inv *Inverter) Capabilities() domain.InverterCapabilities { return inv.caps }

// SetPVInput feeds the simulated PV production for the current tick,
// driven by the environmental simulator, not the control loop.
func (inv *Inverter) SetPVInput(kw float64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pvKW = kw
}

func (inv *Inverter) ReadState(ctx context.Context) (domain.InverterState, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.faulted {
		return domain.InverterState{}, errs.NewTransient("simulated inverter fault injected", nil)
	}
	return domain.InverterState{
		Mode:            inv.mode,
		PVPowerKW:       inv.pvKW,
		ACPowerKW:       inv.acKW,
		GridVoltageV:    inv.caps.NominalVoltageV,
		GridFrequencyHz: inv.caps.NominalFreqHz,
		Timestamp:       inv.clk.Now(),
	}, nil
}

func (inv *Inverter) SetPower(ctx context.Context, watts float64) error {
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		return errs.NewInvalidInput("non-finite power setpoint", nil)
	}
	maxW := inv.caps.MaxACPowerKW * 1000
	if math.Abs(watts) > maxW+1e-6 {
		return errs.NewCapabilityViolation("power exceeds inverter max AC rating", nil)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.faulted {
		return errs.NewTransient("simulated inverter fault injected", nil)
	}
	inv.acKW = watts / 1000
	return nil
}

func (inv *Inverter) EmergencyShutdown(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.acKW = 0
	inv.mode = domain.InverterStandby
	return nil
}

func (inv *Inverter) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.faulted {
		return device.HealthStatus{Healthy: false, Message: "fault injected", CheckedAt: inv.clk.Now()}, nil
	}
	return device.HealthStatus{Healthy: true, CheckedAt: inv.clk.Now()}, nil
}

// InjectFault makes subsequent calls fail transiently.
func (inv *Inverter) InjectFault(faulted bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.faulted = faulted
}
