// Package mock provides scriptable Battery/Inverter/EvCharger test
// doubles. Each method delegates to an overridable function field,
// following the teacher's dependency-injection style
// (minerDiscoveryFunc): tests assign the field they want to control and
// leave the rest at their default (successful, zero-value) behavior.
package mock

import (
	"context"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
)

// Battery is a scriptable device.Battery test double.
type Battery struct {
	CapabilitiesFunc      func() domain.BatteryCapabilities
	ReadStateFunc         func(ctx context.Context) (domain.BatteryState, error)
	SetPowerFunc          func(ctx context.Context, watts float64) error
	EmergencyShutdownFunc func(ctx context.Context) error
	HealthCheckFunc       func(ctx context.Context) (device.HealthStatus, error)

	// LastSetPowerW records the most recent successful SetPower argument,
	// for assertions without needing a custom SetPowerFunc.
	LastSetPowerW float64
	ShutdownCalls int
}

func (b *Battery) Capabilities() domain.BatteryCapabilities {
	if b.CapabilitiesFunc != nil {
		return b.CapabilitiesFunc()
	}
	return domain.BatteryCapabilities{CapacityKWh: 10, MaxChargeKW: 5, MaxDischargeKW: 5, RoundTripEfficiency: 0.95}
}

func (b *Battery) ReadState(ctx context.Context) (domain.BatteryState, error) {
	if b.ReadStateFunc != nil {
		return b.ReadStateFunc(ctx)
	}
	return domain.BatteryState{SoCPercent: 50, Status: domain.BatteryIdle, Timestamp: time.Now()}, nil
}

func (b *Battery) SetPower(ctx context.Context, watts float64) error {
	if b.SetPowerFunc != nil {
		return b.SetPowerFunc(ctx, watts)
	}
	b.LastSetPowerW = watts
	return nil
}

func (b *Battery) EmergencyShutdown(ctx context.Context) error {
	b.ShutdownCalls++
	if b.EmergencyShutdownFunc != nil {
		return b.EmergencyShutdownFunc(ctx)
	}
	b.LastSetPowerW = 0
	return nil
}

func (b *Battery) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	if b.HealthCheckFunc != nil {
		return b.HealthCheckFunc(ctx)
	}
	return device.HealthStatus{Healthy: true, CheckedAt: time.Now()}, nil
}

// Inverter is a scriptable device.Inverter test double.
type Inverter struct {
	CapabilitiesFunc      func() domain.InverterCapabilities
	ReadStateFunc         func(ctx context.Context) (domain.InverterState, error)
	SetPowerFunc          func(ctx context.Context, watts float64) error
	EmergencyShutdownFunc func(ctx context.Context) error
	HealthCheckFunc       func(ctx context.Context) (device.HealthStatus, error)

	LastSetPowerW float64
	ShutdownCalls int
}

func (inv *Inverter) Capabilities() domain.InverterCapabilities {
	if inv.CapabilitiesFunc != nil {
		return inv.CapabilitiesFunc()
	}
	return domain.InverterCapabilities{MaxACPowerKW: 10, MaxPVInputKW: 12, PhaseCount: 3, PhaseFuseAmps: 25, NominalVoltageV: 230, NominalFreqHz: 50}
}

func (inv *Inverter) ReadState(ctx context.Context) (domain.InverterState, error) {
	if inv.ReadStateFunc != nil {
		return inv.ReadStateFunc(ctx)
	}
	return domain.InverterState{Mode: domain.InverterGridTied, Timestamp: time.Now()}, nil
}

func (inv *Inverter) SetPower(ctx context.Context, watts float64) error {
	if inv.SetPowerFunc != nil {
		return inv.SetPowerFunc(ctx, watts)
	}
	inv.LastSetPowerW = watts
	return nil
}

func (inv *Inverter) EmergencyShutdown(ctx context.Context) error {
	inv.ShutdownCalls++
	if inv.EmergencyShutdownFunc != nil {
		return inv.EmergencyShutdownFunc(ctx)
	}
	inv.LastSetPowerW = 0
	return nil
}

func (inv *Inverter) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	if inv.HealthCheckFunc != nil {
		return inv.HealthCheckFunc(ctx)
	}
	return device.HealthStatus{Healthy: true, CheckedAt: time.Now()}, nil
}

// EvCharger is a scriptable device.EvCharger test double.
type EvCharger struct {
	CapabilitiesFunc      func() domain.ChargerCapabilities
	ReadStateFunc         func(ctx context.Context) (domain.ChargerState, error)
	SetCurrentFunc        func(ctx context.Context, amps float64) error
	EmergencyShutdownFunc func(ctx context.Context) error
	HealthCheckFunc       func(ctx context.Context) (device.HealthStatus, error)

	LastSetCurrentAmps float64
	ShutdownCalls      int
}

func (c *EvCharger) Capabilities() domain.ChargerCapabilities {
	if c.CapabilitiesFunc != nil {
		return c.CapabilitiesFunc()
	}
	return domain.ChargerCapabilities{PhaseCount: 3, MinAmps: 6, MaxAmps: 16, VoltageV: 230}
}

func (c *EvCharger) ReadState(ctx context.Context) (domain.ChargerState, error) {
	if c.ReadStateFunc != nil {
		return c.ReadStateFunc(ctx)
	}
	return domain.ChargerState{Status: domain.ChargerAvailable, Timestamp: time.Now()}, nil
}

func (c *EvCharger) SetCurrent(ctx context.Context, amps float64) error {
	if c.SetCurrentFunc != nil {
		return c.SetCurrentFunc(ctx, amps)
	}
	c.LastSetCurrentAmps = amps
	return nil
}

func (c *EvCharger) EmergencyShutdown(ctx context.Context) error {
	c.ShutdownCalls++
	if c.EmergencyShutdownFunc != nil {
		return c.EmergencyShutdownFunc(ctx)
	}
	c.LastSetCurrentAmps = 0
	return nil
}

func (c *EvCharger) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	if c.HealthCheckFunc != nil {
		return c.HealthCheckFunc(ctx)
	}
	return device.HealthStatus{Healthy: true, CheckedAt: time.Now()}, nil
}
