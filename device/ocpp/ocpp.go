// Package ocpp implements an EvCharger state machine for OCPP-managed
// charge points. The OCPP central system and its JSON/SOAP wire codec are
// external collaborators per spec; this package models only the
// Available -> Preparing -> Charging -> Finishing state transitions and
// current-limit validation, dispatching outbound commands through a
// pluggable MessageTransport so a real OCPP client library can be
// plugged in without this package depending on one.
package ocpp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// MessageTransport sends an OCPP-style remote command and waits for its
// confirmation. The concrete wire format (JSON-over-WebSocket SOAP, ...)
// is entirely the transport's concern.
type MessageTransport interface {
	// SetChargingProfile requests a current limit in amps; negative
	// values request discharge on transports that support ISO 15118 V2X.
	SetChargingProfile(ctx context.Context, amps float64) error
	// RemoteStop requests the charge point return to zero current.
	RemoteStop(ctx context.Context) error
}

// Charger is a device.EvCharger whose I/O is delegated to a
// MessageTransport; this type owns only the state machine and validation.
type Charger struct {
	transport MessageTransport
	caps      domain.ChargerCapabilities
	clk       domain.Clock

	mu            sync.Mutex
	status        domain.ChargerStatus
	connected     bool
	currentAmps   float64
	vehicleSoC    float64
	targetSoC     float64
	departureTime time.Time
}

func New(transport MessageTransport, caps domain.ChargerCapabilities, clk domain.Clock) *Charger {
	return &Charger{transport: transport, caps: caps, clk: clk, status: domain.ChargerAvailable}
}

func (c *Charger) Capabilities() domain.ChargerCapabilities { return c.caps }

// NotifyStatus lets the OCPP StatusNotification handler (outside this
// package) push a status/presence update observed from the charge point.
func (c *Charger) NotifyStatus(status domain.ChargerStatus, connected bool, vehicleSoC, targetSoC float64, departure time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.connected = connected
	c.vehicleSoC = vehicleSoC
	c.targetSoC = targetSoC
	c.departureTime = departure
}

func (c *Charger) ReadState(ctx context.Context) (domain.ChargerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
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

func (c *Charger) SetCurrent(ctx context.Context, amps float64) error {
	if amps < 0 {
		if c.caps.V2X == nil {
			return errs.NewCapabilityViolation("charger has no V2X capability", nil)
		}
		maxDischargeAmps := c.caps.V2X.MaxDischargeKW * 1000 / c.caps.VoltageV / float64(c.caps.PhaseCount)
		if -amps > maxDischargeAmps+1e-6 {
			return errs.NewCapabilityViolation("discharge current exceeds V2X max", nil)
		}
	} else if amps > 0 && amps < c.caps.MinAmps {
		return errs.NewCapabilityViolation(fmt.Sprintf("current %.1fA below charger minimum %.1fA", amps, c.caps.MinAmps), nil)
	} else if amps > c.caps.MaxAmps+1e-6 {
		return errs.NewCapabilityViolation(fmt.Sprintf("current %.1fA exceeds charger max %.1fA", amps, c.caps.MaxAmps), nil)
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return errs.NewCapabilityViolation("no vehicle connected", nil)
	}

	if err := c.transport.SetChargingProfile(ctx, amps); err != nil {
		return errs.NewTransient("ocpp SetChargingProfile failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentAmps = amps
	if amps == 0 {
		c.status = domain.ChargerSuspendedEVSE
	} else {
		c.status = domain.ChargerCharging
	}
	return nil
}

func (c *Charger) EmergencyShutdown(ctx context.Context) error {
	if err := c.transport.RemoteStop(ctx); err != nil {
		return errs.NewTransient("ocpp RemoteStop failed", err)
	}
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

func (c *Charger) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	faulted := c.status == domain.ChargerFaulted
	return device.HealthStatus{Healthy: !faulted, CheckedAt: c.clk.Now()}, nil
}
