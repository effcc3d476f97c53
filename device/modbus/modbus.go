// Package modbus drives a battery over Modbus, adapting the teacher's
// register-block read/decode pattern (ReadInputRegisters + big-endian
// scaled decode) to the domain BatteryState shape. The package has no
// Inverter implementation. Concrete register addresses and
// scaling factors are a vendor detail: callers supply a RegisterMap, the
// pluggable "external collaborator" the spec calls for, rather than this
// package hard-coding one vendor's layout the way the teacher's
// sigenergy client does.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	gomodbus "github.com/goburrow/modbus"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// RegisterMap describes where battery state lives in a particular
// vendor's input-register block, and how to encode a power setpoint to
// holding registers. Addresses are 0-based Modbus register offsets.
//
// Battery.ReadState reads one block of 10 input registers starting at
// SoCPercentAddr and decodes it at fixed positions within that block: SoC
// at +0, power at +1..+2, voltage at +3, temperature at +4, status at +5.
// PowerWAddr, VoltageVAddr, TemperatureCAddr and StatusAddr are not
// consulted. ShutdownCoilAddr is not used either: EmergencyShutdown writes
// a zero setpoint to PowerSetpointAddr.
type RegisterMap struct {
	SlaveID byte

	// Input registers (ReadInputRegisters), read-only telemetry.
	SoCPercentAddr   uint16 // scaled x10
	PowerWAddr       uint16 // signed 32-bit, scaled x1
	VoltageVAddr     uint16 // scaled x10
	TemperatureCAddr uint16 // scaled x10, signed
	StatusAddr       uint16 // 0=idle 1=charging 2=discharging 3=fault

	// Holding registers (WriteMultipleRegisters/WriteSingleRegister), commands.
	PowerSetpointAddr uint16 // signed 32-bit
	ShutdownCoilAddr  uint16
}

// Client is the subset of goburrow/modbus.Client this package depends on,
// narrowed so tests can substitute a fake transport instead of a real
// serial/TCP handler.
type Client interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

var _ Client = gomodbus.Client(nil)

// Battery is a device.Battery backed by a Modbus client and a RegisterMap.
type Battery struct {
	client Client
	regs   RegisterMap
	caps   domain.BatteryCapabilities
	clk    domain.Clock

	mu sync.Mutex
}

// NewBattery wraps an already-connected goburrow/modbus client (RTU or
// TCP; connection/timeout setup is the caller's concern, matching the
// teacher's NewRTUClient/NewTCPClient split).
func NewBattery(client Client, regs RegisterMap, caps domain.BatteryCapabilities, clk domain.Clock) *Battery {
	return &Battery{client: client, regs: regs, caps: caps, clk: clk}
}

func (b *Battery) Capabilities() domain.BatteryCapabilities { return b.caps }

func (b *Battery) ReadState(ctx context.Context) (domain.BatteryState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.client.ReadInputRegisters(b.regs.SoCPercentAddr, 10)
	if err != nil {
		return domain.BatteryState{}, errs.NewTransient("modbus read of battery telemetry block failed", err)
	}
	if len(data) < 20 {
		return domain.BatteryState{}, errs.NewTransient("modbus battery telemetry block too short", nil)
	}

	soc := float64(int16(binary.BigEndian.Uint16(data[0:2]))) / 10
	powerW := float64(int32(binary.BigEndian.Uint32(data[2:6])))
	voltage := float64(binary.BigEndian.Uint16(data[6:8])) / 10
	tempC := float64(int16(binary.BigEndian.Uint16(data[8:10]))) / 10
	status := domain.BatteryStatus(binary.BigEndian.Uint16(data[10:12]))

	return domain.BatteryState{
		SoCPercent:    soc,
		PowerW:        powerW,
		VoltageV:      voltage,
		TemperatureC:  tempC,
		HealthPercent: 100,
		Status:        status,
		Timestamp:     b.clk.Now(),
	}, nil
}

func (b *Battery) SetPower(ctx context.Context, watts float64) error {
	maxChargeW := b.caps.MaxChargeKW * 1000
	maxDischargeW := b.caps.MaxDischargeKW * 1000
	if watts > maxChargeW+1e-6 || watts < -maxDischargeW-1e-6 {
		return errs.NewCapabilityViolation(fmt.Sprintf("power %.1fW exceeds battery capability", watts), nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(watts)))
	if _, err := b.client.WriteMultipleRegisters(b.regs.PowerSetpointAddr, 2, buf); err != nil {
		return errs.NewTransient("modbus write of power setpoint failed", err)
	}
	return nil
}

func (b *Battery) EmergencyShutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, 4)
	if _, err := b.client.WriteMultipleRegisters(b.regs.PowerSetpointAddr, 2, buf); err != nil {
		return errs.NewTransient("modbus emergency shutdown write failed", err)
	}
	return nil
}

func (b *Battery) HealthCheck(ctx context.Context) (device.HealthStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.client.ReadInputRegisters(b.regs.SoCPercentAddr, 1)
	if err != nil {
		return device.HealthStatus{Healthy: false, Message: err.Error(), CheckedAt: b.clk.Now()}, nil
	}
	return device.HealthStatus{Healthy: true, CheckedAt: b.clk.Now()}, nil
}

