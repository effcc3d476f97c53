package domain

import "time"

// BatteryStatus enumerates the operating state of a stationary battery.
type BatteryStatus int

const (
	BatteryIdle BatteryStatus = iota
	BatteryCharging
	BatteryDischarging
	BatteryFault
)

func (s BatteryStatus) String() string {
	switch s {
	case BatteryIdle:
		return "idle"
	case BatteryCharging:
		return "charging"
	case BatteryDischarging:
		return "discharging"
	case BatteryFault:
		return "fault"
	default:
		return "unknown"
	}
}

// BatteryCapabilities is the immutable nameplate data for a stationary battery.
type BatteryCapabilities struct {
	CapacityKWh          float64
	MaxChargeKW          float64
	MaxDischargeKW       float64
	RoundTripEfficiency  float64 // (0,1]
	DegradationPerCycle  float64 // fraction of capacity lost per full equivalent cycle
	Chemistry            string
}

// BatteryState is a mutable point-in-time snapshot of a stationary battery.
//
// Sign convention: PowerW is positive when charging into the battery,
// negative when discharging.
type BatteryState struct {
	SoCPercent  float64 // [0,100]
	PowerW      float64
	VoltageV    float64
	TemperatureC float64
	HealthPercent float64
	Status      BatteryStatus
	Timestamp   time.Time
}

// WithinCapability reports whether the state's power respects caps, per the
// spec's sign-dependent invariant: |power| <= max_charge when positive,
// <= max_discharge when negative.
func (s BatteryState) WithinCapability(caps BatteryCapabilities) bool {
	if s.PowerW >= 0 {
		return s.PowerW <= caps.MaxChargeKW*1000
	}
	return -s.PowerW <= caps.MaxDischargeKW*1000
}

// BatteryStateSample pairs a timestamp with the BatteryState observed at it,
// held in a bounded ring buffer.
type BatteryStateSample struct {
	Timestamp time.Time
	State     BatteryState
}
