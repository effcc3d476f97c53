// Package powerflow implements the deterministic single-tick allocator:
// given PV/house/battery/EV readings and the current Constraints, it
// produces the PowerSnapshot the control loop should act on, following
// spec's fixed allocation order (house sacrosanct, PV-to-house-first,
// urgency-banded EV, three-case battery decision, grid balance closure,
// 3-phase curtailment check).
//
// The power-balance equation is the corpus's own MPC balance
// (netSupply - netLoad) generalized from an hourly planning step into a
// single real-time allocation; the "which tier bound this tick" bit-set
// mirrors the corpus's activeConstraints bookkeeping, renamed
// BindingLimits here for clarity.
package powerflow

import (
	"fmt"
	"math"
	"time"

	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// EVInput describes the connected EV's state for this tick, if any.
type EVInput struct {
	Connected      bool
	CurrentSoCPercent float64
	TargetSoCPercent  float64
	DepartureTime     time.Time
	MaxChargeKW       float64
	MinAmps           float64
	VoltageV          float64
}

// Input bundles everything the allocator needs for one tick.
type Input struct {
	PVKW             float64
	HouseKW          float64
	BatterySoCPercent float64
	BatteryTempC      float64
	GridImportPriceSEKPerKWh float64
	EV               EVInput
	Timestamp        time.Time
	Constraints      domain.Constraints
	PhaseCount       int // 1 or 3, for curtailment reporting
	NominalVoltageV  float64
}

// BindingLimits records which constraint tier bound the tick's decision,
// for observability — not spec-required, but a natural debugging aid.
type BindingLimits struct {
	BatteryChargeLimited    bool
	BatteryDischargeLimited bool
	EVChargeLimited         bool
	GridImportLimited       bool
	GridExportLimited       bool
	PhaseFuseLimited        bool
}

// Result is the allocator's output.
type Result struct {
	Snapshot       domain.PowerSnapshot
	Binding        BindingLimits
	CurtailmentKW  float64 // required curtailment if phase fuse is overloaded, else 0
}

// Allocate runs the six-step deterministic allocation. It returns an
// error identifying the violated limit on infeasibility rather than
// silently clipping in a way that would break the power balance.
func Allocate(in Input) (Result, error) {
	if !finite(in.PVKW, in.HouseKW, in.BatterySoCPercent, in.BatteryTempC, in.GridImportPriceSEKPerKWh) {
		return Result{}, errs.NewInvalidInput("powerflow: non-finite input", nil)
	}
	if err := in.Constraints.Validate(); err != nil {
		return Result{}, errs.NewInvalidInput("powerflow: invalid constraints", err)
	}

	p := in.Constraints.Physical
	s := in.Constraints.Safety
	e := in.Constraints.Economic
	var binding BindingLimits

	// Step 1-2: house is sacrosanct; PV serves house first, remainder is excess.
	houseKW := in.HouseKW
	excessPVKW := math.Max(in.PVKW-houseKW, 0)
	pvToHouseKW := math.Min(in.PVKW, houseKW)

	// Step 3: EV allocation, urgency-driven.
	evChargeKW := 0.0
	if in.EV.Connected {
		urgency := evUrgency(in.EV, in.Timestamp)
		maxEVKW := math.Min(in.EV.MaxChargeKW, p.MaxGridImportKW)
		switch {
		case urgency > 0.8:
			evChargeKW = maxEVKW
		case urgency >= 0.3:
			frac := (urgency - 0.3) / 0.5
			evChargeKW = excessPVKW + frac*(maxEVKW-excessPVKW)
			if evChargeKW < excessPVKW {
				evChargeKW = excessPVKW
			}
		default:
			evChargeKW = excessPVKW
		}
		minEVKW := in.EV.MinAmps * in.EV.VoltageV / 1000
		if evChargeKW < minEVKW {
			evChargeKW = 0
		}
		if evChargeKW > maxEVKW {
			evChargeKW = maxEVKW
			binding.EVChargeLimited = true
		}
		if evChargeKW > excessPVKW {
			excessPVKW = 0
		} else {
			excessPVKW -= evChargeKW
		}
	}

	// Step 4: battery decision, three cases checked in order.
	batteryKW := 0.0 // positive = charge
	houseDeficitKW := math.Max(houseKW-pvToHouseKW, 0)
	switch {
	case excessPVKW*1000 > 100 && in.BatterySoCPercent < s.MaxSoCPercent:
		batteryKW = math.Min(excessPVKW, p.MaxBatteryChargeKW)
		if batteryKW >= p.MaxBatteryChargeKW {
			binding.BatteryChargeLimited = true
		}
	case houseDeficitKW > 0 && in.BatterySoCPercent > s.MinSoCPercent &&
		(in.GridImportPriceSEKPerKWh > e.ArbitrageThresholdSEKPerKWh || e.PreferSelfConsumption):
		batteryKW = -math.Min(houseDeficitKW, p.MaxBatteryDischargeKW)
		if -batteryKW >= p.MaxBatteryDischargeKW {
			binding.BatteryDischargeLimited = true
		}
	case in.GridImportPriceSEKPerKWh < e.ArbitrageThresholdSEKPerKWh*0.5 && in.BatterySoCPercent < 0.7*s.MaxSoCPercent:
		batteryKW = 0.5 * p.MaxBatteryChargeKW
	default:
		batteryKW = 0
	}

	// Step 5: grid closes the balance.
	gridKW := houseKW + evChargeKW + math.Max(batteryKW, 0) - in.PVKW - math.Max(-batteryKW, 0)

	if gridKW > p.MaxGridImportKW {
		return Result{}, errs.NewSafetyViolation(fmt.Sprintf("powerflow: required grid import %.2fkW exceeds limit %.2fkW", gridKW, p.MaxGridImportKW), nil)
	}
	if -gridKW > p.MaxGridExportKW {
		return Result{}, errs.NewSafetyViolation(fmt.Sprintf("powerflow: required grid export %.2fkW exceeds limit %.2fkW", -gridKW, p.MaxGridExportKW), nil)
	}
	binding.GridImportLimited = gridKW >= p.MaxGridImportKW
	binding.GridExportLimited = -gridKW >= p.MaxGridExportKW

	snapshot := domain.PowerSnapshot{
		PVKW:      in.PVKW,
		HouseKW:   houseKW,
		BatteryKW: batteryKW,
		EVKW:      evChargeKW,
		GridKW:    gridKW,
		Timestamp: in.Timestamp,
	}
	if err := snapshot.CheckBalance(); err != nil {
		return Result{}, errs.NewInvariantBreach("powerflow: allocation left power balance unsatisfied", err)
	}

	// Step 6: 3-phase curtailment check. Nominal voltage < 1V is a sensor
	// fault; treat conservatively as an overload.
	result := Result{Snapshot: snapshot, Binding: binding}
	voltage := in.NominalVoltageV
	if voltage < 1 {
		voltage = 1
	}
	phases := in.PhaseCount
	if phases != 3 {
		phases = 1
	}
	if gridKW > 0 {
		currentA := gridKW * 1000 / voltage
		limitA := p.PhaseFuseAmps
		if currentA > limitA {
			excessA := currentA - limitA
			if phases == 3 {
				result.CurtailmentKW = 3 * voltage * excessA / 1000
			} else {
				result.CurtailmentKW = voltage * excessA / 1000
			}
			binding.PhaseFuseLimited = true
			result.Binding = binding
		}
	}

	return result, nil
}

// evUrgency computes urgency in [0,1] from SoC deficit against time to
// departure. A missing or past departure time yields maximum urgency.
func evUrgency(ev EVInput, now time.Time) float64 {
	socDeficit := math.Max(ev.TargetSoCPercent-ev.CurrentSoCPercent, 0) / 100
	if socDeficit <= 0 {
		return 0
	}
	if ev.DepartureTime.IsZero() || !ev.DepartureTime.After(now) {
		return 1
	}
	hoursLeft := ev.DepartureTime.Sub(now).Hours()
	if hoursLeft <= 0 {
		return 1
	}
	// Energy needed vs. time available: urgency rises as available time
	// shrinks relative to a generous 8h reference charge window.
	urgency := socDeficit * (8 / hoursLeft)
	if urgency > 1 {
		urgency = 1
	}
	return urgency
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
