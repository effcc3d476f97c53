package domain

import (
	"fmt"
	"math"
	"time"
)

// PowerSnapshot is an instantaneous flow tuple. BatteryKW is signed positive
// for charging; GridKW is signed positive for import.
type PowerSnapshot struct {
	PVKW      float64
	HouseKW   float64
	BatteryKW float64
	EVKW      float64
	GridKW    float64
	Timestamp time.Time
}

// PowerBalanceToleranceW is the maximum allowed imbalance before a snapshot
// is rejected, per the spec's power-balance invariant.
const PowerBalanceToleranceW = 100.0

// CheckBalance verifies PV + grid_import + battery_discharge = house + ev +
// battery_charge + grid_export, to within PowerBalanceToleranceW.
func (s PowerSnapshot) CheckBalance() error {
	for _, v := range []float64{s.PVKW, s.HouseKW, s.BatteryKW, s.EVKW, s.GridKW} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("snapshot: non-finite power value")
		}
	}
	batteryCharge := math.Max(s.BatteryKW, 0)
	batteryDischarge := math.Max(-s.BatteryKW, 0)
	gridImport := math.Max(s.GridKW, 0)
	gridExport := math.Max(-s.GridKW, 0)

	supply := s.PVKW + gridImport + batteryDischarge
	demand := s.HouseKW + s.EVKW + batteryCharge + gridExport

	imbalanceW := math.Abs(supply-demand) * 1000
	if imbalanceW > PowerBalanceToleranceW {
		return fmt.Errorf("snapshot: power imbalance %.1fW exceeds %.1fW tolerance", imbalanceW, PowerBalanceToleranceW)
	}
	return nil
}

// SelfSufficiencyRatio computes the fraction of house load covered without
// grid import. Below a 10W load threshold the ratio is undefined (returns 0,
// false) to avoid division instability on a near-zero load.
func (s PowerSnapshot) SelfSufficiencyRatio() (float64, bool) {
	const loadThresholdKW = 0.01 // 10 W
	if s.HouseKW < loadThresholdKW {
		return 0, false
	}
	gridImport := math.Max(s.GridKW, 0)
	covered := s.HouseKW - math.Min(gridImport, s.HouseKW)
	return covered / s.HouseKW, true
}
