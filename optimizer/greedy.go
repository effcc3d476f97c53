package optimizer

import (
	"fmt"

	"github.com/homeems/core/domain"
)

// greedyEfficiency is the round-trip efficiency assumed while propagating
// SoC forward through the plan, matching the teacher's MPC SoC recurrence.
const greedyEfficiency = 0.95

// Greedy is a mean-price threshold strategy: cheap intervals charge,
// expensive intervals discharge, everything else idles. It is the
// baseline the other two strategies must improve on.
type Greedy struct{}

func (Greedy) Optimize(state SystemState, forecast domain.Forecast24h, constraints domain.Constraints) (domain.Schedule, error) {
	if len(forecast.Prices) == 0 {
		return domain.Schedule{}, fmt.Errorf("optimizer(greedy): empty forecast")
	}

	mean := meanImportPrice(forecast.Prices)
	caps := state.BatteryCapabilities
	capacityWh := caps.CapacityKWh * 1000
	socWh := capacityWh * state.CurrentSoCPercent / 100
	minSoCWh := capacityWh * constraints.Safety.MinSoCPercent / 100
	maxSoCWh := capacityWh * constraints.Safety.MaxSoCPercent / 100

	entries := make([]domain.ScheduleEntry, 0, len(forecast.Prices))
	for _, pp := range forecast.Prices {
		hours := pp.End.Sub(pp.Start).Hours()

		var targetW float64
		var reason string
		switch {
		case pp.ImportPrice < mean*0.9:
			headroomWh := maxSoCWh - socWh
			maxChargeW := caps.MaxChargeKW * 1000
			if headroomWh <= 0 {
				targetW = 0
				reason = "soc_ceiling_idle"
			} else {
				targetW = maxChargeW
				reason = "cheap_price_charge"
			}
		case pp.ImportPrice > mean*1.1:
			availableWh := socWh - minSoCWh
			maxDischargeW := caps.MaxDischargeKW * 1000
			if availableWh <= 0 {
				targetW = 0
				reason = "soc_floor_idle"
			} else {
				targetW = -maxDischargeW
				reason = "peak_shave"
			}
		default:
			targetW = 0
			reason = "idle"
		}

		targetW, socWh = clampToSoCBounds(targetW, socWh, minSoCWh, maxSoCWh, hours, greedyEfficiency)

		entries = append(entries, domain.ScheduleEntry{
			Start: pp.Start, End: pp.End,
			TargetPowerW:     targetW,
			ReasonTag:        reason,
			OptimizerVersion: "greedy-v1",
		})
	}

	schedule := domain.Schedule{
		ID:         domain.NewID(),
		ValidFrom:  forecast.Prices[0].Start,
		ValidUntil: forecast.Prices[len(forecast.Prices)-1].End,
		Entries:    entries,
	}
	return validateOrFail(schedule, caps, "greedy-v1")
}

func meanImportPrice(prices []domain.PricePoint) float64 {
	sum := 0.0
	for _, p := range prices {
		sum += p.ImportPrice
	}
	return sum / float64(len(prices))
}

// clampToSoCBounds shrinks targetW (if needed) so that applying it for
// hours doesn't push SoC outside [minWh, maxWh], and returns the updated
// SoC after applying the (possibly shrunk) target. Efficiency applies only
// to the charging direction, matching dp.go's
// "chargeKW*efficiency - dischargeKW" SoC recurrence: a discharging battery
// delivers its full drawn energy to the grid/loads, it doesn't also lose
// the round-trip loss on the way out.
func clampToSoCBounds(targetW, socWh, minWh, maxWh, hours, efficiency float64) (float64, float64) {
	if hours <= 0 {
		return 0, socWh
	}
	if targetW >= 0 {
		energyWh := targetW * hours * efficiency
		newSoCWh := socWh + energyWh
		if newSoCWh > maxWh {
			energyWh = maxWh - socWh
			newSoCWh = maxWh
		}
		return energyWh / hours / efficiency, newSoCWh
	}
	energyWh := targetW * hours
	newSoCWh := socWh + energyWh
	if newSoCWh < minWh {
		energyWh = minWh - socWh
		newSoCWh = minWh
	}
	return energyWh / hours, newSoCWh
}
