package optimizer

import (
	"fmt"
	"math"

	"github.com/homeems/core/domain"
)

// DP is a SoC-discretized dynamic program, generalizing the corpus's
// MPCController.Optimize: same forward-DP / backward-trace shape, same
// socToIndex/indexToSoC discretization, extended from a pure-profit
// objective to cost + peak-tariff + wear as spec requires.
type DP struct {
	// SoCBins is the number of SoC discretization steps. Zero uses the
	// spec's typical default of 20.
	SoCBins int
}

type dpState struct {
	cost     float64
	chargeW  float64
	prevBin  int
	hasState bool
}

func (d DP) Optimize(state SystemState, forecast domain.Forecast24h, constraints domain.Constraints) (domain.Schedule, error) {
	if len(forecast.Prices) == 0 {
		return domain.Schedule{}, fmt.Errorf("optimizer(dp): empty forecast")
	}
	bins := d.SoCBins
	if bins <= 0 {
		bins = 20
	}
	caps := state.BatteryCapabilities
	safety := constraints.Safety
	physical := constraints.Physical

	minSoC := safety.MinSoCPercent
	maxSoC := safety.MaxSoCPercent
	if maxSoC <= minSoC {
		return domain.Schedule{}, fmt.Errorf("optimizer(dp): SoC bounds [%.1f,%.1f] are empty", minSoC, maxSoC)
	}
	step := (maxSoC - minSoC) / float64(bins)

	socToIdx := func(soc float64) int {
		idx := int(math.Round((soc - minSoC) / step))
		if idx < 0 {
			return 0
		}
		if idx > bins {
			return bins
		}
		return idx
	}
	idxToSoC := func(idx int) float64 { return minSoC + float64(idx)*step }

	n := len(forecast.Prices)
	dp := make([][]dpState, n+1)
	for i := range dp {
		dp[i] = make([]dpState, bins+1)
	}
	startIdx := socToIdx(state.CurrentSoCPercent)
	dp[0][startIdx] = dpState{cost: 0, hasState: true}

	wearPerKWh := 0.0
	if caps.CapacityKWh > 0 {
		wearPerKWh = caps.DegradationPerCycle * safety.BatteryReplacementCostSEK / caps.CapacityKWh
	}
	efficiency := caps.RoundTripEfficiency
	if efficiency <= 0 {
		efficiency = 1
	}
	capacityKWh := caps.CapacityKWh

	actionFractions := []float64{0, 0.25, 0.5, 0.75, 1.0}

	for t := 0; t < n; t++ {
		pp := forecast.Prices[t]
		hours := pp.End.Sub(pp.Start).Hours()
		loadKW, prodKW := alignedLoadAndProduction(forecast, t)
		exportPrice := pp.ImportPrice
		if pp.ExportPrice != nil {
			exportPrice = *pp.ExportPrice
		}

		for socIdx := 0; socIdx <= bins; socIdx++ {
			cur := dp[t][socIdx]
			if !cur.hasState {
				continue
			}
			curSoC := idxToSoC(socIdx)

			for _, action := range dpActions(actionFractions, caps.MaxChargeKW, caps.MaxDischargeKW) {
				chargeKW, dischargeKW := action.chargeKW, action.dischargeKW

				newSoC := curSoC
				if capacityKWh > 0 {
					socChange := (chargeKW*efficiency - dischargeKW) * hours / capacityKWh * 100
					newSoC = curSoC + socChange
				}
				if newSoC < minSoC-1e-9 || newSoC > maxSoC+1e-9 {
					continue
				}
				newIdx := socToIdx(newSoC)

				netLoad := loadKW + chargeKW
				netSupply := prodKW + dischargeKW
				balance := netSupply - netLoad
				var importKW, exportKW float64
				if balance >= 0 {
					exportKW = math.Min(balance, physical.MaxGridExportKW)
				} else {
					importKW = math.Min(-balance, physical.MaxGridImportKW)
				}

				cycledKWh := (chargeKW + dischargeKW) * hours
				cost := importKW*hours*pp.ImportPrice - exportKW*hours*exportPrice + wearPerKWh*cycledKWh
				total := cur.cost + cost

				next := dp[t+1][newIdx]
				if !next.hasState || total < next.cost {
					dp[t+1][newIdx] = dpState{
						cost:     total,
						chargeW:  (chargeKW - dischargeKW) * 1000,
						prevBin:  socIdx,
						hasState: true,
					}
				}
			}
		}
	}

	// Pick the minimum-cost final state, tie-breaking toward higher
	// terminal SoC by scanning from the highest bin down and only
	// replacing on strict improvement.
	bestBin, bestCost := -1, math.Inf(1)
	for idx := bins; idx >= 0; idx-- {
		st := dp[n][idx]
		if st.hasState && st.cost < bestCost {
			bestCost = st.cost
			bestBin = idx
		}
	}
	if bestBin < 0 {
		return domain.Schedule{}, fmt.Errorf("optimizer(dp): no feasible path found within SoC bounds")
	}

	entries := make([]domain.ScheduleEntry, n)
	curBin := bestBin
	for t := n - 1; t >= 0; t-- {
		st := dp[t+1][curBin]
		entries[t] = domain.ScheduleEntry{
			Start: forecast.Prices[t].Start, End: forecast.Prices[t].End,
			TargetPowerW:     st.chargeW,
			ReasonTag:        reasonFor(st.chargeW),
			OptimizerVersion: "dp-v1",
		}
		curBin = st.prevBin
	}

	schedule := domain.Schedule{
		ID:         domain.NewID(),
		ValidFrom:  forecast.Prices[0].Start,
		ValidUntil: forecast.Prices[n-1].End,
		Entries:    entries,
	}
	return validateOrFail(schedule, caps, "dp-v1")
}

func reasonFor(targetW float64) string {
	switch {
	case targetW > 0:
		return "dp_charge"
	case targetW < 0:
		return "dp_discharge"
	default:
		return "idle"
	}
}

// dpAction is one candidate charge/discharge decision evaluated at every
// DP state transition.
type dpAction struct {
	chargeKW    float64
	dischargeKW float64
}

// dpActions enumerates the feasible actions at a state: idle, plus a
// charge and a discharge action per nonzero fraction, without emitting
// idle twice.
func dpActions(fractions []float64, maxChargeKW, maxDischargeKW float64) []dpAction {
	actions := make([]dpAction, 0, 2*len(fractions))
	for _, frac := range fractions {
		if frac == 0 {
			actions = append(actions, dpAction{})
			continue
		}
		actions = append(actions, dpAction{chargeKW: frac * maxChargeKW})
		actions = append(actions, dpAction{dischargeKW: frac * maxDischargeKW})
	}
	return actions
}

// alignedLoadAndProduction returns the load/production forecast for
// interval i if the corresponding series is present (sharing the price
// grid, per Forecast24h's contract), else zero.
func alignedLoadAndProduction(f domain.Forecast24h, i int) (loadKW, prodKW float64) {
	if i < len(f.Consumption) {
		loadKW = f.Consumption[i].LoadKW
	}
	if i < len(f.Production) {
		prodKW = f.Production[i].ProductionKW
	}
	return loadKW, prodKW
}
