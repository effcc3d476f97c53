package optimizer

import (
	"log"

	"github.com/homeems/core/domain"
)

// MILP is the mixed-integer-linear-programming strategy named in the
// planning tiers. No LP/MILP solver is vendored; until one is wired in,
// MILP delegates to DP, which already solves the same discretized state
// space near-optimally for a single battery.
type MILP struct {
	DP DP
}

func (m MILP) Optimize(state SystemState, forecast domain.Forecast24h, constraints domain.Constraints) (domain.Schedule, error) {
	log.Printf("optimizer(milp): no solver configured, falling back to dp")
	return m.DP.Optimize(state, forecast, constraints)
}
