// Package optimizer plans the 24h battery Schedule. Three interchangeable
// strategies (Greedy, DP, MILP) all satisfy the same Strategy contract,
// generalizing the corpus's MPC dynamic program from a profit-only
// hourly planner into a cost + peak-tariff + wear objective.
package optimizer

import (
	"fmt"

	"github.com/homeems/core/domain"
)

// SystemState is the current plant state an optimizer plans from.
type SystemState struct {
	BatteryCapabilities domain.BatteryCapabilities
	CurrentSoCPercent   float64
}

// Strategy plans a Schedule given the current state, a forecast horizon,
// and the constraints to respect. Implementations fail fast if the
// resulting schedule does not validate.
type Strategy interface {
	Optimize(state SystemState, forecast domain.Forecast24h, constraints domain.Constraints) (domain.Schedule, error)
}

// validateOrFail runs Schedule.Validate and wraps a failure so every
// strategy surfaces the same error shape.
func validateOrFail(s domain.Schedule, caps domain.BatteryCapabilities, version string) (domain.Schedule, error) {
	if err := s.Validate(caps); err != nil {
		return domain.Schedule{}, fmt.Errorf("optimizer(%s): produced an invalid schedule: %w", version, err)
	}
	return s, nil
}
