package executor

import "math"

// PIDConfig holds tunable gains and output/anti-windup limits, following
// the governor package's style of an explicit config struct passed to
// every Update call rather than baked into the controller.
type PIDConfig struct {
	Kp, Ki, Kd float64
	// OutputLimit clamps the controller's output to [-OutputLimit, OutputLimit].
	OutputLimit float64
	// IntegralLimit clamps the accumulated integral term to
	// [-IntegralLimit, IntegralLimit], the anti-windup guard.
	IntegralLimit float64
}

// DefaultPIDConfig returns the spec-pinned default gains. IntegralLimit is
// OutputLimit/Ki, so the integral term alone can reach the output limit.
func DefaultPIDConfig(outputLimitW float64) PIDConfig {
	const ki = 0.1
	return PIDConfig{
		Kp: 0.8, Ki: ki, Kd: 0.05,
		OutputLimit:   outputLimitW,
		IntegralLimit: outputLimitW / ki,
	}
}

// PID is a proportional-integral-derivative controller driving a measured
// value toward a target, with anti-windup clamping on the integral term
// and a dt guard on the derivative term to avoid spikes across long gaps.
type PID struct {
	integral   float64
	prevError  float64
	hasPrev    bool
}

// Update computes the next control output for the given target/measured
// pair and elapsed time since the previous call. dt <= 0 skips the
// derivative term (treated as zero) to avoid a divide-by-zero spike.
func (p *PID) Update(target, measured, dt float64, cfg PIDConfig) float64 {
	err := target - measured

	p.integral += err * dt
	if cfg.IntegralLimit > 0 {
		p.integral = math.Max(-cfg.IntegralLimit, math.Min(cfg.IntegralLimit, p.integral))
	}

	derivative := 0.0
	if dt > 0 && p.hasPrev {
		derivative = (err - p.prevError) / dt
	}
	p.prevError = err
	p.hasPrev = true

	out := cfg.Kp*err + cfg.Ki*p.integral + cfg.Kd*derivative
	if cfg.OutputLimit > 0 {
		out = math.Max(-cfg.OutputLimit, math.Min(cfg.OutputLimit, out))
	}
	return out
}

// Reset clears the controller's internal state, used when the executor
// resumes from E-stop or a schedule discontinuity to avoid carrying over
// a stale integral/derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.hasPrev = false
}
