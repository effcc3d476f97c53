package executor

import "math"

// PowerRampConfig holds the tunables for rate-limited setpoint transitions,
// following the governor package's explicit-config style.
type PowerRampConfig struct {
	// RampRateWPerSec bounds the commanded delta per second (typical 500).
	RampRateWPerSec float64
	// MinRampThresholdW changes at or below this magnitude apply instantly,
	// avoiding stairstep jitter on small corrections (typical 100).
	MinRampThresholdW float64
}

// PowerRamp rate-limits transitions toward a target setpoint. Unlike the
// governor package's pressure-gated accelerating ramp, the rate law here
// is the spec-pinned linear ramp_rate·dt — only the state-tracking shape
// (current/target/is_ramping) is reused.
type PowerRamp struct {
	current   float64
	target    float64
	isRamping bool
}

// SetTarget updates the setpoint the ramp moves toward. It does not itself
// move current; the next Update call does.
func (r *PowerRamp) SetTarget(target float64) {
	r.target = target
}

// Update advances current toward target by at most RampRateWPerSec*dt,
// unless emergency is set (bypasses ramping, jumps straight to target) or
// the remaining delta is at or below MinRampThresholdW (applied instantly).
// A non-positive step (dt <= 0 or RampRateWPerSec <= 0) also applies the
// target at once. Returns the new current setpoint.
func (r *PowerRamp) Update(dt float64, cfg PowerRampConfig, emergency bool) float64 {
	diff := r.target - r.current

	if emergency || math.Abs(diff) <= cfg.MinRampThresholdW {
		r.current = r.target
		r.isRamping = false
		return r.current
	}

	maxStep := cfg.RampRateWPerSec * dt
	if maxStep <= 0 || math.Abs(diff) <= maxStep {
		r.current = r.target
		r.isRamping = false
	} else {
		r.current += math.Copysign(maxStep, diff)
		r.isRamping = true
	}
	return r.current
}

// Current returns the last computed setpoint without advancing the ramp.
func (r *PowerRamp) Current() float64 { return r.current }

// IsRamping reports whether the last Update left a residual delta to close.
func (r *PowerRamp) IsRamping() bool { return r.isRamping }

// ETASeconds estimates the time remaining to reach target at the
// configured rate, for observability.
func (r *PowerRamp) ETASeconds(cfg PowerRampConfig) float64 {
	if cfg.RampRateWPerSec <= 0 {
		return 0
	}
	return math.Abs(r.target-r.current) / cfg.RampRateWPerSec
}

// Reset snaps current and target to v and clears the ramping flag, used
// when the executor resumes from E-stop to avoid ramping from a stale
// pre-shutdown setpoint.
func (r *PowerRamp) Reset(v float64) {
	r.current = v
	r.target = v
	r.isRamping = false
}
