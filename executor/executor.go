// Package executor drives the fixed-period control tick that turns a
// Schedule and live BatteryState into a rate-limited device setpoint,
// following the corpus's PeriodicTask (initial-delay + ticker + ctx/stop
// select) for the outer loop shape.
package executor

import (
	"context"
	"log"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
)

// SafetyGate is the subset of safety.Monitor the executor needs: whether
// emergency stop is currently active, and where to report its heartbeat.
// Kept as a narrow interface here rather than importing package safety
// directly, so safety can in turn depend on device without a cycle.
type SafetyGate interface {
	EmergencyStopActive() bool
	Heartbeat()
}

// ScheduleExecutor runs the fixed-period control tick described in the
// core spec: capture time, read state, sample, look up the schedule
// target, drive a PID, rate-limit with PowerRamp, consult the safety
// gate, command the device, heartbeat.
type ScheduleExecutor struct {
	battery  device.Battery
	clock    domain.Clock
	schedule *domain.ScheduleStore
	samples  *domain.SampleRing
	safety   SafetyGate
	logger   *log.Logger

	pid     PID
	ramp    PowerRamp
	pidCfg  PIDConfig
	rampCfg PowerRampConfig

	lastMonotonic     time.Duration
	haveLastMonotonic bool
	lastGoodState     domain.BatteryState
}

// NewScheduleExecutor wires the executor to its collaborators. logger
// defaults to log.Default() when nil, matching the teacher's scheduler
// constructor.
func NewScheduleExecutor(battery device.Battery, clk domain.Clock, schedule *domain.ScheduleStore, samples *domain.SampleRing, safety SafetyGate, pidCfg PIDConfig, rampCfg PowerRampConfig, logger *log.Logger) *ScheduleExecutor {
	if logger == nil {
		logger = log.Default()
	}
	return &ScheduleExecutor{
		battery: battery, clock: clk, schedule: schedule, samples: samples,
		safety: safety, pidCfg: pidCfg, rampCfg: rampCfg, logger: logger,
	}
}

// Tick runs one iteration of the nine-step control sequence. It never
// returns an error for a device I/O failure — those are logged and the
// next tick re-reads and re-computes from truth — but does propagate a
// cancelled context.
func (e *ScheduleExecutor) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 1: capture now before any I/O, per the spec's own note that
	// capturing the timestamp after a slow poll corrupts PID derivative.
	now := e.clock.Now()
	mono := e.clock.Monotonic()
	dt := 0.0
	if e.haveLastMonotonic {
		dt = (mono - e.lastMonotonic).Seconds()
	}
	e.lastMonotonic = mono
	e.haveLastMonotonic = true

	// Step 2: read state; on failure publish the last good state with its
	// own original timestamp so the safety monitor's staleness check trips.
	state, err := e.battery.ReadState(ctx)
	if err != nil {
		state = e.lastGoodState
		e.logger.Printf("executor: battery read failed, publishing stale reading: %v", err)
	} else {
		e.lastGoodState = state
	}

	// Step 3: push into the bounded sample ring.
	e.samples.Push(domain.BatteryStateSample{Timestamp: now, State: state})

	// Step 4: nearest-preceding schedule lookup; no active entry means idle.
	sched := e.schedule.Get()
	targetW, ok := sched.TargetAt(now)
	if !ok {
		targetW = 0
	}

	// Step 5: PID drives measured power toward target.
	pidOut := e.pid.Update(targetW, state.PowerW, dt, e.pidCfg)

	// Step 6: rate-limit via PowerRamp. Emergency bypasses ramping by
	// driving the ramp straight to zero, so that once safety resumes the
	// ramp continues smoothly from zero rather than a stale setpoint.
	emergency := e.safety.EmergencyStopActive()
	rampTarget := pidOut
	if emergency {
		rampTarget = 0
	}
	e.ramp.SetTarget(rampTarget)
	commandedW := e.ramp.Update(dt, e.rampCfg, emergency)

	// Step 7: E-stop overrides the commanded power unconditionally.
	if emergency {
		commandedW = 0
	}

	// Step 8: command the device. A failure here is logged, not retried
	// within this tick.
	if err := e.battery.SetPower(ctx, commandedW); err != nil {
		e.logger.Printf("executor: set_power(%.1fW) failed: %v", commandedW, err)
	}

	// Step 9: heartbeat.
	e.safety.Heartbeat()
	return nil
}

// Reset clears the PID and ramp internal state, used when resuming from
// E-stop to avoid carrying over a stale integral or ramp-in-progress.
func (e *ScheduleExecutor) Reset() {
	e.pid.Reset()
	e.ramp.Reset(0)
	e.haveLastMonotonic = false
}
