// Package safety implements the independent supervisory monitor: a fast
// periodic task holding direct Battery/Inverter handles so it can E-stop
// them even if the main control loop is hung. Event fan-out follows the
// corpus's ws.Hub broadcast-with-drop-on-full-buffer pattern, adapted
// from per-client byte channels to a small registry of typed Event
// channels with retained-last-message replay for late subscribers.
package safety

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// EventKind tags a broadcast Event as an emergency stop or a resume.
type EventKind int

const (
	EventEmergencyStop EventKind = iota
	EventResume
)

// Event is the payload broadcast to subscribers on a state transition.
type Event struct {
	Kind      EventKind
	Violation domain.SafetyViolation // zero value for EventResume
}

// Monitor is the independent safety supervisor described in spec §4.5.
type Monitor struct {
	battery  device.Battery
	inverter device.Inverter
	clock    domain.Clock
	logger   *log.Logger

	enableEmergencyStop bool
	violationCapacity   int

	mu              sync.Mutex
	active          bool
	emergencyStop   bool
	lastHeartbeat   time.Time
	haveHeartbeat   bool
	lastLoggedAt    map[domain.ViolationKind]time.Time
	violations      *ViolationRing

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
	lastEvent   Event
	haveEvent   bool
}

// New wires a Monitor to its device handles. violationCapacity bounds the
// retained violation history (typical one day at the monitor's tick rate).
func New(battery device.Battery, inverter device.Inverter, clk domain.Clock, enableEmergencyStop bool, violationCapacity int, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		battery: battery, inverter: inverter, clock: clk, logger: logger,
		enableEmergencyStop: enableEmergencyStop,
		violationCapacity:   violationCapacity,
		lastLoggedAt:        make(map[domain.ViolationKind]time.Time),
		violations:          NewViolationRing(violationCapacity),
		subscribers:         make(map[chan Event]struct{}),
	}
}

// Start transitions the monitor from Inactive to Active.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
}

// Stop transitions the monitor back to Inactive without clearing any
// latched emergency-stop state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
}

// EmergencyStopActive reports whether the monitor currently has the
// system latched in emergency stop. Safe to call from the hot control
// tick without blocking on the supervisor's own tick.
func (m *Monitor) EmergencyStopActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// Heartbeat records that the control tick is alive.
func (m *Monitor) Heartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = m.clock.Now()
	m.haveHeartbeat = true
}

// Violations returns a snapshot of the retained violation history.
func (m *Monitor) Violations() []domain.SafetyViolation {
	return m.violations.Snapshot()
}

// Subscribe registers a new Event channel and immediately replays the
// most recent retained event, if any, so late subscribers are not left
// without current state.
func (m *Monitor) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	last, have := m.lastEvent, m.haveEvent
	m.subMu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return ch
}

// Unsubscribe removes and closes a previously registered channel.
func (m *Monitor) Unsubscribe(ch chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *Monitor) broadcast(ev Event) {
	m.subMu.Lock()
	m.lastEvent = ev
	m.haveEvent = true
	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Printf("safety: subscriber buffer full, dropping event")
		}
	}
	m.subMu.Unlock()
}

// controlLoopTimeoutDefault is the spec's default control_loop_timeout_s.
const controlLoopTimeoutDefault = 30 * time.Second

// Tick runs the five ordered checks against one measurement sample,
// short-circuiting on the first violation. constraints supplies the
// thresholds in effect for this tick.
func (m *Monitor) Tick(ctx context.Context, meas domain.SafetyMeasurements, constraints domain.Constraints) {
	v, tripped := m.evaluate(meas, constraints)
	if !tripped {
		return
	}
	m.record(ctx, v)
}

func (m *Monitor) evaluate(meas domain.SafetyMeasurements, constraints domain.Constraints) (domain.SafetyViolation, bool) {
	now := m.clock.Now()
	s := constraints.Safety
	p := constraints.Physical

	// 1. Measurement staleness short-circuits everything else.
	maxAge := time.Duration(s.MaxMeasurementAge) * time.Second
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	if now.Sub(meas.Timestamp) > maxAge {
		return domain.SafetyViolation{
			Kind: domain.ControlLoopTimeout, ObservedValue: now.Sub(meas.Timestamp).Seconds(),
			LimitValue: maxAge.Seconds(), Timestamp: now,
			Message: "measurement is stale",
		}, true
	}

	// 2. Fuse overcurrent.
	voltage := meas.NominalVoltageV
	fuseRating := p.PhaseFuseAmps
	if voltage < 1 {
		voltage = 1
		fuseRating = p.PhaseFuseAmps * 2 // sensor fault: force a trip
	}
	currentA := meas.GridImportKW * 1000 / voltage
	margin := s.FuseTripMargin
	if margin <= 0 {
		margin = 0.10
	}
	tripThreshold := fuseRating * (1 - margin)
	if currentA > tripThreshold {
		return domain.SafetyViolation{
			Kind: domain.FuseOvercurrent, ObservedValue: currentA, LimitValue: tripThreshold, Timestamp: now,
			Message: fmt.Sprintf("grid current %.1fA exceeds trip threshold %.1fA", currentA, tripThreshold),
		}, true
	}

	// 3. Grid voltage / frequency.
	if meas.GridVoltageV < s.MinGridVoltageV || meas.GridVoltageV > s.MaxGridVoltageV {
		return domain.SafetyViolation{
			Kind: domain.GridVoltageViolation, ObservedValue: meas.GridVoltageV,
			LimitValue: s.MaxGridVoltageV, Timestamp: now,
			Message: fmt.Sprintf("grid voltage %.1fV outside [%.1f,%.1f]", meas.GridVoltageV, s.MinGridVoltageV, s.MaxGridVoltageV),
		}, true
	}
	if meas.GridFrequencyHz < s.MinGridFreqHz || meas.GridFrequencyHz > s.MaxGridFreqHz {
		return domain.SafetyViolation{
			Kind: domain.GridFrequencyViolation, ObservedValue: meas.GridFrequencyHz,
			LimitValue: s.MaxGridFreqHz, Timestamp: now,
			Message: fmt.Sprintf("grid frequency %.2fHz outside [%.2f,%.2f]", meas.GridFrequencyHz, s.MinGridFreqHz, s.MaxGridFreqHz),
		}, true
	}

	// 4. Battery temperature / SoC.
	if meas.BatteryTemperatureC > s.MaxTemperatureC {
		return domain.SafetyViolation{
			Kind: domain.BatteryOverTemperature, ObservedValue: meas.BatteryTemperatureC,
			LimitValue: s.MaxTemperatureC, Timestamp: now,
			Message: fmt.Sprintf("battery temperature %.1fC exceeds %.1fC", meas.BatteryTemperatureC, s.MaxTemperatureC),
		}, true
	}
	if meas.BatteryTemperatureC < s.MinTemperatureC {
		return domain.SafetyViolation{
			Kind: domain.BatteryUnderTemperature, ObservedValue: meas.BatteryTemperatureC,
			LimitValue: s.MinTemperatureC, Timestamp: now,
			Message: fmt.Sprintf("battery temperature %.1fC below %.1fC", meas.BatteryTemperatureC, s.MinTemperatureC),
		}, true
	}
	if meas.BatterySoCPercent > s.MaxSoCPercent {
		return domain.SafetyViolation{
			Kind: domain.BatteryOverCharge, ObservedValue: meas.BatterySoCPercent,
			LimitValue: s.MaxSoCPercent, Timestamp: now,
			Message: fmt.Sprintf("battery SoC %.1f%% exceeds %.1f%%", meas.BatterySoCPercent, s.MaxSoCPercent),
		}, true
	}
	if meas.BatterySoCPercent < s.MinSoCPercent {
		return domain.SafetyViolation{
			Kind: domain.BatteryUnderCharge, ObservedValue: meas.BatterySoCPercent,
			LimitValue: s.MinSoCPercent, Timestamp: now,
			Message: fmt.Sprintf("battery SoC %.1f%% below %.1f%%", meas.BatterySoCPercent, s.MinSoCPercent),
		}, true
	}

	// 5. Control loop heartbeat.
	timeout := time.Duration(s.ControlLoopTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = controlLoopTimeoutDefault
	}
	m.mu.Lock()
	lastHeartbeat, have := m.lastHeartbeat, m.haveHeartbeat
	m.mu.Unlock()
	if have && now.Sub(lastHeartbeat) > timeout {
		return domain.SafetyViolation{
			Kind: domain.ControlLoopTimeout, ObservedValue: now.Sub(lastHeartbeat).Seconds(),
			LimitValue: timeout.Seconds(), Timestamp: now,
			Message: "control loop heartbeat timed out",
		}, true
	}

	return domain.SafetyViolation{}, false
}

// record stores the violation, rate-limits its log line, and — on the
// first violation while not already stopped — latches emergency stop and
// calls emergency_shutdown on both devices.
func (m *Monitor) record(ctx context.Context, v domain.SafetyViolation) {
	m.violations.Push(v)

	m.mu.Lock()
	shouldLog := m.clock.Now().Sub(m.lastLoggedAt[v.Kind]) > 60*time.Second
	if shouldLog {
		m.lastLoggedAt[v.Kind] = m.clock.Now()
	}
	alreadyStopped := m.emergencyStop
	willStop := m.enableEmergencyStop && !alreadyStopped
	if willStop {
		m.emergencyStop = true
	}
	m.mu.Unlock()

	if shouldLog {
		m.logger.Printf("safety: %s violation: %s", v.Kind, v.Message)
	}

	if !willStop {
		return
	}

	if err := m.battery.EmergencyShutdown(ctx); err != nil {
		m.logger.Printf("safety: battery emergency_shutdown failed: %v", err)
	}
	if err := m.inverter.EmergencyShutdown(ctx); err != nil {
		m.logger.Printf("safety: inverter emergency_shutdown failed: %v", err)
	}
	m.broadcast(Event{Kind: EventEmergencyStop, Violation: v})
}

// TriggerEmergencyStop latches emergency stop directly, for callers (e.g.
// an operator API) that need to stop the system outside the normal
// measurement-driven check path.
func (m *Monitor) TriggerEmergencyStop(ctx context.Context, reason string) {
	v := domain.SafetyViolation{
		Kind: domain.ControlLoopTimeout, Timestamp: m.clock.Now(), Message: reason,
	}
	m.mu.Lock()
	alreadyStopped := m.emergencyStop
	m.emergencyStop = true
	m.mu.Unlock()
	m.violations.Push(v)
	if alreadyStopped {
		return
	}
	if err := m.battery.EmergencyShutdown(ctx); err != nil {
		m.logger.Printf("safety: battery emergency_shutdown failed: %v", err)
	}
	if err := m.inverter.EmergencyShutdown(ctx); err != nil {
		m.logger.Printf("safety: inverter emergency_shutdown failed: %v", err)
	}
	m.broadcast(Event{Kind: EventEmergencyStop, Violation: v})
}

// Resume clears the latched emergency-stop flag. Per spec, leaving
// EmergencyStop requires this explicit call — no automatic recovery.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.emergencyStop = false
	m.mu.Unlock()
	m.broadcast(Event{Kind: EventResume})
}

// ValidatePowerCommand is the synchronous pre-flight check other
// components call before issuing set_power: rejects when E-stop is
// active, power is non-finite, or the projected grid current would
// exceed the fuse trip threshold.
func (m *Monitor) ValidatePowerCommand(description string, powerW float64, meas domain.SafetyMeasurements, constraints domain.Constraints) error {
	if m.EmergencyStopActive() {
		return errs.NewSafetyViolation(fmt.Sprintf("safety: %s rejected: emergency stop active", description), nil)
	}
	if math.IsNaN(powerW) || math.IsInf(powerW, 0) {
		return errs.NewInvalidInput(fmt.Sprintf("safety: %s rejected: non-finite power %v", description, powerW), nil)
	}

	p := constraints.Physical
	s := constraints.Safety
	voltage := meas.NominalVoltageV
	fuseRating := p.PhaseFuseAmps
	if voltage < 1 {
		voltage = 1
		fuseRating = p.PhaseFuseAmps * 2
	}
	margin := s.FuseTripMargin
	if margin <= 0 {
		margin = 0.10
	}
	projectedA := (meas.GridImportKW*1000 + powerW) / voltage
	tripThreshold := fuseRating * (1 - margin)
	if projectedA > tripThreshold {
		return errs.NewSafetyViolation(fmt.Sprintf("safety: %s rejected: projected current %.1fA would exceed trip threshold %.1fA", description, projectedA, tripThreshold), nil)
	}
	return nil
}
