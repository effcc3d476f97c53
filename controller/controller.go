// Package controller orchestrates every other package into the running
// system: it owns the device handles, the schedule and constraints
// stores, the state-history ring, and spawns the control tick, safety
// tick, re-optimize, forecast-refresh, and health-check tasks, following
// the corpus's MinerScheduler/PeriodicTask pattern generalized from miner
// discovery and MPC-over-Bitcoin-miners to device I/O and MPC-over-battery
// setpoints.
package controller

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/homeems/core/device"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/executor"
	"github.com/homeems/core/forecast"
	"github.com/homeems/core/optimizer"
	"github.com/homeems/core/persistence"
	"github.com/homeems/core/powerflow"
	"github.com/homeems/core/safety"
	"github.com/homeems/core/telemetry"
	"github.com/homeems/core/v2x"
)

// Deps bundles every collaborator the controller wires together. Charger
// is optional; a nil value disables every EV/V2X code path.
type Deps struct {
	Battery  device.Battery
	Inverter device.Inverter
	Charger  device.EvCharger

	Clock       domain.Clock
	Schedule    *domain.ScheduleStore
	Constraints *domain.ConstraintsStore
	Samples     *domain.SampleRing

	Optimizer optimizer.Strategy
	Forecast  *forecast.Engine
	Executor  *executor.ScheduleExecutor
	Safety    *safety.Monitor

	V2X v2x.Config

	Sink      persistence.SampleSink
	Telemetry telemetry.Publisher
}

// Config holds the controller's tick periods, loaded from config.Snapshot
// by the caller that builds Deps.
type Config struct {
	ControlTickInterval   time.Duration
	SafetyTickInterval    time.Duration
	ReoptimizeInterval    time.Duration
	ForecastRefreshPeriod time.Duration
	HealthCheckInterval   time.Duration
}

// Status is a point-in-time snapshot of the controller's lifecycle state,
// following the corpus's SchedulerStatus shape.
type Status struct {
	IsRunning           bool
	ActiveScheduleID    domain.ID
	EmergencyStopActive bool
	SampleCount         int
}

// Controller is the top-level orchestrator described in spec §2's
// component table: task scheduling, state history, lifecycle.
type Controller struct {
	battery  device.Battery
	inverter device.Inverter
	charger  device.EvCharger

	clock       domain.Clock
	schedule    *domain.ScheduleStore
	constraints *domain.ConstraintsStore
	samples     *domain.SampleRing

	optimizer optimizer.Strategy
	forecast  *forecast.Engine
	executor  *executor.ScheduleExecutor
	safety    *safety.Monitor

	v2xConfig v2x.Config

	sink      persistence.SampleSink
	telemetry telemetry.Publisher

	cfg    Config
	logger *log.Logger

	devices *DeviceRegistry

	mu                       sync.RWMutex
	isRunning                bool
	stopChan                 chan struct{}
	lastSnapshot             domain.PowerSnapshot
	consecutiveReoptFailures int

	forecastMu    sync.RWMutex
	lastForecast  domain.Forecast24h
	haveForecast  bool
}

// New wires a Controller to its collaborators. A nil Sink/Telemetry
// degrades to persistence.NopSink/telemetry.Nop, the same "optional
// collaborator" stance the corpus takes on config.PostgresConnString.
func New(deps Deps, cfg Config, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	if deps.Sink == nil {
		deps.Sink = persistence.NopSink{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	return &Controller{
		battery: deps.Battery, inverter: deps.Inverter, charger: deps.Charger,
		clock: deps.Clock, schedule: deps.Schedule, constraints: deps.Constraints,
		samples: deps.Samples, optimizer: deps.Optimizer, forecast: deps.Forecast,
		executor: deps.Executor, safety: deps.Safety, v2xConfig: deps.V2X,
		sink: deps.Sink, telemetry: deps.Telemetry,
		cfg: cfg, logger: logger,
		devices:  newDeviceRegistry(),
		stopChan: make(chan struct{}),
	}
}

// periodicTask is the corpus's PeriodicTask, unexported and unchanged in
// shape: an optional initial delay, a fixed interval, and a runFunc
// closure over the task's own context.
type periodicTask struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	runFunc      func()
}

func (t *periodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if t.interval <= 0 {
		logger.Printf("controller: %s has a non-positive interval, not starting", t.name)
		return
	}
	if t.initialDelay > 0 {
		select {
		case <-time.After(t.initialDelay):
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		}
	}
	t.runFunc()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.runFunc()
		case <-ctx.Done():
			logger.Printf("controller: %s stopped (context cancelled)", t.name)
			return
		case <-stopChan:
			logger.Printf("controller: %s stopped", t.name)
			return
		}
	}
}

// Start begins every periodic task and blocks until all of them stop,
// mirroring MinerScheduler.Start's wg.Wait()-then-stop shape. Callers
// typically run it in its own goroutine and call Stop or cancel ctx to
// end it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("controller: already running")
	}
	c.isRunning = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	c.safety.Start()

	// Prime a forecast and schedule synchronously so the very first
	// control ticks have something to track, rather than idling through
	// one full ReoptimizeInterval first.
	c.forecastRefreshTick(ctx)
	c.reoptimizeTick(ctx)

	tasks := []periodicTask{
		{name: "ControlTick", interval: c.cfg.ControlTickInterval, runFunc: func() { c.controlTick(ctx) }},
		{name: "SafetyTick", interval: c.cfg.SafetyTickInterval, runFunc: func() { c.safetyTick(ctx) }},
		{name: "Reoptimize", initialDelay: c.cfg.ReoptimizeInterval, interval: c.cfg.ReoptimizeInterval, runFunc: func() { c.reoptimizeTick(ctx) }},
		{name: "ForecastRefresh", initialDelay: c.cfg.ForecastRefreshPeriod, interval: c.cfg.ForecastRefreshPeriod, runFunc: func() { c.forecastRefreshTick(ctx) }},
		{name: "HealthCheck", interval: c.cfg.HealthCheckInterval, runFunc: func() { c.healthCheckTick(ctx) }},
	}

	var wg sync.WaitGroup
	for i := range tasks {
		task := tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.run(ctx, c.stopChan, c.logger)
		}()
	}
	wg.Wait()

	c.logger.Printf("controller: all periodic tasks stopped")
	c.stop(context.Background())
	return nil
}

// Stop signals every running task to exit and drains the sample ring to
// the persistence sink before returning.
func (c *Controller) Stop() {
	c.stop(context.Background())
}

func (c *Controller) stop(ctx context.Context) {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.mu.Unlock()

	c.safety.Stop()

	drained := c.samples.Drain()
	if len(drained) == 0 {
		return
	}
	if err := c.sink.SaveSamples(ctx, drained); err != nil {
		c.logger.Printf("controller: failed to persist %d samples on shutdown: %v", len(drained), err)
	}
}

// IsRunning reports whether the controller's periodic tasks are active.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// GetStatus returns a point-in-time lifecycle snapshot.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	running := c.isRunning
	c.mu.RUnlock()
	return Status{
		IsRunning:           running,
		ActiveScheduleID:    c.schedule.Get().ID,
		EmergencyStopActive: c.safety.EmergencyStopActive(),
		SampleCount:         c.samples.Len(),
	}
}

// controlTick drives the battery toward the active schedule via the
// executor, then separately assembles the tick's full system snapshot
// from live readings for telemetry, safety, and EV/V2X dispatch. The
// executor retains sole command authority over the battery; powerflow's
// own battery decision is advisory only here, so the published snapshot
// substitutes the battery's true commanded power before recomputing the
// grid leg to keep the balance equation internally consistent.
func (c *Controller) controlTick(ctx context.Context) {
	if err := c.executor.Tick(ctx); err != nil {
		c.logger.Printf("controller: control tick: executor: %v", err)
	}

	invState, err := c.inverter.ReadState(ctx)
	if err != nil {
		c.logger.Printf("controller: control tick: inverter read failed: %v", err)
		return
	}
	batState, err := c.battery.ReadState(ctx)
	if err != nil {
		c.logger.Printf("controller: control tick: battery read failed: %v", err)
		return
	}

	now := c.clock.Now()
	constraints := c.constraints.Get()
	invCaps := c.inverter.Capabilities()
	houseKW := c.estimateHouseLoadKW(now)

	var evInput powerflow.EVInput
	var chargerState domain.ChargerState
	chargerConnected := false
	if c.charger != nil {
		chargerState, err = c.charger.ReadState(ctx)
		if err != nil {
			c.logger.Printf("controller: control tick: charger read failed: %v", err)
		} else if chargerState.Connected {
			chargerConnected = true
			caps := c.charger.Capabilities()
			evInput = powerflow.EVInput{
				Connected:         true,
				CurrentSoCPercent: chargerState.VehicleSoCPercent,
				TargetSoCPercent:  chargerState.TargetSoCPercent,
				DepartureTime:     chargerState.DepartureTime,
				MaxChargeKW:       caps.MaxAmps * caps.VoltageV * float64(caps.PhaseCount) / 1000,
				MinAmps:           caps.MinAmps,
				VoltageV:          caps.VoltageV,
			}
		}
	}

	result, err := powerflow.Allocate(powerflow.Input{
		PVKW:                     invState.PVPowerKW,
		HouseKW:                  houseKW,
		BatterySoCPercent:        batState.SoCPercent,
		BatteryTempC:             batState.TemperatureC,
		GridImportPriceSEKPerKWh: c.currentImportPrice(now),
		EV:                       evInput,
		Timestamp:                now,
		Constraints:              constraints,
		PhaseCount:               invCaps.PhaseCount,
		NominalVoltageV:          invCaps.NominalVoltageV,
	})
	if err != nil {
		c.logger.Printf("controller: control tick: powerflow allocate: %v", err)
		return
	}

	snap := result.Snapshot
	trueBatteryKW := batState.PowerW / 1000
	snap.BatteryKW = trueBatteryKW
	snap.GridKW = snap.HouseKW + snap.EVKW + math.Max(trueBatteryKW, 0) - snap.PVKW - math.Max(-trueBatteryKW, 0)

	c.mu.Lock()
	c.lastSnapshot = snap
	c.mu.Unlock()
	c.telemetry.PublishSnapshot(snap)

	if chargerConnected {
		c.driveCharger(ctx, chargerState, now, snap.EVKW)
	}
}

// driveCharger decides the EV charger's current command: V2X discharge
// takes precedence over charging whenever the gate chain passes, falling
// back to the powerflow-assigned charge rate otherwise.
func (c *Controller) driveCharger(ctx context.Context, state domain.ChargerState, now time.Time, evChargeKW float64) {
	caps := c.charger.Capabilities()
	if caps.V2X != nil && c.v2xConfig.Mode != v2x.ModeDisabled {
		currentPrice, averagePrice := c.priceContext(now)
		decision := v2x.Evaluate(c.v2xConfig, caps, state, currentPrice, averagePrice, now, c.safety)
		if decision.ShouldDischarge {
			amps := decision.TargetKW * 1000 / caps.VoltageV / float64(caps.PhaseCount)
			if err := c.charger.SetCurrent(ctx, -amps); err != nil {
				c.logger.Printf("controller: v2x set_current failed: %v", err)
			}
			return
		}
	}

	amps := evChargeKW * 1000 / caps.VoltageV / float64(caps.PhaseCount)
	switch {
	case amps < caps.MinAmps:
		amps = 0
	case amps > caps.MaxAmps:
		amps = caps.MaxAmps
	}
	if err := c.charger.SetCurrent(ctx, amps); err != nil {
		c.logger.Printf("controller: set_current failed: %v", err)
	}
}

// safetyTick feeds the independent safety monitor from the most recent
// control-tick snapshot plus a fresh voltage/frequency/temperature read,
// the same "safety reads what's already known, doesn't recompute it"
// split the executor's SafetyGate interface implies.
func (c *Controller) safetyTick(ctx context.Context) {
	c.mu.RLock()
	snap := c.lastSnapshot
	c.mu.RUnlock()

	invState, err := c.inverter.ReadState(ctx)
	if err != nil {
		c.logger.Printf("controller: safety tick: inverter read failed: %v", err)
		return
	}
	batState, err := c.battery.ReadState(ctx)
	if err != nil {
		c.logger.Printf("controller: safety tick: battery read failed: %v", err)
		return
	}
	invCaps := c.inverter.Capabilities()

	meas := domain.SafetyMeasurements{
		GridImportKW:        math.Max(snap.GridKW, 0),
		GridVoltageV:        invState.GridVoltageV,
		GridFrequencyHz:     invState.GridFrequencyHz,
		BatterySoCPercent:   batState.SoCPercent,
		BatteryTemperatureC: batState.TemperatureC,
		NominalVoltageV:     invCaps.NominalVoltageV,
		Timestamp:           c.clock.Now(),
	}
	c.safety.Tick(ctx, meas, c.constraints.Get())
}

// reoptimizeTick replans the 24h schedule from the most recently fetched
// forecast. Per spec, a failure leaves the previous schedule untouched;
// two consecutive failures only log a warning, they never trip E-stop.
func (c *Controller) reoptimizeTick(ctx context.Context) {
	c.forecastMu.RLock()
	fc, have := c.lastForecast, c.haveForecast
	c.forecastMu.RUnlock()
	if !have {
		c.logger.Printf("controller: reoptimize: no forecast available yet, skipping")
		return
	}

	batState, err := c.battery.ReadState(ctx)
	if err != nil {
		c.logger.Printf("controller: reoptimize: battery read failed: %v", err)
		c.recordReoptimizeFailure()
		return
	}

	state := optimizer.SystemState{
		BatteryCapabilities: c.battery.Capabilities(),
		CurrentSoCPercent:   batState.SoCPercent,
	}
	schedule, err := c.optimizer.Optimize(state, fc, c.constraints.Get())
	if err != nil {
		c.logger.Printf("controller: reoptimize: optimizer failed, keeping previous schedule: %v", err)
		c.recordReoptimizeFailure()
		return
	}
	schedule.ID = domain.NewID()
	c.schedule.Set(schedule)
	c.telemetry.PublishSchedule(schedule)
	c.resetReoptimizeFailures()
}

func (c *Controller) recordReoptimizeFailure() {
	c.mu.Lock()
	c.consecutiveReoptFailures++
	n := c.consecutiveReoptFailures
	c.mu.Unlock()
	if n >= 2 {
		c.logger.Printf("controller: reoptimize has failed %d consecutive times", n)
	}
}

func (c *Controller) resetReoptimizeFailures() {
	c.mu.Lock()
	c.consecutiveReoptFailures = 0
	c.mu.Unlock()
}

// forecastRefreshTick fetches a fresh Forecast24h and caches it for the
// reoptimize task, decoupling the (potentially slow, network-bound)
// forecast fetch from the reoptimize cadence.
func (c *Controller) forecastRefreshTick(ctx context.Context) {
	fc, err := c.forecast.Build(ctx, c.clock.Now())
	if err != nil {
		c.logger.Printf("controller: forecast refresh failed: %v", err)
		return
	}
	c.forecastMu.Lock()
	c.lastForecast = fc
	c.haveForecast = true
	c.forecastMu.Unlock()
}

// healthCheckTick probes every mounted device's cheap liveness check and
// logs any that report unhealthy.
func (c *Controller) healthCheckTick(ctx context.Context) {
	if hs, err := c.battery.HealthCheck(ctx); err != nil || !hs.Healthy {
		c.logger.Printf("controller: battery unhealthy: healthy=%v msg=%q err=%v", hs.Healthy, hs.Message, err)
	}
	if hs, err := c.inverter.HealthCheck(ctx); err != nil || !hs.Healthy {
		c.logger.Printf("controller: inverter unhealthy: healthy=%v msg=%q err=%v", hs.Healthy, hs.Message, err)
	}
	if c.charger == nil {
		return
	}
	if hs, err := c.charger.HealthCheck(ctx); err != nil || !hs.Healthy {
		c.logger.Printf("controller: charger unhealthy: healthy=%v msg=%q err=%v", hs.Healthy, hs.Message, err)
	}
}

func (c *Controller) estimateHouseLoadKW(now time.Time) float64 {
	c.forecastMu.RLock()
	fc := c.lastForecast
	c.forecastMu.RUnlock()
	for _, cp := range fc.Consumption {
		if !now.Before(cp.Start) && now.Before(cp.End) {
			return cp.LoadKW
		}
	}
	return 0
}

// priceContext returns the import price for the interval containing now
// and the mean import price across the cached forecast, used by both the
// powerflow allocation and the V2X price-differential gate.
func (c *Controller) priceContext(now time.Time) (current, average float64) {
	c.forecastMu.RLock()
	fc := c.lastForecast
	c.forecastMu.RUnlock()
	if len(fc.Prices) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, p := range fc.Prices {
		sum += p.ImportPrice
		if p.Contains(now) {
			current = p.ImportPrice
		}
	}
	return current, sum / float64(len(fc.Prices))
}

func (c *Controller) currentImportPrice(now time.Time) float64 {
	current, _ := c.priceContext(now)
	return current
}

// RegisterDevice adds a new versioned device record, for use by the API
// layer that first discovers a device before any update_device call.
func (c *Controller) RegisterDevice(rec DeviceRecord) DeviceRecord {
	return c.devices.Register(rec)
}

// GetDevice looks up a device record by ID.
func (c *Controller) GetDevice(id domain.ID) (DeviceRecord, bool) {
	return c.devices.Get(id)
}

// UpdateDevice applies a partial update to a device record, resolving the
// source's unspecified update_device concurrency behavior as
// reject-on-version-mismatch: a caller must supply the version it last
// read, and a stale version is rejected outright rather than silently
// merged or overwritten.
func (c *Controller) UpdateDevice(id domain.ID, expectedVersion int, mutate func(*DeviceRecord)) (DeviceRecord, error) {
	return c.devices.UpdateDevice(id, expectedVersion, mutate)
}
