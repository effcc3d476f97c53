package controller

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/homeems/core/device/mock"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/executor"
	"github.com/homeems/core/forecast"
	"github.com/homeems/core/optimizer"
	"github.com/homeems/core/safety"
	"github.com/homeems/core/v2x"
)

// stubStrategy always returns a single-entry schedule covering the whole
// forecast horizon at a fixed charge target.
type stubStrategy struct {
	targetW float64
	failing bool
}

func (s stubStrategy) Optimize(_ optimizer.SystemState, fc domain.Forecast24h, _ domain.Constraints) (domain.Schedule, error) {
	if s.failing {
		return domain.Schedule{}, errTestOptimizerFailed
	}
	start := fc.Prices[0].Start
	end := fc.Prices[len(fc.Prices)-1].End
	return domain.Schedule{
		ValidFrom: start, ValidUntil: end,
		Entries: []domain.ScheduleEntry{{Start: start, End: end, TargetPowerW: s.targetW, ReasonTag: "test", OptimizerVersion: "stub"}},
	}, nil
}

var errTestOptimizerFailed = &testError{"stub optimizer failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

type recordingSink struct {
	mu    sync.Mutex
	saved []domain.BatteryStateSample
}

func (s *recordingSink) SaveSamples(_ context.Context, samples []domain.BatteryStateSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, samples...)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func staticPriceSource(ctx context.Context, now time.Time) ([]domain.PricePoint, error) {
	grid := forecast.HourlyGrid(now, 25)
	pts := make([]domain.PricePoint, 0, 24)
	for i := 0; i < 24; i++ {
		pts = append(pts, domain.PricePoint{Start: grid[i], End: grid[i+1], ImportPrice: 1.0})
	}
	return pts, nil
}

func testConstraints() domain.Constraints {
	return domain.Constraints{
		Physical: domain.PhysicalConstraints{
			MaxGridImportKW: 10, MaxGridExportKW: 10,
			MaxBatteryChargeKW: 5, MaxBatteryDischargeKW: 5,
			PhaseFuseAmps: 25, EVSEMinAmps: 6, EVSEMaxAmps: 16,
		},
		Safety: domain.SafetyConstraints{
			MinSoCPercent: 10, MaxSoCPercent: 95,
			MinTemperatureC: 0, MaxTemperatureC: 45,
			MinGridVoltageV: 200, MaxGridVoltageV: 260,
			MinGridFreqHz: 49, MaxGridFreqHz: 51,
			FuseTripMargin: 0.10, MaxMeasurementAge: 10, ControlLoopTimeoutS: 30,
		},
		Economic: domain.EconomicConstraints{ArbitrageThresholdSEKPerKWh: 1, EVTargetSoCPercent: 80},
	}
}

// newTestController builds a fully-wired Controller over mock devices and
// a static forecast, with fast tick periods suited to a short-lived test.
func newTestController(t *testing.T, strategy optimizer.Strategy) (*Controller, *recordingSink) {
	t.Helper()

	battery := &mock.Battery{}
	inverter := &mock.Inverter{}
	clk := domain.NewSystemClock()

	var scheduleStore domain.ScheduleStore
	var constraintsStore domain.ConstraintsStore
	constraintsStore.Set(testConstraints())
	samples := domain.NewSampleRing(64)

	sm := safety.New(battery, inverter, clk, true, 64, nil)
	ex := executor.NewScheduleExecutor(battery, clk, &scheduleStore, samples, sm,
		executor.DefaultPIDConfig(5000), executor.PowerRampConfig{RampRateWPerSec: 2000, MinRampThresholdW: 50}, nil)

	fc := forecast.NewEngine(staticPriceSource, nil, nil, 0, nil)
	sink := &recordingSink{}

	ctrl := New(Deps{
		Battery: battery, Inverter: inverter, Charger: nil,
		Clock: clk, Schedule: &scheduleStore, Constraints: &constraintsStore, Samples: samples,
		Optimizer: strategy, Forecast: fc, Executor: ex, Safety: sm,
		V2X: v2x.DefaultConfig(), Sink: sink, Telemetry: nil,
	}, Config{
		ControlTickInterval:   5 * time.Millisecond,
		SafetyTickInterval:    5 * time.Millisecond,
		ReoptimizeInterval:    20 * time.Millisecond,
		ForecastRefreshPeriod: 20 * time.Millisecond,
		HealthCheckInterval:   20 * time.Millisecond,
	}, log.New(io.Discard, "", 0))

	return ctrl, sink
}

func TestController_StartStop_RunsAndDrainsSamplesOnShutdown(t *testing.T) {
	ctrl, sink := newTestController(t, stubStrategy{targetW: 500})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		ctrl.Start(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)

	if !ctrl.IsRunning() {
		t.Fatal("expected controller to be running after Start")
	}
	if ctrl.schedule.Get().ID.IsZero() {
		t.Error("expected the synchronous initial reoptimize to have installed a schedule")
	}

	ctrl.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if ctrl.IsRunning() {
		t.Error("expected IsRunning to be false after Stop")
	}
	if sink.count() == 0 {
		t.Error("expected drained samples to reach the sample sink on shutdown")
	}
	if ctrl.GetStatus().SampleCount != 0 {
		t.Errorf("SampleCount after drain = %d, want 0", ctrl.GetStatus().SampleCount)
	}
}

func TestController_Start_RejectsConcurrentStart(t *testing.T) {
	ctrl, _ := newTestController(t, stubStrategy{targetW: 500})
	ctrl.mu.Lock()
	ctrl.isRunning = true
	ctrl.mu.Unlock()

	if err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("expected an error starting an already-running controller")
	}
}

func TestController_Reoptimize_KeepsPreviousScheduleOnFailure(t *testing.T) {
	ctrl, _ := newTestController(t, stubStrategy{targetW: 500})
	ctx := context.Background()

	ctrl.forecastRefreshTick(ctx)
	ctrl.reoptimizeTick(ctx)
	first := ctrl.schedule.Get()
	if first.ID.IsZero() {
		t.Fatal("expected the first reoptimize to install a schedule")
	}

	ctrl.optimizer = stubStrategy{failing: true}
	ctrl.reoptimizeTick(ctx)
	second := ctrl.schedule.Get()
	if second.ID != first.ID {
		t.Error("expected a failed reoptimize to leave the previous schedule in place")
	}
	if ctrl.consecutiveReoptFailures != 1 {
		t.Errorf("consecutiveReoptFailures = %d, want 1", ctrl.consecutiveReoptFailures)
	}
}

func TestDeviceRegistry_UpdateDevice_RejectsStaleVersion(t *testing.T) {
	r := newDeviceRegistry()
	rec := r.Register(DeviceRecord{Kind: "battery", Battery: domain.BatteryCapabilities{MaxChargeKW: 5}})

	if _, err := r.UpdateDevice(rec.ID, rec.Version+1, func(d *DeviceRecord) { d.Battery.MaxChargeKW = 6 }); err == nil {
		t.Fatal("expected a version-mismatch error")
	}

	unchanged, _ := r.Get(rec.ID)
	if unchanged.Battery.MaxChargeKW != 5 {
		t.Errorf("MaxChargeKW = %v, want unchanged 5 after rejected update", unchanged.Battery.MaxChargeKW)
	}
}

func TestDeviceRegistry_UpdateDevice_AppliesMutationAndBumpsVersion(t *testing.T) {
	r := newDeviceRegistry()
	rec := r.Register(DeviceRecord{Kind: "battery", Battery: domain.BatteryCapabilities{MaxChargeKW: 5}})

	updated, err := r.UpdateDevice(rec.ID, rec.Version, func(d *DeviceRecord) { d.Battery.MaxChargeKW = 6 })
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if updated.Battery.MaxChargeKW != 6 {
		t.Errorf("MaxChargeKW = %v, want 6", updated.Battery.MaxChargeKW)
	}
	if updated.Version != rec.Version+1 {
		t.Errorf("Version = %d, want %d", updated.Version, rec.Version+1)
	}
}

func TestDeviceRegistry_UpdateDevice_UnknownIDFails(t *testing.T) {
	r := newDeviceRegistry()
	if _, err := r.UpdateDevice(domain.NewID(), 1, func(*DeviceRecord) {}); err == nil {
		t.Fatal("expected a not-found error for an unregistered ID")
	}
}
