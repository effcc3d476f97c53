// Package main provides the Home Energy Management System (emsd) entry
// point and CLI interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/homeems/core/config"
	"github.com/homeems/core/controller"
	"github.com/homeems/core/device"
	"github.com/homeems/core/device/modbus"
	"github.com/homeems/core/device/simulated"
	"github.com/homeems/core/domain"
	"github.com/homeems/core/executor"
	"github.com/homeems/core/forecast"
	"github.com/homeems/core/forecast/entsoe"
	"github.com/homeems/core/forecast/meteo"
	"github.com/homeems/core/optimizer"
	"github.com/homeems/core/persistence"
	"github.com/homeems/core/persistence/postgres"
	"github.com/homeems/core/safety"
	"github.com/homeems/core/telemetry"
	"github.com/homeems/core/telemetry/ws"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		help       = flag.Bool("help", false, "Show help message")
		simulate   = flag.Bool("simulate", false, "Force every device onto the simulated backend, ignoring *Address fields")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[EMSD] ", log.LstdFlags)

	fmt.Printf("Starting Home Energy Management System with the following configuration:\n")
	fmt.Printf("  Optimizer strategy: %s\n", cfg.OptimizerStrategy)
	fmt.Printf("  Control tick: %s\n", cfg.ControlTickInterval)
	fmt.Printf("  Reoptimize interval: %s\n", cfg.ReoptimizeInterval)
	fmt.Println()

	clk := domain.NewSystemClock()

	battery, inverter, charger := buildDevices(cfg, clk, *simulate, logger)

	var scheduleStore domain.ScheduleStore
	var constraintsStore domain.ConstraintsStore
	constraintsStore.Set(cfg.Constraints())
	samples := domain.NewSampleRing(cfg.SampleRingCapacity)

	sm := safety.New(battery, inverter, clk, true, cfg.SampleRingCapacity, logger)
	strategy := buildOptimizer(cfg)
	fc := buildForecastEngine(cfg, logger)

	pidCfg := executor.DefaultPIDConfig(battery.Capabilities().MaxChargeKW * 1000)
	rampCfg := executor.PowerRampConfig{RampRateWPerSec: 2000, MinRampThresholdW: 50}
	ex := executor.NewScheduleExecutor(battery, clk, &scheduleStore, samples, sm, pidCfg, rampCfg, logger)

	sink := buildSink(cfg, logger)
	pub := buildTelemetry(cfg, logger)

	ctrl := controller.New(controller.Deps{
		Battery: battery, Inverter: inverter, Charger: charger,
		Clock: clk, Schedule: &scheduleStore, Constraints: &constraintsStore, Samples: samples,
		Optimizer: strategy, Forecast: fc, Executor: ex, Safety: sm,
		V2X: cfg.V2XConfig(), Sink: sink, Telemetry: pub,
	}, controller.Config{
		ControlTickInterval:   cfg.ControlTickInterval,
		SafetyTickInterval:    cfg.SafetyTickInterval,
		ReoptimizeInterval:    cfg.ReoptimizeInterval,
		ForecastRefreshPeriod: cfg.ForecastRefreshPeriod,
		HealthCheckInterval:   cfg.HealthCheckInterval,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := ctrl.Start(ctx); err != nil {
			logger.Printf("controller error: %v", err)
		}
	}()

	logger.Printf("emsd started. Press Ctrl+C to stop...")

	<-sigChan
	logger.Printf("shutdown signal received, stopping controller...")
	cancel()
	ctrl.Stop()
	logger.Printf("emsd stopped successfully")
}

// buildDevices mounts each device on its hardware backend when configured,
// falling back to device/simulated otherwise. Two gaps are hard facts about
// the current device packages rather than choices made here: device/modbus
// has no Inverter implementation (only Battery), and device/ocpp.Charger
// needs a MessageTransport with zero concrete implementations anywhere in
// the corpus — it is documented as a pluggable external collaborator the
// deploying site must supply. Both fall back to simulated with a warning
// instead of silently dropping the configured address or inventing a fake
// transport.
func buildDevices(cfg *config.Snapshot, clk domain.Clock, simulate bool, logger *log.Logger) (device.Battery, device.Inverter, device.EvCharger) {
	batteryCaps := domain.BatteryCapabilities{
		CapacityKWh:         13.5,
		MaxChargeKW:         cfg.Physical.MaxBatteryChargeKW,
		MaxDischargeKW:      cfg.Physical.MaxBatteryDischargeKW,
		RoundTripEfficiency: 0.95,
		Chemistry:           "LFP",
	}
	inverterCaps := domain.InverterCapabilities{
		MaxACPowerKW:    cfg.Physical.MaxGridExportKW,
		MaxPVInputKW:    cfg.SolarPeakPowerKW,
		PhaseCount:      3,
		PhaseFuseAmps:   cfg.Physical.PhaseFuseAmps,
		NominalVoltageV: 230,
		NominalFreqHz:   50,
	}
	chargerCaps := domain.ChargerCapabilities{
		PhaseCount: 3,
		MinAmps:    cfg.Physical.EVSEMinAmps,
		MaxAmps:    cfg.Physical.EVSEMaxAmps,
		VoltageV:   230,
	}

	var battery device.Battery
	if !simulate && cfg.BatteryModbusAddress != "" {
		handler := gomodbus.NewTCPClientHandler(cfg.BatteryModbusAddress)
		handler.SlaveId = 1
		handler.Timeout = device.IOTimeout
		if err := handler.Connect(); err != nil {
			logger.Printf("battery modbus connect to %s failed, falling back to simulated: %v", cfg.BatteryModbusAddress, err)
			battery = simulated.NewBattery(batteryCaps, 50, clk)
		} else {
			client := gomodbus.NewClient(handler)
			battery = modbus.NewBattery(client, defaultBatteryRegisterMap(), batteryCaps, clk)
		}
	} else {
		battery = simulated.NewBattery(batteryCaps, 50, clk)
	}

	if cfg.InverterModbusAddress != "" {
		logger.Printf("inverter_modbus_address is set but device/modbus has no Inverter implementation; falling back to simulated")
	}
	inverter := simulated.NewInverter(inverterCaps, clk)

	var charger device.EvCharger
	if cfg.ChargerOCPPAddress != "" {
		logger.Printf("charger_ocpp_address is set but no ocpp.MessageTransport is wired in; falling back to simulated")
	}
	charger = simulated.NewEvCharger(chargerCaps, clk)

	return battery, inverter, charger
}

// defaultBatteryRegisterMap is a placeholder register layout for a
// Modbus-attached battery; a real deployment supplies vendor-specific
// addresses and scaling factors through its own RegisterMap value rather
// than this one, which exists so battery_modbus_address has something to
// exercise out of the box.
func defaultBatteryRegisterMap() modbus.RegisterMap {
	return modbus.RegisterMap{
		SlaveID:           1,
		SoCPercentAddr:    0,
		PowerWAddr:        2,
		VoltageVAddr:      4,
		TemperatureCAddr:  5,
		StatusAddr:        6,
		PowerSetpointAddr: 10,
		ShutdownCoilAddr:  20,
	}
}

func buildOptimizer(cfg *config.Snapshot) optimizer.Strategy {
	switch cfg.OptimizerStrategy {
	case "greedy":
		return optimizer.Greedy{}
	case "milp":
		return optimizer.MILP{}
	default:
		return optimizer.DP{}
	}
}

func buildForecastEngine(cfg *config.Snapshot, logger *log.Logger) *forecast.Engine {
	priceSource := flatPriceSource(1.0)
	if cfg.ENTSOESecurityToken != "" {
		client := entsoe.NewClient(cfg.ENTSOESecurityToken, cfg.ENTSOEAreaEIC)
		priceSource = client.FetchPrices
	} else {
		logger.Printf("entsoe_security_token not set, using a flat price forecast")
	}

	var productionSource forecast.ProductionSource
	if cfg.MeteoUserAgent != "" && cfg.Latitude != 0 && cfg.Longitude != 0 {
		client := meteo.NewClient(cfg.MeteoUserAgent)
		productionSource = client.Source(meteo.PanelConfig{
			Latitude:    cfg.Latitude,
			Longitude:   cfg.Longitude,
			PeakPowerKW: cfg.SolarPeakPowerKW,
		})
	}

	// No consumption (house load) forecast source exists anywhere in the
	// corpus; nil here falls back to forecast.Engine's last-good/empty
	// handling, and estimateHouseLoadKW degrades to 0 until one is wired
	// in from a real load-forecasting provider.
	var consumptionSource forecast.ConsumptionSource

	return forecast.NewEngine(priceSource, consumptionSource, productionSource, 6*time.Hour, logger)
}

// flatPriceSource stands in for a real market-price feed when none is
// configured: a constant import price over the next 24 hours, enough for
// forecast.Engine.Build to assemble a valid Forecast24h instead of
// dereferencing a nil PriceSource.
func flatPriceSource(importPrice float64) forecast.PriceSource {
	return func(ctx context.Context, now time.Time) ([]domain.PricePoint, error) {
		grid := forecast.HourlyGrid(now, 25)
		pts := make([]domain.PricePoint, 0, 24)
		for i := 0; i < 24; i++ {
			pts = append(pts, domain.PricePoint{Start: grid[i], End: grid[i+1], ImportPrice: importPrice})
		}
		return pts, nil
	}
}

func buildSink(cfg *config.Snapshot, logger *log.Logger) persistence.SampleSink {
	if cfg.PostgresConnString == "" {
		return persistence.NopSink{}
	}
	sink, err := postgres.Open(cfg.PostgresConnString)
	if err != nil {
		logger.Printf("postgres sink unavailable, falling back to nop: %v", err)
		return persistence.NopSink{}
	}
	return sink
}

func buildTelemetry(cfg *config.Snapshot, logger *log.Logger) telemetry.Publisher {
	if cfg.WebSocketPort == 0 {
		return telemetry.Nop{}
	}
	hub := ws.NewHub(logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WebSocketPort)
		logger.Printf("telemetry websocket listening on %s", addr)
		if err := http.ListenAndServe(addr, hub); err != nil && err != http.ErrServerClosed {
			logger.Printf("telemetry server stopped: %v", err)
		}
	}()
	return hub
}

func showHelp() {
	fmt.Println("Home Energy Management System (emsd) - coordinate PV, battery, EV charging, and grid import/export")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  emsd [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  emsd --config=config.json")
	fmt.Println("  emsd --config=config.json --simulate")
}
