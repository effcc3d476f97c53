// Package config loads the controller's JSON configuration, adapted
// directly from the corpus's scheduler.Config: DefaultConfig supplies
// zero-ish values, Load/LoadFromReader decode JSON over those defaults and
// Validate, Save/SaveToWriter round-trip it back out.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/homeems/core/domain"
	"github.com/homeems/core/v2x"
)

// Snapshot is the controller's full static configuration. Unlike
// domain.Constraints (live, re-optimizer/API-writable), Snapshot is loaded
// once at startup and handed to the controller immutably.
type Snapshot struct {
	// Tick periods.
	ControlTickInterval   time.Duration `json:"control_tick_interval"`
	SafetyTickInterval    time.Duration `json:"safety_tick_interval"`
	ReoptimizeInterval    time.Duration `json:"reoptimize_interval"`
	ForecastRefreshPeriod time.Duration `json:"forecast_refresh_period"`
	HealthCheckInterval   time.Duration `json:"health_check_interval"`

	// Optimizer selection: "greedy", "dp", or "milp".
	OptimizerStrategy string `json:"optimizer_strategy"`

	// Device mounts. Each *Address is a connection string interpreted by
	// the corresponding device/<variant> package; empty disables that
	// device's hardware variant in favor of device/simulated.
	BatteryModbusAddress string `json:"battery_modbus_address"`
	InverterModbusAddress string `json:"inverter_modbus_address"`
	ChargerOCPPAddress    string `json:"charger_ocpp_address"`

	// Forecast source configuration.
	ENTSOESecurityToken string  `json:"entsoe_security_token"`
	ENTSOEAreaEIC       string  `json:"entsoe_area_eic"`
	MeteoUserAgent      string  `json:"meteo_user_agent"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	SolarPeakPowerKW    float64 `json:"solar_peak_power_kw"`
	ImportSurchargeSEKPerKWh float64 `json:"import_surcharge_sek_per_kwh"`
	ExportDeductionSEKPerKWh float64 `json:"export_deduction_sek_per_kwh"`

	// Persistence / telemetry, both optional external collaborators.
	PostgresConnString string `json:"postgres_conn_string"`
	WebSocketPort      int    `json:"websocket_port"` // 0 disables

	// V2X sub-controller tunables.
	V2XMode                       string  `json:"v2x_mode"` // "disabled", "v2g", "smart"
	V2XMinDrivingRangeSoCPercent  float64 `json:"v2x_min_driving_range_soc_percent"`
	V2XPeakHourStart              int     `json:"v2x_peak_hour_start"`
	V2XPeakHourEnd                int     `json:"v2x_peak_hour_end"`
	V2XMinPriceDifferentialSEK    float64 `json:"v2x_min_price_differential_sek_per_kwh"`

	// Sample ring sizing: capacity defaults to one day at ControlTickInterval.
	SampleRingCapacity int `json:"sample_ring_capacity"`

	// Physical / safety / economic constraint tiers loaded at startup and
	// installed into the controller's ConstraintsStore; later overwritable
	// by the re-optimizer/API per spec ownership rules.
	Physical PhysicalConfig `json:"physical"`
	Safety   SafetyConfig   `json:"safety"`
	Economic EconomicConfig `json:"economic"`

	LogLevel string `json:"log_level"`
}

// PhysicalConfig mirrors domain.PhysicalConstraints for JSON loading.
type PhysicalConfig struct {
	MaxGridImportKW       float64 `json:"max_grid_import_kw"`
	MaxGridExportKW       float64 `json:"max_grid_export_kw"`
	MaxBatteryChargeKW    float64 `json:"max_battery_charge_kw"`
	MaxBatteryDischargeKW float64 `json:"max_battery_discharge_kw"`
	PhaseFuseAmps         float64 `json:"phase_fuse_amps"`
	EVSEMinAmps           float64 `json:"evse_min_amps"`
	EVSEMaxAmps           float64 `json:"evse_max_amps"`
}

// SafetyConfig mirrors domain.SafetyConstraints for JSON loading.
type SafetyConfig struct {
	MinSoCPercent             float64 `json:"min_soc_percent"`
	MaxSoCPercent             float64 `json:"max_soc_percent"`
	MinTemperatureC           float64 `json:"min_temperature_c"`
	MaxTemperatureC           float64 `json:"max_temperature_c"`
	MinGridVoltageV           float64 `json:"min_grid_voltage_v"`
	MaxGridVoltageV           float64 `json:"max_grid_voltage_v"`
	MinGridFreqHz             float64 `json:"min_grid_freq_hz"`
	MaxGridFreqHz             float64 `json:"max_grid_freq_hz"`
	MaxCyclesPerDay           float64 `json:"max_cycles_per_day"`
	PeakTariffSEKPerKW        float64 `json:"peak_tariff_sek_per_kw"`
	BatteryReplacementCostSEK float64 `json:"battery_replacement_cost_sek"`
	FuseTripMargin            float64 `json:"fuse_trip_margin"`
	MaxMeasurementAge         float64 `json:"max_measurement_age_s"`
	ControlLoopTimeoutS       float64 `json:"control_loop_timeout_s"`
}

// EconomicConfig mirrors domain.EconomicConstraints for JSON loading.
type EconomicConfig struct {
	ArbitrageThresholdSEKPerKWh float64 `json:"arbitrage_threshold_sek_per_kwh"`
	PreferSelfConsumption       bool    `json:"prefer_self_consumption"`
	EVDeadlineHours             float64 `json:"ev_deadline_hours"`
	EVTargetSoCPercent          float64 `json:"ev_target_soc_percent"`
	LowPriceChargeRateFraction  float64 `json:"low_price_charge_rate_fraction"`
}

// DefaultConfig returns conservative but intentionally-incomplete defaults:
// tick periods and V2X gates are filled in, but the Physical tier is left
// at its unsafe all-zero value per spec §3 so Validate refuses to run
// until an operator supplies real fuse/inverter/charger limits.
func DefaultConfig() *Snapshot {
	return &Snapshot{
		ControlTickInterval:   time.Second,
		SafetyTickInterval:    time.Second,
		ReoptimizeInterval:    30 * time.Minute,
		ForecastRefreshPeriod: time.Hour,
		HealthCheckInterval:   time.Minute,
		OptimizerStrategy:     "dp",
		MeteoUserAgent:        "homeems/1.0",
		SampleRingCapacity:    86400,
		V2XMode:               "disabled",
		V2XMinDrivingRangeSoCPercent: 50,
		V2XPeakHourStart:             17,
		V2XPeakHourEnd:               21,
		V2XMinPriceDifferentialSEK:   0.5,
		Safety: SafetyConfig{
			MinSoCPercent: 10, MaxSoCPercent: 95,
			MinTemperatureC: 0, MaxTemperatureC: 45,
			MinGridVoltageV: 207, MaxGridVoltageV: 253,
			MinGridFreqHz: 49, MaxGridFreqHz: 51,
			FuseTripMargin: 0.10, MaxMeasurementAge: 10, ControlLoopTimeoutS: 30,
		},
		LogLevel: "info",
	}
}

// Load reads and validates configuration from a JSON file.
func Load(filename string) (*Snapshot, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader decodes JSON over DefaultConfig and validates the result.
func LoadFromReader(r io.Reader) (*Snapshot, error) {
	cfg := DefaultConfig()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file, indented for readability.
func (c *Snapshot) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("config: create: %w", err)
	}
	defer file.Close()
	return c.SaveToWriter(file)
}

// SaveToWriter writes the configuration as indented JSON.
func (c *Snapshot) SaveToWriter(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode JSON: %w", err)
	}
	return nil
}

// Constraints converts the loaded Physical/Safety/Economic tiers into a
// domain.Constraints, the shape the controller's ConstraintsStore holds.
// Field names and units match 1:1; this exists only because config.Snapshot
// is a JSON-tagged mirror of domain.Constraints, not the type itself, so
// the two don't unify for free.
func (c *Snapshot) Constraints() domain.Constraints {
	return domain.Constraints{
		Physical: domain.PhysicalConstraints{
			MaxGridImportKW:       c.Physical.MaxGridImportKW,
			MaxGridExportKW:       c.Physical.MaxGridExportKW,
			MaxBatteryChargeKW:    c.Physical.MaxBatteryChargeKW,
			MaxBatteryDischargeKW: c.Physical.MaxBatteryDischargeKW,
			PhaseFuseAmps:         c.Physical.PhaseFuseAmps,
			EVSEMinAmps:           c.Physical.EVSEMinAmps,
			EVSEMaxAmps:           c.Physical.EVSEMaxAmps,
		},
		Safety: domain.SafetyConstraints{
			MinSoCPercent:             c.Safety.MinSoCPercent,
			MaxSoCPercent:             c.Safety.MaxSoCPercent,
			MinTemperatureC:           c.Safety.MinTemperatureC,
			MaxTemperatureC:           c.Safety.MaxTemperatureC,
			MinGridVoltageV:           c.Safety.MinGridVoltageV,
			MaxGridVoltageV:           c.Safety.MaxGridVoltageV,
			MinGridFreqHz:             c.Safety.MinGridFreqHz,
			MaxGridFreqHz:             c.Safety.MaxGridFreqHz,
			MaxCyclesPerDay:           c.Safety.MaxCyclesPerDay,
			PeakTariffSEKPerKW:        c.Safety.PeakTariffSEKPerKW,
			BatteryReplacementCostSEK: c.Safety.BatteryReplacementCostSEK,
			FuseTripMargin:            c.Safety.FuseTripMargin,
			MaxMeasurementAge:         c.Safety.MaxMeasurementAge,
			ControlLoopTimeoutS:       c.Safety.ControlLoopTimeoutS,
		},
		Economic: domain.EconomicConstraints{
			ArbitrageThresholdSEKPerKWh: c.Economic.ArbitrageThresholdSEKPerKWh,
			PreferSelfConsumption:       c.Economic.PreferSelfConsumption,
			EVDeadlineHours:             c.Economic.EVDeadlineHours,
			EVTargetSoCPercent:          c.Economic.EVTargetSoCPercent,
			LowPriceChargeRateFraction:  c.Economic.LowPriceChargeRateFraction,
		},
	}
}

// V2XConfig converts the V2X tunables into a v2x.Config.
func (c *Snapshot) V2XConfig() v2x.Config {
	mode := v2x.ModeDisabled
	switch c.V2XMode {
	case "v2g":
		mode = v2x.ModeV2G
	case "smart":
		mode = v2x.ModeSmart
	}
	return v2x.Config{
		Mode:                          mode,
		MinDrivingRangeSoCPercent:     c.V2XMinDrivingRangeSoCPercent,
		PeakHourStart:                 c.V2XPeakHourStart,
		PeakHourEnd:                   c.V2XPeakHourEnd,
		MinPriceDifferentialSEKPerKWh: c.V2XMinPriceDifferentialSEK,
	}
}

// Validate rejects a configuration that cannot safely drive the control
// loop: non-positive tick periods, an unrecognized optimizer strategy, an
// unrecognized V2X mode, and — per spec §3 — the all-zeros "safe-mode"
// physical tier.
func (c *Snapshot) Validate() error {
	if c.ControlTickInterval <= 0 {
		return fmt.Errorf("control_tick_interval must be positive")
	}
	if c.SafetyTickInterval <= 0 {
		return fmt.Errorf("safety_tick_interval must be positive")
	}
	if c.ReoptimizeInterval <= 0 {
		return fmt.Errorf("reoptimize_interval must be positive")
	}
	switch c.OptimizerStrategy {
	case "greedy", "dp", "milp":
	default:
		return fmt.Errorf("optimizer_strategy %q not one of greedy/dp/milp", c.OptimizerStrategy)
	}
	switch c.V2XMode {
	case "disabled", "v2g", "smart":
	default:
		return fmt.Errorf("v2x_mode %q not one of disabled/v2g/smart", c.V2XMode)
	}
	if c.Physical.MaxGridImportKW <= 0 || c.Physical.MaxGridExportKW <= 0 ||
		c.Physical.MaxBatteryChargeKW <= 0 || c.Physical.MaxBatteryDischargeKW <= 0 ||
		c.Physical.PhaseFuseAmps <= 0 {
		return fmt.Errorf("physical constraints must be explicitly positive; refusing the all-zeros safe-mode default")
	}
	if c.Physical.EVSEMinAmps < 6 {
		return fmt.Errorf("evse_min_amps must be >= 6")
	}
	if c.Safety.MinSoCPercent < 0 || c.Safety.MaxSoCPercent > 100 || c.Safety.MinSoCPercent >= c.Safety.MaxSoCPercent {
		return fmt.Errorf("safety SoC bounds invalid")
	}
	if c.SampleRingCapacity <= 0 {
		return fmt.Errorf("sample_ring_capacity must be positive")
	}
	return nil
}
