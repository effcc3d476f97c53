package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/homeems/core/v2x"
)

func validPhysical() PhysicalConfig {
	return PhysicalConfig{
		MaxGridImportKW: 11, MaxGridExportKW: 11,
		MaxBatteryChargeKW: 5, MaxBatteryDischargeKW: 5,
		PhaseFuseAmps: 25, EVSEMinAmps: 6, EVSEMaxAmps: 16,
	}
}

func TestDefaultConfig_FailsValidationWithoutPhysicalLimits(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected the all-zeros physical default to fail validation")
	}
}

func TestLoadFromReader_ValidConfigSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Physical = validPhysical()
	var buf bytes.Buffer
	if err := cfg.SaveToWriter(&buf); err != nil {
		t.Fatalf("SaveToWriter: %v", err)
	}

	loaded, err := LoadFromReader(&buf)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if loaded.Physical.PhaseFuseAmps != 25 {
		t.Errorf("PhaseFuseAmps = %v, want 25", loaded.Physical.PhaseFuseAmps)
	}
}

func TestLoadFromReader_RejectsMalformedJSON(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("{not json")); err == nil {
		t.Fatal("expected an error decoding malformed JSON")
	}
}

func TestValidate_RejectsUnknownOptimizerStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Physical = validPhysical()
	cfg.OptimizerStrategy = "quantum"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized optimizer strategy")
	}
}

func TestValidate_RejectsEVSEMinBelowSixAmps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Physical = validPhysical()
	cfg.Physical.EVSEMinAmps = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for evse_min_amps below 6")
	}
}

func TestValidate_RejectsInvertedSoCBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Physical = validPhysical()
	cfg.Safety.MinSoCPercent = 90
	cfg.Safety.MaxSoCPercent = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for inverted SoC bounds")
	}
}

func TestSnapshot_Constraints_CarriesFieldsThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Physical = validPhysical()

	c := cfg.Constraints()
	if c.Physical.PhaseFuseAmps != cfg.Physical.PhaseFuseAmps {
		t.Errorf("PhaseFuseAmps = %v, want %v", c.Physical.PhaseFuseAmps, cfg.Physical.PhaseFuseAmps)
	}
	if c.Safety.MinSoCPercent != cfg.Safety.MinSoCPercent {
		t.Errorf("MinSoCPercent = %v, want %v", c.Safety.MinSoCPercent, cfg.Safety.MinSoCPercent)
	}
	if c.Economic.EVTargetSoCPercent != cfg.Economic.EVTargetSoCPercent {
		t.Errorf("EVTargetSoCPercent = %v, want %v", c.Economic.EVTargetSoCPercent, cfg.Economic.EVTargetSoCPercent)
	}
}

func TestSnapshot_V2XConfig_MapsModeString(t *testing.T) {
	tests := []struct {
		mode string
		want v2x.Mode
	}{
		{"disabled", v2x.ModeDisabled},
		{"v2g", v2x.ModeV2G},
		{"smart", v2x.ModeSmart},
		{"", v2x.ModeDisabled},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.V2XMode = tt.mode
		if got := cfg.V2XConfig().Mode; got != tt.want {
			t.Errorf("V2XMode %q: Mode = %v, want %v", tt.mode, got, tt.want)
		}
	}
}
