package domain

import (
	"math"
	"testing"
)

func validConstraints() Constraints {
	return Constraints{
		Physical: PhysicalConstraints{
			MaxGridImportKW:       11,
			MaxGridExportKW:       11,
			MaxBatteryChargeKW:    5,
			MaxBatteryDischargeKW: 5,
			PhaseFuseAmps:         25,
			EVSEMinAmps:           6,
			EVSEMaxAmps:           16,
		},
		Safety: SafetyConstraints{
			MinSoCPercent: 10, MaxSoCPercent: 95,
			MinTemperatureC: 0, MaxTemperatureC: 45,
			MinGridVoltageV: 207, MaxGridVoltageV: 253,
			MinGridFreqHz: 49, MaxGridFreqHz: 51,
			FuseTripMargin: 0.10, MaxMeasurementAge: 10, ControlLoopTimeoutS: 30,
		},
		Economic: EconomicConstraints{
			ArbitrageThresholdSEKPerKWh: 1.0,
		},
	}
}

func TestConstraints_ZeroValueRejected(t *testing.T) {
	var c Constraints
	if err := c.Validate(); err == nil {
		t.Fatal("expected zero-value constraints to fail validation")
	}
}

func TestConstraints_ValidPasses(t *testing.T) {
	if err := validConstraints().Validate(); err != nil {
		t.Fatalf("expected valid constraints to pass, got %v", err)
	}
}

func TestConstraints_ZeroPhysicalLimitRejected(t *testing.T) {
	c := validConstraints()
	c.Physical.MaxBatteryChargeKW = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected zero battery charge limit to be rejected")
	}
}

func TestConstraints_NaNRejected(t *testing.T) {
	c := validConstraints()
	c.Physical.MaxGridImportKW = math.NaN()
	if err := c.Validate(); err == nil {
		t.Fatal("expected NaN physical limit to be rejected")
	}
}

func TestConstraints_InfRejected(t *testing.T) {
	c := validConstraints()
	c.Safety.MaxCyclesPerDay = math.Inf(1)
	if err := c.Validate(); err == nil {
		t.Fatal("expected Inf safety value to be rejected")
	}
}

func TestConstraints_NegativePriceRejected(t *testing.T) {
	c := validConstraints()
	c.Economic.ArbitrageThresholdSEKPerKWh = -0.1
	if err := c.Validate(); err == nil {
		t.Fatal("expected negative price to be rejected")
	}
}

func TestConstraints_SoCOutOfRangeRejected(t *testing.T) {
	c := validConstraints()
	c.Safety.MaxSoCPercent = 120
	if err := c.Validate(); err == nil {
		t.Fatal("expected SoC > 100 to be rejected")
	}
}

func TestConstraints_EVSEMinBelowSixRejected(t *testing.T) {
	c := validConstraints()
	c.Physical.EVSEMinAmps = 4
	if err := c.Validate(); err == nil {
		t.Fatal("expected evse_min < 6A to be rejected")
	}
}

func TestConstraints_EVSEMaxBelowMinRejected(t *testing.T) {
	c := validConstraints()
	c.Physical.EVSEMaxAmps = 5
	if err := c.Validate(); err == nil {
		t.Fatal("expected evse_max < evse_min to be rejected")
	}
}

func TestValidatePrice(t *testing.T) {
	cases := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"positive", 1.5, false},
		{"zero", 0, false},
		{"negative", -0.1, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePrice(tc.price)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePrice(%v) error=%v, wantErr=%v", tc.price, err, tc.wantErr)
			}
		})
	}
}
