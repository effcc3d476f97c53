package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homeems/core/domain"
)

func hourlyPrices(start time.Time, importPrice float64) []domain.PricePoint {
	out := make([]domain.PricePoint, 24)
	for i := range out {
		s := start.Add(time.Duration(i) * time.Hour)
		out[i] = domain.PricePoint{Start: s, End: s.Add(time.Hour), ImportPrice: importPrice}
	}
	return out
}

func TestEngine_Build_MergesAllThreeSources(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := hourlyPrices(start, 1.0)

	e := NewEngine(
		func(ctx context.Context, now time.Time) ([]domain.PricePoint, error) { return prices, nil },
		func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ConsumptionPoint, error) {
			out := make([]domain.ConsumptionPoint, len(grid))
			for i, g := range grid {
				out[i] = domain.ConsumptionPoint{Start: g.Start, End: g.End, LoadKW: 1}
			}
			return out, nil
		},
		func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ProductionPoint, error) {
			out := make([]domain.ProductionPoint, len(grid))
			for i, g := range grid {
				out[i] = domain.ProductionPoint{Start: g.Start, End: g.End, ProductionKW: 0}
			}
			return out, nil
		},
		0, nil,
	)

	f, err := e.Build(context.Background(), start)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.Prices) != 24 || len(f.Consumption) != 24 || len(f.Production) != 24 {
		t.Errorf("grid lengths = %d/%d/%d, want 24/24/24", len(f.Prices), len(f.Consumption), len(f.Production))
	}
}

func TestEngine_Build_PriceFailureWithNoFallbackErrors(t *testing.T) {
	e := NewEngine(
		func(ctx context.Context, now time.Time) ([]domain.PricePoint, error) {
			return nil, errors.New("upstream down")
		},
		nil, nil, 0, nil,
	)
	_, err := e.Build(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected an error when the price source fails with no cached fallback")
	}
}

func TestEngine_Build_PriceFailureFallsBackToLastGood(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	good := hourlyPrices(start, 1.0)
	calls := 0

	e := NewEngine(
		func(ctx context.Context, now time.Time) ([]domain.PricePoint, error) {
			calls++
			if calls == 1 {
				return good, nil
			}
			return nil, errors.New("second call fails")
		},
		nil, nil, time.Hour, nil,
	)

	if _, err := e.Build(context.Background(), start); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	f, err := e.Build(context.Background(), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Build should fall back to last-good prices: %v", err)
	}
	if len(f.Prices) != 24 {
		t.Errorf("fallback forecast has %d price points, want 24", len(f.Prices))
	}
}

func TestEngine_Build_ProductionFailureDegradesToNilNotError(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := hourlyPrices(start, 1.0)

	e := NewEngine(
		func(ctx context.Context, now time.Time) ([]domain.PricePoint, error) { return prices, nil },
		nil,
		func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ProductionPoint, error) {
			return nil, errors.New("weather fetch failed")
		},
		0, nil,
	)

	f, err := e.Build(context.Background(), start)
	if err != nil {
		t.Fatalf("Build should tolerate a production-source failure: %v", err)
	}
	if len(f.Production) != 0 {
		t.Errorf("Production = %v, want empty on first-ever fetch failure with nothing cached", f.Production)
	}
}

func TestHourlyGrid_StepsByOneHourFromTruncatedStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 13, 45, 0, 0, time.UTC)
	grid := HourlyGrid(start, 3)
	if len(grid) != 3 {
		t.Fatalf("len(grid) = %d, want 3", len(grid))
	}
	if grid[0].Minute() != 0 {
		t.Errorf("grid[0] = %v, want truncated to the hour", grid[0])
	}
	if !grid[1].Equal(grid[0].Add(time.Hour)) || !grid[2].Equal(grid[0].Add(2 * time.Hour)) {
		t.Errorf("grid = %v, want hourly steps", grid)
	}
}
