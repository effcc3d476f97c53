// Package forecast assembles a domain.Forecast24h from independent price,
// consumption, and production sources, the way the teacher's scheduler
// assembles an mpc.TimeSlot slice from its price/weather/load lookups —
// except here each source is a pluggable function type instead of a method
// on the scheduler, so entsoe/meteo clients and test doubles share one
// seam.
package forecast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/homeems/core/domain"
)

// PriceSource fetches day-ahead import/export prices for the 24h window
// starting at now.
type PriceSource func(ctx context.Context, now time.Time) ([]domain.PricePoint, error)

// ConsumptionSource fetches a house-load forecast aligned to the same grid
// as the price source. Optional: a nil source leaves Forecast24h.Consumption
// empty.
type ConsumptionSource func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ConsumptionPoint, error)

// ProductionSource fetches a PV-production forecast aligned to the price
// grid. Optional: a nil source leaves Forecast24h.Production empty.
type ProductionSource func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ProductionPoint, error)

// Engine merges the three sources into a single Forecast24h, holding onto
// the last good result per source so a transient fetch failure degrades to
// stale data rather than an empty forecast — the same cache-with-fallback
// idea as the teacher's pricesMarketData/pricesMarketDataExpiry field pair
// and weatherCache, generalized from one hand-rolled cache per source to a
// single struct covering all three.
type Engine struct {
	Prices      PriceSource
	Consumption ConsumptionSource
	Production  ProductionSource
	MaxStale    time.Duration // how long a cached result may be reused; 0 means forever

	logger *log.Logger

	lastPrices      []domain.PricePoint
	lastPricesAt    time.Time
	lastConsumption []domain.ConsumptionPoint
	lastConsumedAt  time.Time
	lastProduction  []domain.ProductionPoint
	lastProducedAt  time.Time
}

// NewEngine builds an Engine. logger defaults to log.Default() when nil.
func NewEngine(prices PriceSource, consumption ConsumptionSource, production ProductionSource, maxStale time.Duration, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Prices: prices, Consumption: consumption, Production: production, MaxStale: maxStale, logger: logger}
}

// Build fetches and merges a fresh Forecast24h. A source failure logs a
// warning and falls back to the last good result for that source, exactly
// as buildMPCForecast degrades to zero solar on a weather-fetch failure
// rather than aborting the whole forecast.
func (e *Engine) Build(ctx context.Context, now time.Time) (domain.Forecast24h, error) {
	prices, err := e.Prices(ctx, now)
	if err != nil {
		e.logger.Printf("forecast: price source failed: %v", err)
		if e.lastPrices == nil || e.stale(e.lastPricesAt, now) {
			return domain.Forecast24h{}, fmt.Errorf("forecast: no usable price data: %w", err)
		}
		prices = e.lastPrices
	} else {
		e.lastPrices, e.lastPricesAt = prices, now
	}

	var consumption []domain.ConsumptionPoint
	if e.Consumption != nil {
		consumption, err = e.Consumption(ctx, now, prices)
		if err != nil {
			e.logger.Printf("forecast: consumption source failed: %v, using last-good if fresh, else none", err)
			if e.lastConsumption != nil && !e.stale(e.lastConsumedAt, now) {
				consumption = e.lastConsumption
			} else {
				consumption = nil
			}
		} else {
			e.lastConsumption, e.lastConsumedAt = consumption, now
		}
	}

	var production []domain.ProductionPoint
	if e.Production != nil {
		production, err = e.Production(ctx, now, prices)
		if err != nil {
			e.logger.Printf("forecast: production source failed: %v, using last-good if fresh, else none", err)
			if e.lastProduction != nil && !e.stale(e.lastProducedAt, now) {
				production = e.lastProduction
			} else {
				production = nil
			}
		} else {
			e.lastProduction, e.lastProducedAt = production, now
		}
	}

	f := domain.Forecast24h{Prices: prices, Consumption: consumption, Production: production}
	if err := f.Validate(); err != nil {
		return domain.Forecast24h{}, fmt.Errorf("forecast: assembled forecast invalid: %w", err)
	}
	return f, nil
}

func (e *Engine) stale(at, now time.Time) bool {
	if e.MaxStale <= 0 {
		return false
	}
	return now.Sub(at) > e.MaxStale
}

// HourlyGrid returns n hour-start times, one hour apart, beginning at the
// top of the hour containing start, the same "now.Add(hour*time.Hour)"
// stepping the teacher's getPriceForecast/getSolarForecast loops use.
// Callers pair consecutive entries into interval boundaries.
func HourlyGrid(start time.Time, n int) []time.Time {
	base := start.Truncate(time.Hour)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return out
}
