package domain

import (
	"fmt"
	"time"
)

// PricePoint is a half-open interval [Start, End) with a scalar import price
// and an optional export price, both in SEK/kWh.
type PricePoint struct {
	Start       time.Time
	End         time.Time
	ImportPrice float64
	ExportPrice *float64
}

// Contains reports whether t falls inside the point's half-open interval.
func (p PricePoint) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ConsumptionPoint is a forecast house-load value over a half-open interval.
type ConsumptionPoint struct {
	Start    time.Time
	End      time.Time
	LoadKW   float64
}

// ProductionPoint is a forecast PV-production value over a half-open interval.
type ProductionPoint struct {
	Start      time.Time
	End        time.Time
	ProductionKW float64
}

// Forecast24h is an ordered sequence of PricePoints covering at least 24h,
// plus aligned optional consumption and production sequences sharing the
// same interval grid.
type Forecast24h struct {
	Prices      []PricePoint
	Consumption []ConsumptionPoint
	Production  []ProductionPoint
}

// Validate checks that the forecast covers at least 24h with sorted,
// non-overlapping, gap-free price intervals, and that aligned series (when
// present) have the same number of points as the price series; their
// interval boundaries are not compared.
func (f Forecast24h) Validate() error {
	if len(f.Prices) == 0 {
		return fmt.Errorf("forecast: no price points")
	}
	for i, p := range f.Prices {
		if !p.End.After(p.Start) {
			return fmt.Errorf("forecast: price point %d has non-positive duration", i)
		}
		if i > 0 && !p.Start.Equal(f.Prices[i-1].End) {
			return fmt.Errorf("forecast: gap or overlap between price points %d and %d", i-1, i)
		}
	}
	span := f.Prices[len(f.Prices)-1].End.Sub(f.Prices[0].Start)
	if span < 24*time.Hour {
		return fmt.Errorf("forecast: horizon %s shorter than 24h", span)
	}
	if len(f.Consumption) != 0 && len(f.Consumption) != len(f.Prices) {
		return fmt.Errorf("forecast: consumption grid (%d) does not align with price grid (%d)", len(f.Consumption), len(f.Prices))
	}
	if len(f.Production) != 0 && len(f.Production) != len(f.Prices) {
		return fmt.Errorf("forecast: production grid (%d) does not align with price grid (%d)", len(f.Production), len(f.Prices))
	}
	return nil
}
