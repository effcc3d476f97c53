// Package meteo fetches a location weather forecast from the MET Norway
// Locationforecast API and turns it into a PV production estimate, adapted
// from the corpus's meteo client + scheduler.estimateSolarPowerFromWeather:
// same HTTP/JSON client shape, trimmed to the one field
// (cloud_area_fraction) the production estimate actually consumes, and the
// same suncalc-altitude-times-cloud-factor model, rewired to emit
// domain.ProductionPoint over an arbitrary grid instead of a fixed
// map[int]float64 keyed by hour-offset.
package meteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/homeems/core/domain"
)

// Client is a small MET Norway Locationforecast client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient builds a Client. MET Norway requires an identifying User-Agent
// per its terms of use.
func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.met.no/weatherapi/locationforecast/2.0/complete",
		userAgent:  userAgent,
	}
}

func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// PanelConfig describes the PV array the production estimate scales to.
type PanelConfig struct {
	Latitude, Longitude float64
	PeakPowerKW         float64
}

// Source builds a forecast.ProductionSource closure bound to a panel
// configuration — the Engine only ever sees the function type, not this
// package's client or HTTP concerns, the same separation the teacher draws
// between MinerScheduler and the meteo package it calls into.
func (c *Client) Source(panel PanelConfig) func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ProductionPoint, error) {
	return func(ctx context.Context, now time.Time, grid []domain.PricePoint) ([]domain.ProductionPoint, error) {
		fc, err := c.fetch(ctx, panel.Latitude, panel.Longitude)
		if err != nil {
			return nil, fmt.Errorf("meteo: fetch forecast: %w", err)
		}
		out := make([]domain.ProductionPoint, len(grid))
		for i, g := range grid {
			kw := estimatePower(fc, g.Start, panel)
			out[i] = domain.ProductionPoint{Start: g.Start, End: g.End, ProductionKW: kw}
		}
		return out, nil
	}
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (*forecast, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("lat", fmt.Sprintf("%.4f", lat))
	q.Set("lon", fmt.Sprintf("%.4f", lon))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var fc forecast
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &fc, nil
}

// --- wire shapes, trimmed to the single field the estimate consumes. ---

type forecast struct {
	Properties *properties `json:"properties"`
}

type properties struct {
	Timeseries []timeStep `json:"timeseries"`
}

type timeStep struct {
	Time time.Time `json:"time"`
	Data struct {
		Instant struct {
			Details struct {
				CloudAreaFraction *float64 `json:"cloud_area_fraction"`
			} `json:"details"`
		} `json:"instant"`
	} `json:"data"`
}

// closestStep finds the timeseries entry nearest to target, mirroring the
// teacher's linear closest-time-step scan (the payload is small enough —
// typically under 100 entries — that a scan beats building an index).
func closestStep(fc *forecast, target time.Time) *timeStep {
	if fc == nil || fc.Properties == nil || len(fc.Properties.Timeseries) == 0 {
		return nil
	}
	best := &fc.Properties.Timeseries[0]
	bestDiff := best.Time.Sub(target)
	if bestDiff < 0 {
		bestDiff = -bestDiff
	}
	for i := 1; i < len(fc.Properties.Timeseries); i++ {
		step := &fc.Properties.Timeseries[i]
		diff := step.Time.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = step, diff
		}
	}
	return best
}

// estimatePower reproduces estimateSolarPowerFromWeather's altitude and
// cloud-factor model: zero outside daylight, peak power scaled by
// sin(altitude) and a cloud factor that shaves up to 90% off clear-sky
// output.
func estimatePower(fc *forecast, target time.Time, panel PanelConfig) float64 {
	sunTimes := suncalc.GetTimes(target, panel.Latitude, panel.Longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if target.Before(sunrise) || target.After(sunset) {
		return 0
	}

	pos := suncalc.GetPosition(target, panel.Latitude, panel.Longitude)
	angleFactor := math.Sin(pos.Altitude)
	if angleFactor < 0 {
		return 0
	}

	cloudFactor := 1.0
	if step := closestStep(fc, target); step != nil {
		if caf := step.Data.Instant.Details.CloudAreaFraction; caf != nil {
			cloudFactor = 1.0 - (*caf/100.0)*0.90
		}
	}

	return panel.PeakPowerKW * angleFactor * cloudFactor
}
