// Package entsoe fetches day-ahead electricity prices from the ENTSO-E
// Transparency Platform's XML publication market document API, adapted
// from the corpus's entsoe client: same HTTP request shape and the same
// ISO-8601-resolution Period/Point decoding, trimmed to the handful of
// resolutions (PT15M, PT30M, PT60M) the transparency platform actually
// publishes and rewired to produce domain.PricePoint rather than the
// teacher's miner-specific PricePoint/PublicationMarketDocument shape.
package entsoe

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/homeems/core/domain"
)

// Client downloads and decodes A44 day-ahead price documents for a single
// bidding zone (area EIC code).
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string

	SecurityToken string
	AreaEIC       string

	// ImportSurchargeSEKPerKWh and ExportDeductionSEKPerKWh mirror the
	// teacher's ImportPriceOperatorFee/ExportPriceOperatorFee adjustments
	// applied on top of the raw day-ahead clearing price.
	ImportSurchargeSEKPerKWh float64
	ExportDeductionSEKPerKWh float64
}

// NewClient builds a Client against the production transparency endpoint.
func NewClient(securityToken, areaEIC string) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       "https://web-api.tp.entsoe.eu/api",
		userAgent:     "homeems-entsoe-client/1.0",
		SecurityToken: securityToken,
		AreaEIC:       areaEIC,
	}
}

// SetBaseURL overrides the endpoint, used by tests against an httptest
// server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// FetchPrices implements forecast.PriceSource: a day-ahead document for
// [today 00:00, tomorrow 00:00) in UTC, converted from EUR/MWh to SEK/kWh
// is out of scope here (the teacher leaves currency conversion to config
// too) — callers compose a currency-conversion decorator if they need one.
func (c *Client) FetchPrices(ctx context.Context, now time.Time) ([]domain.PricePoint, error) {
	start := now.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	doc, err := c.download(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("entsoe: fetch prices: %w", err)
	}

	points := doc.pricePoints(c.ImportSurchargeSEKPerKWh, c.ExportDeductionSEKPerKWh)
	if len(points) == 0 {
		return nil, fmt.Errorf("entsoe: document contained no usable points")
	}
	return points, nil
}

func (c *Client) download(ctx context.Context, start, end time.Time) (*document, error) {
	url := fmt.Sprintf("%s?securityToken=%s&documentType=A44&in_Domain=%s&out_Domain=%s&periodStart=%s&periodEnd=%s",
		c.baseURL, c.SecurityToken, c.AreaEIC, c.AreaEIC, ucString(start), ucString(end))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	return decode(resp.Body)
}

func ucString(t time.Time) string { return t.UTC().Format("200601021504") }

// --- XML wire shapes, trimmed to what pricePoints needs. ---

type document struct {
	XMLName  xml.Name   `xml:"Publication_MarketDocument"`
	Series   []series   `xml:"TimeSeries"`
}

type series struct {
	Period period `xml:"Period"`
}

type period struct {
	Start      time.Time
	Resolution time.Duration
	Points     []point
}

type point struct {
	Position int
	Price    float64
}

type rawPeriod struct {
	TimeInterval struct {
		Start string `xml:"start"`
	} `xml:"timeInterval"`
	Resolution string `xml:"resolution"`
	Points     []struct {
		Position   int     `xml:"position"`
		PriceAmount float64 `xml:"price.amount"`
	} `xml:"Point"`
}

func (p *period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw rawPeriod
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	ts, err := time.Parse("2006-01-02T15:04Z", raw.TimeInterval.Start)
	if err != nil {
		return fmt.Errorf("period start %q: %w", raw.TimeInterval.Start, err)
	}
	res, err := parseResolution(raw.Resolution)
	if err != nil {
		return err
	}
	p.Start = ts
	p.Resolution = res
	p.Points = make([]point, len(raw.Points))
	for i, rp := range raw.Points {
		p.Points[i] = point{Position: rp.Position, Price: rp.PriceAmount}
	}
	return nil
}

// parseResolution handles the three ISO-8601 durations the transparency
// platform emits for day-ahead prices; anything else is rejected rather
// than silently mis-binned, per the corpus's own parseISO8601Duration
// preferring an explicit error to a guess.
func parseResolution(s string) (time.Duration, error) {
	switch s {
	case "PT15M":
		return 15 * time.Minute, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT60M":
		return time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
}

func decode(r io.Reader) (*document, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode XML: %w", err)
	}
	return &doc, nil
}

// pricePoints flattens every TimeSeries' Period/Point pairs into
// chronologically sorted, half-open domain.PricePoint intervals, applying
// the EUR/MWh-to-configured-unit surcharge/deduction the same way the
// teacher's getPriceForecast adds ImportPriceOperatorFee/DeliveryFee and
// subtracts ExportPriceOperatorFee. The transparency platform omits a
// <Point> whenever its price repeats the previous position's, so gaps
// between explicit positions are forward-filled rather than left missing,
// keeping the output contiguous for domain.Forecast24h.Validate.
func (doc *document) pricePoints(importSurcharge, exportDeduction float64) []domain.PricePoint {
	var out []domain.PricePoint
	for _, ts := range doc.Series {
		p := ts.Period
		if len(p.Points) == 0 {
			continue
		}
		byPosition := make(map[int]float64, len(p.Points))
		maxPosition := 0
		for _, pt := range p.Points {
			byPosition[pt.Position] = pt.Price
			if pt.Position > maxPosition {
				maxPosition = pt.Position
			}
		}
		price := p.Points[0].Price
		for pos := 1; pos <= maxPosition; pos++ {
			if explicit, ok := byPosition[pos]; ok {
				price = explicit
			}
			offset := time.Duration(pos-1) * p.Resolution
			pStart := p.Start.Add(offset)
			pEnd := pStart.Add(p.Resolution)
			exportPrice := price - exportDeduction
			out = append(out, domain.PricePoint{
				Start: pStart, End: pEnd,
				ImportPrice: price + importSurcharge,
				ExportPrice: &exportPrice,
			})
		}
	}
	sortPricePoints(out)
	return out
}

func sortPricePoints(pts []domain.PricePoint) {
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && pts[j].Start.Before(pts[j-1].Start); j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}
}
