// Package portfolio turns holdings and quotes into the figures the dashboard
// shows: per-holding valuation, portfolio aggregates, and sector allocation.
// Valuation is a pure function of its inputs and is recomputed on demand;
// nothing here is persisted.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

// ErrInvalidHolding marks a holding whose quantity or cost basis is not
// positive. That is a data-integrity violation from the storage layer, so the
// valuator rejects it instead of folding garbage into every aggregate.
var ErrInvalidHolding = errors.New("portfolio: holding quantity and avg cost must be positive")

// SectorUnclassified is the bucket for holdings without a sector label.
const SectorUnclassified = "Unclassified"

// EnrichedHolding is a holding combined with its quote-derived valuation.
type EnrichedHolding struct {
	models.Holding
	CurrentPrice  float64 `json:"currentPrice"`
	PreviousClose float64 `json:"previousClose"`
	MarketValue   float64 `json:"marketValue"`
	CostBasis     float64 `json:"costBasis"`
	Gain          float64 `json:"gain"`
	GainPercent   float64 `json:"gainPercent"`
	DayChange     float64 `json:"dayChange"`
	QuoteMissing  bool    `json:"quoteMissing,omitempty"`
}

// SectorAllocation is one slice of the allocation breakdown.
type SectorAllocation struct {
	Sector  string  `json:"sector"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// Summary is the portfolio view built from holdings plus quotes.
type Summary struct {
	TotalValue       float64            `json:"totalValue"`
	TotalCost        float64            `json:"totalCost"`
	TotalGain        float64            `json:"totalGain"`
	TotalGainPercent float64            `json:"totalGainPercent"`
	DayChange        float64            `json:"dayChange"`
	DayChangePercent float64            `json:"dayChangePercent"`
	Holdings         []EnrichedHolding  `json:"holdings"`
	SectorAllocation []SectorAllocation `json:"sectorAllocation"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Enrich values a single holding against its quote. A nil quote (provider
// gap) values the position flat: current price falls back to avg cost and the
// day change to zero. A quote with a non-positive price or previous close is
// treated field-by-field the same way.
func Enrich(h models.Holding, q *models.Quote) (EnrichedHolding, error) {
	if h.Quantity <= 0 || h.AvgCost <= 0 {
		return EnrichedHolding{}, fmt.Errorf("%w: %s", ErrInvalidHolding, h.Ticker)
	}

	currentPrice := h.AvgCost
	if q != nil && q.Price > 0 {
		currentPrice = q.Price
	}
	previousClose := currentPrice
	if q != nil && q.PreviousClose > 0 {
		previousClose = q.PreviousClose
	}

	marketValue := currentPrice * h.Quantity
	costBasis := h.AvgCost * h.Quantity
	gain := marketValue - costBasis
	gainPercent := 0.0
	if costBasis > 0 {
		gainPercent = gain / costBasis * 100
	}

	return EnrichedHolding{
		Holding:       h,
		CurrentPrice:  currentPrice,
		PreviousClose: previousClose,
		MarketValue:   marketValue,
		CostBasis:     costBasis,
		Gain:          gain,
		GainPercent:   gainPercent,
		DayChange:     (currentPrice - previousClose) * h.Quantity,
		QuoteMissing:  q == nil,
	}, nil
}

// Valuate enriches every holding and aggregates the portfolio totals. Quotes
// are looked up by ticker; a missing entry triggers the flat-valuation
// fallback rather than an error.
func Valuate(holdings []models.Holding, quotes map[string]models.Quote) (Summary, error) {
	out := Summary{
		Holdings:  make([]EnrichedHolding, 0, len(holdings)),
		UpdatedAt: time.Now().UTC(),
	}

	for _, h := range holdings {
		var q *models.Quote
		if quote, ok := quotes[h.Ticker]; ok {
			q = &quote
		}
		enriched, err := Enrich(h, q)
		if err != nil {
			return Summary{}, err
		}
		out.Holdings = append(out.Holdings, enriched)
		out.TotalValue += enriched.MarketValue
		out.TotalCost += enriched.CostBasis
		out.DayChange += enriched.DayChange
	}

	out.TotalGain = out.TotalValue - out.TotalCost
	if out.TotalCost > 0 {
		out.TotalGainPercent = out.TotalGain / out.TotalCost * 100
	}
	// Day-change percent is relative to the portfolio value before today's
	// move, reconstructed as totalValue - dayChange.
	if prev := out.TotalValue - out.DayChange; prev != 0 {
		out.DayChangePercent = out.DayChange / prev * 100
	}

	out.SectorAllocation = allocateSectors(out.Holdings, out.TotalValue)
	return out, nil
}

func allocateSectors(holdings []EnrichedHolding, totalValue float64) []SectorAllocation {
	buckets := make(map[string]*SectorAllocation)
	order := make([]string, 0)

	for _, h := range holdings {
		sector := h.Sector
		if sector == "" {
			sector = SectorUnclassified
		}
		bucket, ok := buckets[sector]
		if !ok {
			bucket = &SectorAllocation{Sector: sector}
			buckets[sector] = bucket
			order = append(order, sector)
		}
		bucket.Value += h.MarketValue
	}

	out := make([]SectorAllocation, 0, len(order))
	for _, sector := range order {
		bucket := buckets[sector]
		if totalValue > 0 {
			bucket.Percent = bucket.Value / totalValue * 100
		}
		out = append(out, *bucket)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}
