package models

import "time"

// PriceBar is one OHLCV sampling interval for an instrument, as returned by
// the market-data provider. Bars arrive ordered by Time and are never mutated
// once produced.
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is the current market snapshot for one ticker. Providers may return
// partial data when degraded; consumers fall back per field rather than
// treating a gap as an error.
type Quote struct {
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previousClose"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Holding is a position in the portfolio. Ticker is unique, uppercase.
type Holding struct {
	ID          int64     `json:"id"`
	Ticker      string    `json:"ticker"`
	Quantity    float64   `json:"quantity"`
	AvgCost     float64   `json:"avgCost"`
	Sector      string    `json:"sector,omitempty"`
	TargetPrice *float64  `json:"targetPrice,omitempty"`
	StopLoss    *float64  `json:"stopLoss,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Transaction records a single buy or sell. Applying one updates the matching
// holding (weighted-average cost on buys, share count on sells).
type Transaction struct {
	ID          int64           `json:"id"`
	Type        TransactionType `json:"type"`
	Ticker      string          `json:"ticker"`
	Quantity    float64         `json:"quantity"`
	Price       float64         `json:"price"`
	TotalAmount float64         `json:"totalAmount"`
	Fees        float64         `json:"fees"`
	Date        time.Time       `json:"date"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PricePoint is one collected price observation, written by the background
// collector and served from the price_history table.
type PricePoint struct {
	ID            int64     `json:"id"`
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previousClose"`
	Volume        int64     `json:"volume"`
	CollectedAt   time.Time `json:"collectedAt"`
}
