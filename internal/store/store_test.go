package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/db"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

func setupStore(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	sqlDB, err := db.Open(dbFile)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return NewSQLiteStore(sqlDB), sqlDB
}

func TestHoldingCRUD(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	created, err := s.CreateHolding(ctx, models.Holding{
		Ticker:   "aapl",
		Quantity: 2,
		AvgCost:  150,
		Sector:   "Tech",
	})
	if err != nil {
		t.Fatalf("create holding: %v", err)
	}
	if created.ID == 0 || created.Ticker != "AAPL" || created.Sector != "Tech" {
		t.Fatalf("unexpected created holding: %+v", created)
	}

	holdings, err := s.ListHoldings(ctx)
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}

	target := 200.0
	notes := "long-term"
	updated, err := s.UpdateHolding(ctx, "AAPL", HoldingUpdate{TargetPrice: &target, Notes: &notes})
	if err != nil {
		t.Fatalf("update holding: %v", err)
	}
	if updated.TargetPrice == nil || *updated.TargetPrice != 200 || updated.Notes != "long-term" {
		t.Fatalf("unexpected updated holding: %+v", updated)
	}

	if _, err := s.UpdateHolding(ctx, "MSFT", HoldingUpdate{Notes: &notes}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows updating missing holding, got %v", err)
	}

	if err := s.DeleteHolding(ctx, "AAPL"); err != nil {
		t.Fatalf("delete holding: %v", err)
	}
	if err := s.DeleteHolding(ctx, "AAPL"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected error deleting same holding twice, got %v", err)
	}
}

func TestApplyBuyMergesWeightedAverageCost(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionBuy, Ticker: "nvda", Quantity: 10, Price: 100, Date: date,
	}); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionBuy, Ticker: "NVDA", Quantity: 10, Price: 200, Date: date.AddDate(0, 0, 1),
	}); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	h, err := s.GetHolding(ctx, "NVDA")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Quantity != 20 || math.Abs(h.AvgCost-150) > 1e-9 {
		t.Fatalf("expected 20 shares at avg 150, got %+v", h)
	}
}

func TestApplySellRejectsOversell(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionBuy, Ticker: "TSLA", Quantity: 5, Price: 200, Date: date,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionSell, Ticker: "TSLA", Quantity: 8, Price: 210, Date: date,
	}); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	if _, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionSell, Ticker: "TSLA", Quantity: 3, Price: 210, Date: date,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	h, err := s.GetHolding(ctx, "TSLA")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Quantity != 2 || h.AvgCost != 200 {
		t.Fatalf("expected 2 shares at avg 200 after sell, got %+v", h)
	}
}

func TestReverseTransaction(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	buy, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionBuy, Ticker: "AMD", Quantity: 6, Price: 100, Date: date,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell, err := s.ApplyTransaction(ctx, models.Transaction{
		Type: models.TransactionSell, Ticker: "AMD", Quantity: 2, Price: 120, Date: date.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if err := s.ReverseTransaction(ctx, sell.ID); err != nil {
		t.Fatalf("reverse sell: %v", err)
	}
	h, err := s.GetHolding(ctx, "AMD")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Quantity != 6 {
		t.Fatalf("expected shares restored to 6, got %v", h.Quantity)
	}

	if err := s.ReverseTransaction(ctx, buy.ID); err != nil {
		t.Fatalf("reverse buy: %v", err)
	}
	h, err = s.GetHolding(ctx, "AMD")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Quantity != 0 {
		t.Fatalf("expected shares back to 0, got %v", h.Quantity)
	}

	if err := s.ReverseTransaction(ctx, 9999); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for unknown transaction, got %v", err)
	}

	transactions, err := s.ListTransactions(ctx, TransactionFilter{Ticker: "AMD"})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(transactions) != 0 {
		t.Fatalf("expected no transactions left, got %d", len(transactions))
	}
}

func TestListTransactionsFilters(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		typ    models.TransactionType
		ticker string
	}{
		{models.TransactionBuy, "AAPL"},
		{models.TransactionBuy, "MSFT"},
		{models.TransactionSell, "AAPL"},
	} {
		tx := models.Transaction{Type: tc.typ, Ticker: tc.ticker, Quantity: 10, Price: 100, Date: date.AddDate(0, 0, i)}
		if tc.typ == models.TransactionSell {
			tx.Quantity = 1
		}
		if _, err := s.ApplyTransaction(ctx, tx); err != nil {
			t.Fatalf("apply %s %s: %v", tc.typ, tc.ticker, err)
		}
	}

	byTicker, err := s.ListTransactions(ctx, TransactionFilter{Ticker: "aapl"})
	if err != nil {
		t.Fatalf("list by ticker: %v", err)
	}
	if len(byTicker) != 2 {
		t.Fatalf("expected 2 AAPL transactions, got %d", len(byTicker))
	}
	// Newest first.
	if byTicker[0].Type != models.TransactionSell {
		t.Fatalf("expected newest transaction first, got %+v", byTicker[0])
	}

	sells, err := s.ListTransactions(ctx, TransactionFilter{Type: models.TransactionSell})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(sells) != 1 || sells[0].Ticker != "AAPL" {
		t.Fatalf("unexpected sells: %+v", sells)
	}
}

func TestPriceHistoryRoundTrip(t *testing.T) {
	s, sqlDB := setupStore(t)
	defer sqlDB.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := s.RecordPrice(ctx, models.PricePoint{
			Ticker:        "AAPL",
			Price:         100 + float64(i),
			PreviousClose: 99 + float64(i),
			CollectedAt:   now.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("record price: %v", err)
		}
	}
	if err := s.RecordPrice(ctx, models.PricePoint{
		Ticker:      "AAPL",
		Price:       50,
		CollectedAt: now.AddDate(0, 0, -60),
	}); err != nil {
		t.Fatalf("record old price: %v", err)
	}

	points, err := s.PriceHistory(ctx, "aapl", 30)
	if err != nil {
		t.Fatalf("price history: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 recent points, got %d", len(points))
	}
	if points[0].Price != 100 || points[2].Price != 102 {
		t.Fatalf("expected ascending collection order, got %+v", points)
	}
}
