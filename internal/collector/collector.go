// Package collector periodically samples quotes for every held ticker into
// the price_history table, so the app keeps a local record even when the
// upstream provider is down later.
package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/store"
)

// QuoteSource is the slice of the market provider the collector needs.
type QuoteSource interface {
	GetQuote(ctx context.Context, ticker string) (models.Quote, error)
}

// Stats describes the collector's recent activity.
type Stats struct {
	Runs        int        `json:"runs"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastSymbols int        `json:"lastSymbols"`
	LastErrors  int        `json:"lastErrors"`
}

type Collector struct {
	cron   *cron.Cron
	store  store.Store
	quotes QuoteSource

	mu    sync.Mutex
	stats Stats
}

func New(st store.Store, quotes QuoteSource) *Collector {
	return &Collector{
		cron:   cron.New(),
		store:  st,
		quotes: quotes,
	}
}

// Start registers the collection job under the given cron spec and starts
// the scheduler.
func (c *Collector) Start(spec string) error {
	_, err := c.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.Collect(ctx); err != nil {
			log.Printf("scheduled price collection failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register collector job: %w", err)
	}
	c.cron.Start()
	log.Printf("price collector started (cron %q)", spec)
	return nil
}

// Stop stops the scheduler. Already-running collections finish on their own.
func (c *Collector) Stop() {
	c.cron.Stop()
	log.Println("price collector stopped")
}

// Collect samples a quote for every held ticker and records it. Individual
// provider failures are counted but do not abort the run.
func (c *Collector) Collect(ctx context.Context) error {
	holdings, err := c.store.ListHoldings(ctx)
	if err != nil {
		return fmt.Errorf("list holdings for collection: %w", err)
	}

	var errCount int
	for _, h := range holdings {
		quote, err := c.quotes.GetQuote(ctx, h.Ticker)
		if err != nil {
			log.Printf("collect quote %s: %v", h.Ticker, err)
			errCount++
			continue
		}
		if err := c.store.RecordPrice(ctx, models.PricePoint{
			Ticker:        quote.Ticker,
			Price:         quote.Price,
			PreviousClose: quote.PreviousClose,
			Volume:        quote.Volume,
			CollectedAt:   time.Now().UTC(),
		}); err != nil {
			log.Printf("record price %s: %v", h.Ticker, err)
			errCount++
		}
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.stats.Runs++
	c.stats.LastRun = &now
	c.stats.LastSymbols = len(holdings)
	c.stats.LastErrors = errCount
	c.mu.Unlock()

	return nil
}

// Stats returns a copy of the collector's counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
