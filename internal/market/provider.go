package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

// Provider fetches quotes and OHLCV history from the Yahoo chart API and
// keeps an in-memory cache so repeated dashboard renders do not hammer the
// upstream. Quote gaps are tolerated: callers get whatever the cache holds
// and apply their own fallback rules.
type Provider struct {
	httpClient *http.Client
	baseURL    string

	mu       sync.RWMutex
	quotes   map[string]cachedQuote
	history  map[string]cachedHistory
	quoteTTL time.Duration
	histTTL  time.Duration
}

type cachedQuote struct {
	quote     models.Quote
	fetchedAt time.Time
}

type cachedHistory struct {
	bars      []models.PriceBar
	fetchedAt time.Time
}

type Option func(*Provider)

// WithBaseURL overrides the upstream endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithQuoteTTL overrides how long a cached quote stays fresh.
func WithQuoteTTL(d time.Duration) Option {
	return func(p *Provider) { p.quoteTTL = d }
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://query2.finance.yahoo.com",
		quotes:     make(map[string]cachedQuote),
		history:    make(map[string]cachedHistory),
		quoteTTL:   time.Minute,
		histTTL:    15 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// chartPayload mirrors the slice of the Yahoo chart response we consume.
type chartPayload struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
				RegularMarketVolume int64  `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Provider) fetchChart(ctx context.Context, symbol, rng, interval string) (*chartPayload, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(interval), url.QueryEscape(rng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create chart request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chart for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart status %d for %s", resp.StatusCode, symbol)
	}

	var payload chartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode chart for %s: %w", symbol, err)
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s", symbol, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty chart result for %s", symbol)
	}
	return &payload, nil
}

// GetQuote returns the current quote for a ticker, serving from cache while
// fresh.
func (p *Provider) GetQuote(ctx context.Context, ticker string) (models.Quote, error) {
	ticker = normalize(ticker)

	p.mu.RLock()
	cached, ok := p.quotes[ticker]
	p.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < p.quoteTTL {
		return cached.quote, nil
	}

	payload, err := p.fetchChart(ctx, ticker, "1d", "1d")
	if err != nil {
		return models.Quote{}, err
	}

	meta := payload.Chart.Result[0].Meta
	previousClose := meta.ChartPreviousClose
	if meta.PreviousClose > 0 {
		previousClose = meta.PreviousClose
	}
	quote := models.Quote{
		Ticker:        ticker,
		Price:         meta.RegularMarketPrice,
		PreviousClose: previousClose,
		Volume:        meta.RegularMarketVolume,
		Timestamp:     time.Now().UTC(),
	}
	if previousClose > 0 {
		quote.Change = quote.Price - previousClose
		quote.ChangePercent = quote.Change / previousClose * 100
	}

	p.mu.Lock()
	p.quotes[ticker] = cachedQuote{quote: quote, fetchedAt: time.Now()}
	p.mu.Unlock()

	return quote, nil
}

// Refresh fetches quotes for all tickers, keeping whatever already sits in
// the cache for symbols the upstream fails on. It only reports an error when
// every single fetch failed.
func (p *Provider) Refresh(ctx context.Context, tickers []string) error {
	seen := make(map[string]bool, len(tickers))
	var lastErr error
	failures := 0
	attempts := 0

	for _, t := range tickers {
		ticker := normalize(t)
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		attempts++
		if _, err := p.GetQuote(ctx, ticker); err != nil {
			failures++
			lastErr = err
		}
	}

	if attempts > 0 && failures == attempts {
		return fmt.Errorf("refresh quotes: %w", lastErr)
	}
	return nil
}

// Snapshot returns a copy of all cached quotes keyed by ticker, the
// valuator's quote map.
func (p *Provider) Snapshot() map[string]models.Quote {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.Quote, len(p.quotes))
	for k, v := range p.quotes {
		out[k] = v.quote
	}
	return out
}

// History returns OHLCV bars for a ticker over the requested range and
// interval, e.g. ("AAPL", "1y", "1d"). Bars with no traded close (halts,
// partial sessions) are dropped so downstream series stay gap-free.
func (p *Provider) History(ctx context.Context, ticker, rng, interval string) ([]models.PriceBar, error) {
	ticker = normalize(ticker)
	cacheKey := ticker + "/" + rng + "/" + interval

	p.mu.RLock()
	cached, ok := p.history[cacheKey]
	p.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < p.histTTL {
		return cached.bars, nil
	}

	payload, err := p.fetchChart(ctx, ticker, rng, interval)
	if err != nil {
		return nil, err
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote series for %s", ticker)
	}
	series := result.Indicators.Quote[0]

	bars := make([]models.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(series.Close) || series.Close[i] == nil {
			continue
		}
		bar := models.PriceBar{
			Time:  time.Unix(ts, 0).UTC(),
			Close: *series.Close[i],
		}
		if i < len(series.Open) && series.Open[i] != nil {
			bar.Open = *series.Open[i]
		}
		if i < len(series.High) && series.High[i] != nil {
			bar.High = *series.High[i]
		}
		if i < len(series.Low) && series.Low[i] != nil {
			bar.Low = *series.Low[i]
		}
		if i < len(series.Volume) && series.Volume[i] != nil {
			bar.Volume = *series.Volume[i]
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no usable bars for %s", ticker)
	}

	p.mu.Lock()
	p.history[cacheKey] = cachedHistory{bars: bars, fetchedAt: time.Now()}
	p.mu.Unlock()

	return bars, nil
}

// ClearCache drops cached quotes and history, for one ticker or all.
func (p *Provider) ClearCache(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ticker == "" {
		p.quotes = make(map[string]cachedQuote)
		p.history = make(map[string]cachedHistory)
		return
	}

	ticker = normalize(ticker)
	delete(p.quotes, ticker)
	for key := range p.history {
		if strings.HasPrefix(key, ticker+"/") {
			delete(p.history, key)
		}
	}
}

func normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
