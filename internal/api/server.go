package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/collector"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/indicator"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/portfolio"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/realtime"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/store"
)

// MarketData is the provider surface the server depends on.
type MarketData interface {
	Refresh(ctx context.Context, tickers []string) error
	GetQuote(ctx context.Context, ticker string) (models.Quote, error)
	Snapshot() map[string]models.Quote
	History(ctx context.Context, ticker, rng, interval string) ([]models.PriceBar, error)
}

// PriceCollector exposes the background collector to its status endpoints.
type PriceCollector interface {
	Collect(ctx context.Context) error
	Stats() collector.Stats
}

type Server struct {
	store     store.Store
	market    MarketData
	collector PriceCollector
	hub       *realtime.Hub
	router    *mux.Router
	handler   http.Handler
	upgrader  websocket.Upgrader
	validate  *validator.Validate
}

var validRanges = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

var validIntervals = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true, "1h": true,
	"1d": true, "5d": true, "1wk": true, "1mo": true,
}

func NewServer(s store.Store, m MarketData, c PriceCollector, hub *realtime.Hub) *Server {
	server := &Server{
		store:     s,
		market:    m,
		collector: c,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate: validator.New(),
	}

	r := mux.NewRouter()

	r.HandleFunc("/api/health", server.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/portfolio/holdings", server.handleListHoldings).Methods(http.MethodGet)
	r.HandleFunc("/api/portfolio/holdings", server.handleCreateHolding).Methods(http.MethodPost)
	r.HandleFunc("/api/portfolio/holdings/{ticker}", server.handleGetHolding).Methods(http.MethodGet)
	r.HandleFunc("/api/portfolio/holdings/{ticker}", server.handleUpdateHolding).Methods(http.MethodPut)
	r.HandleFunc("/api/portfolio/holdings/{ticker}", server.handleDeleteHolding).Methods(http.MethodDelete)

	r.HandleFunc("/api/portfolio/transactions", server.handleListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/portfolio/transactions", server.handleCreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/portfolio/transactions/{id}", server.handleDeleteTransaction).Methods(http.MethodDelete)

	r.HandleFunc("/api/portfolio/summary", server.handlePortfolioSummary).Methods(http.MethodGet)

	r.HandleFunc("/api/stocks/batch/quotes", server.handleBatchQuotes).Methods(http.MethodGet)
	r.HandleFunc("/api/stocks/{symbol}/quote", server.handleQuote).Methods(http.MethodGet)
	r.HandleFunc("/api/stocks/{symbol}/history", server.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/stocks/{symbol}/indicators", server.handleIndicators).Methods(http.MethodGet)

	r.HandleFunc("/api/collector/status", server.handleCollectorStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/collector/collect", server.handleCollectorTrigger).Methods(http.MethodPost)
	r.HandleFunc("/api/collector/history/{symbol}", server.handleCollectorHistory).Methods(http.MethodGet)

	r.HandleFunc("/ws", server.handleWebSocket).Methods(http.MethodGet)

	// Serve the SPA build (catch-all, must be last)
	spa := spaHandler{staticPath: "web/dist", indexPath: "index.html"}
	r.PathPrefix("/").Handler(spa)

	server.router = r
	server.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
	return server
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.staticPath, r.URL.Path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// StartPolling refreshes quotes and pushes a fresh summary to websocket
// clients on a fixed interval until ctx is cancelled.
func (s *Server) StartPolling(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = s.RefreshAndBroadcast(context.Background())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshAndBroadcast(context.Background()); err != nil {
				log.Printf("polling refresh failed: %v", err)
			}
		}
	}
}

func (s *Server) RefreshAndBroadcast(ctx context.Context) error {
	summary, err := s.BuildSummary(ctx, true)
	if err != nil {
		return err
	}
	s.hub.BroadcastJSON(summary)
	return nil
}

// BuildSummary values the portfolio against the latest quotes. With refresh
// set, quotes are re-fetched first; a provider failure downgrades to the
// cached quotes rather than failing the summary.
func (s *Server) BuildSummary(ctx context.Context, refresh bool) (portfolio.Summary, error) {
	holdings, err := s.store.ListHoldings(ctx)
	if err != nil {
		return portfolio.Summary{}, err
	}

	if refresh && len(holdings) > 0 {
		tickers := make([]string, 0, len(holdings))
		for _, h := range holdings {
			tickers = append(tickers, h.Ticker)
		}
		if err := s.market.Refresh(ctx, tickers); err != nil {
			log.Printf("quote refresh degraded, valuing from cache: %v", err)
		}
	}

	return portfolio.Valuate(holdings, s.market.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"wsClients": s.hub.ClientCount(),
	})
}

// ============ Holdings ============

type holdingCreateRequest struct {
	Ticker      string   `json:"ticker" validate:"required,min=1,max=10"`
	Quantity    float64  `json:"quantity" validate:"required,gt=0"`
	AvgCost     float64  `json:"avgCost" validate:"required,gt=0"`
	Sector      string   `json:"sector" validate:"omitempty,max=64"`
	TargetPrice *float64 `json:"targetPrice" validate:"omitempty,gt=0"`
	StopLoss    *float64 `json:"stopLoss" validate:"omitempty,gt=0"`
	Notes       string   `json:"notes"`
}

func (s *Server) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.store.ListHoldings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) handleCreateHolding(w http.ResponseWriter, r *http.Request) {
	var req holdingCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.store.CreateHolding(r.Context(), models.Holding{
		Ticker:      req.Ticker,
		Quantity:    req.Quantity,
		AvgCost:     req.AvgCost,
		Sector:      req.Sector,
		TargetPrice: req.TargetPrice,
		StopLoss:    req.StopLoss,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	_ = s.RefreshAndBroadcast(context.Background())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	holding, err := s.store.GetHolding(r.Context(), mux.Vars(r)["ticker"])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "holding not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

type holdingUpdateRequest struct {
	Sector      *string  `json:"sector" validate:"omitempty,max=64"`
	TargetPrice *float64 `json:"targetPrice" validate:"omitempty,gt=0"`
	StopLoss    *float64 `json:"stopLoss" validate:"omitempty,gt=0"`
	Notes       *string  `json:"notes"`
}

func (s *Server) handleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	var req holdingUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := s.store.UpdateHolding(r.Context(), mux.Vars(r)["ticker"], store.HoldingUpdate{
		Sector:      req.Sector,
		TargetPrice: req.TargetPrice,
		StopLoss:    req.StopLoss,
		Notes:       req.Notes,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "holding not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteHolding(r.Context(), mux.Vars(r)["ticker"])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "holding not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	_ = s.RefreshAndBroadcast(context.Background())
	w.WriteHeader(http.StatusNoContent)
}

// ============ Transactions ============

type transactionCreateRequest struct {
	Type     string  `json:"type" validate:"required,oneof=buy sell"`
	Ticker   string  `json:"ticker" validate:"required,min=1,max=10"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	Price    float64 `json:"price" validate:"required,gt=0"`
	Date     string  `json:"date" validate:"required,datetime=2006-01-02"`
	Fees     float64 `json:"fees" validate:"gte=0"`
	Notes    string  `json:"notes"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TransactionFilter{
		Ticker: q.Get("ticker"),
		Type:   models.TransactionType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	transactions, err := s.store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.store.ApplyTransaction(r.Context(), models.Transaction{
		Type:     models.TransactionType(req.Type),
		Ticker:   req.Ticker,
		Quantity: req.Quantity,
		Price:    req.Price,
		Fees:     req.Fees,
		Date:     date,
		Notes:    req.Notes,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientShares) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	_ = s.RefreshAndBroadcast(context.Background())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.ReverseTransaction(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	_ = s.RefreshAndBroadcast(context.Background())
	w.WriteHeader(http.StatusNoContent)
}

// ============ Portfolio summary ============

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.BuildSummary(r.Context(), true)
	if err != nil {
		if errors.Is(err, portfolio.ErrInvalidHolding) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ============ Market data ============

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.market.GetQuote(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleBatchQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	symbols := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no symbols provided"})
		return
	}
	if len(symbols) > 20 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "maximum 20 symbols allowed"})
		return
	}

	quotes := make(map[string]models.Quote)
	for _, sym := range symbols {
		quote, err := s.market.GetQuote(r.Context(), sym)
		if err != nil {
			log.Printf("batch quote %s: %v", sym, err)
			continue
		}
		quotes[sym] = quote
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(quotes),
		"quotes": quotes,
	})
}

func historyParams(r *http.Request) (rng, interval string, err error) {
	q := r.URL.Query()
	rng = q.Get("range")
	if rng == "" {
		rng = "1y"
	}
	interval = q.Get("interval")
	if interval == "" {
		interval = "1d"
	}
	if !validRanges[rng] {
		return "", "", errors.New("invalid range")
	}
	if !validIntervals[interval] {
		return "", "", errors.New("invalid interval")
	}
	return rng, interval, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	rng, interval, err := historyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bars, err := s.market.History(r.Context(), symbol, rng, interval)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"range":    rng,
		"interval": interval,
		"count":    len(bars),
		"data":     bars,
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	rng, interval, err := historyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name := r.URL.Query().Get("indicator")
	period := 0
	if v := r.URL.Query().Get("period"); v != "" {
		period, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("period must be an integer"))
			return
		}
	}

	bars, err := s.market.History(r.Context(), symbol, rng, interval)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := map[string]any{
		"symbol":    symbol,
		"range":     rng,
		"interval":  interval,
		"indicator": name,
	}

	switch name {
	case "sma":
		if period == 0 {
			period = indicator.DefaultSMAPeriod
		}
		points, err := indicator.SMA(bars, period)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp["period"] = period
		resp["points"] = points
	case "ema":
		if period == 0 {
			period = indicator.DefaultEMAPeriod
		}
		points, err := indicator.EMA(bars, period)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp["period"] = period
		resp["points"] = points
	case "rsi":
		if period == 0 {
			period = indicator.DefaultRSIPeriod
		}
		points, err := indicator.RSI(bars, period)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp["period"] = period
		resp["points"] = points
	case "bollinger":
		if period == 0 {
			period = indicator.DefaultBollingerPeriod
		}
		bands, err := indicator.BollingerBands(bars, period, indicator.DefaultBollingerMult)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp["period"] = period
		resp["bands"] = bands
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "indicator must be sma, ema, rsi or bollinger"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ============ Collector ============

func (s *Server) handleCollectorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Stats())
}

func (s *Server) handleCollectorTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.collector.Collect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "price collection triggered",
		"stats":   s.collector.Stats(),
	})
}

func (s *Server) handleCollectorHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			writeError(w, http.StatusBadRequest, errors.New("days must be between 1 and 365"))
			return
		}
		days = n
	}

	points, err := s.store.PriceHistory(r.Context(), symbol, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"days":   days,
		"count":  len(points),
		"data":   points,
	})
}

// ============ Websocket ============

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.AddClient(conn)

	if summary, err := s.BuildSummary(r.Context(), false); err == nil {
		_ = conn.WriteJSON(summary)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.RemoveClient(conn)
			return
		}
	}
}

// ============ Helpers ============

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
