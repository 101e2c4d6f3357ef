package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/api"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/collector"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/config"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/db"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/market"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/realtime"
	"github.com/moonkaicuzui/stock-portfolio-genius/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create data directory: %v", err)
		}
	}

	sqlDB, err := db.Open(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer sqlDB.Close()

	st := store.NewSQLiteStore(sqlDB)
	provider := market.NewProvider(market.WithQuoteTTL(cfg.QuoteTTL()))
	hub := realtime.NewHub()

	priceCollector := collector.New(st, provider)
	if cfg.Collector.Enabled {
		if err := priceCollector.Start(cfg.Collector.Cron); err != nil {
			log.Fatalf("start collector: %v", err)
		}
		defer priceCollector.Stop()
	}

	apiServer := api.NewServer(st, provider, priceCollector, hub)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go apiServer.StartPolling(ctx, cfg.PollInterval())

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("portfolio backend listening on %s", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}
