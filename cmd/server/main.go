/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Revenue Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment
  2. Configure structured logging and the metrics registry
  3. Initialize SQLite store and load the pricing table
  4. Choose the payment source (Stripe, or the demo processor)
  5. Wire assembler, handler, router and backfill scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port               HTTP server port (default: 8080)
  -db                 SQLite database path (default: revenue.db)
                      Use ":memory:" for in-memory database
  -pricing            Pricing JSON file (default: built-in price table)
  -tz                 Admin report timezone (default: America/New_York)
  -max-pages          Page cap per processor listing (default: 500)
  -backfill-interval  Scheduled backfill interval, 0 disables (default: 1h)
  -log-level          debug, info, warn or error (default: info)

ENVIRONMENT:
  STRIPE_SECRET_KEY   Processor API key. When empty the server runs against
                      an in-memory demo processor and enables /api/scenarios.
  ADMIN_TOKEN         Admin capability. When empty every admin call is 403.
  CORS_ORIGINS        Comma-separated allowed origins.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the backfill scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Demo mode with an in-memory database
  ADMIN_TOKEN=dev ./server -db=":memory:"

  # Production
  STRIPE_SECRET_KEY=sk_live_... ADMIN_TOKEN=... ./server -pricing=./pricing.json

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/revenue-engine/api"
	"github.com/warp/revenue-engine/factory"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/payments"
	"github.com/warp/revenue-engine/revenue"
	"github.com/warp/revenue-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "revenue.db", "SQLite database path")
	pricingPath := flag.String("pricing", "", "Pricing JSON file (default: built-in price table)")
	tz := flag.String("tz", "America/New_York", "Admin report timezone")
	maxPages := flag.Int("max-pages", payments.DefaultMaxPages, "Page cap per processor listing")
	backfillInterval := flag.Duration("backfill-interval", time.Hour, "Scheduled backfill interval (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(logger, config{
		port:             *port,
		dbPath:           *dbPath,
		pricingPath:      *pricingPath,
		tz:               *tz,
		maxPages:         *maxPages,
		backfillInterval: *backfillInterval,
		stripeKey:        os.Getenv("STRIPE_SECRET_KEY"),
		adminToken:       os.Getenv("ADMIN_TOKEN"),
		origins:          splitOrigins(os.Getenv("CORS_ORIGINS")),
	}); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type config struct {
	port             int
	dbPath           string
	pricingPath      string
	tz               string
	maxPages         int
	backfillInterval time.Duration
	stripeKey        string
	adminToken       string
	origins          []string
}

func run(logger *slog.Logger, cfg config) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize store
	store, err := sqlite.New(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Pricing
	pricing := revenue.DefaultPricing()
	if cfg.pricingPath != "" {
		pricing, err = factory.NewPricingFactory().LoadFile(cfg.pricingPath)
		if err != nil {
			return err
		}
		logger.Info("pricing loaded", slog.String("path", cfg.pricingPath))
	}

	// Payment source
	var source payments.PageSource
	var demo *payments.MemorySource
	if cfg.stripeKey != "" {
		source = payments.NewStripeSource(cfg.stripeKey)
	} else {
		demo = payments.NewMemorySource()
		source = demo
		logger.Warn("STRIPE_SECRET_KEY not set, using the demo processor")
	}
	if cfg.adminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin routes will refuse every request")
	}

	fetcher := payments.NewFetcher(source,
		payments.WithMaxPages(cfg.maxPages),
		payments.WithFetchMetrics(payments.NewFetchMetrics(reg)),
		payments.WithFetchLogger(logger),
	)

	loc := generic.ResolveLocation(cfg.tz)
	assembler := revenue.NewAssembler(revenue.AssemblerConfig{
		Store:    store,
		Fetcher:  fetcher,
		Pricing:  pricing,
		Location: loc,
		Metrics:  revenue.NewMetrics(reg),
		Logger:   logger,
	})

	// Initialize handler
	handler := api.NewHandler(store, assembler, logger)
	handler.Demo = demo

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AdminToken:     cfg.adminToken,
		AllowedOrigins: cfg.origins,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// Backfill scheduler
	scheduler := api.NewBackfillScheduler(assembler.Reconciler(), loc, logger)
	scheduler.Enabled = cfg.backfillInterval > 0
	if scheduler.Enabled {
		scheduler.CheckInterval = cfg.backfillInterval
	}
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.Int("port", cfg.port),
			slog.String("timezone", loc.String()),
			slog.Bool("demo", demo != nil),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
