package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-tracker/config"
	"listing-tracker/ingest"
	"listing-tracker/services"
	"listing-tracker/storage"
	"listing-tracker/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Listing Reconciliation Engine starting ===")
	logger.Info("Config — concurrency: %d | rate: %dms | retries: %d",
		cfg.MaxConcurrency, cfg.RateLimitMs, cfg.MaxRetries)

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	exporter, err := storage.NewCSVExporter(cfg.ExportDir)
	if err != nil {
		logger.Error("Failed to create CSV exporter: %v", err)
		os.Exit(1)
	}

	reconciler := services.NewReconciler(store, logger)
	insights := services.NewInsightService(store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AMQPURL != "" {
		runConsumer(ctx, cfg, store, reconciler, insights, exporter, logger)
		return
	}

	replaySessions(ctx, cfg, store, reconciler, logger)
	printReports(ctx, store, insights, exporter, logger)

	fmt.Printf("  Done. Reports above | CSV artifacts → %s\n\n", cfg.ExportDir)
}

// runConsumer blocks on the AMQP observation queue until interrupted.
func runConsumer(ctx context.Context, cfg *config.Config, store storage.ListingStore,
	reconciler *services.Reconciler, insights *services.InsightService,
	exporter *storage.CSVExporter, logger *utils.Logger) {

	retry := &utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   time.Second,
		Logger:      logger,
	}
	consumer := ingest.NewConsumer(cfg.AMQPURL, cfg.ObservationQueue,
		reconciler, store, insights, exporter, logger, retry)

	logger.Info("Consuming observations from %s (queue %q)", cfg.AMQPURL, cfg.ObservationQueue)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Consumer stopped")
}

// replaySessions processes crawler session dumps from the session
// directory. Sessions are grouped by seller: distinct sellers run in
// parallel, passes for the same seller stay in file order.
func replaySessions(ctx context.Context, cfg *config.Config, store storage.ListingStore,
	reconciler *services.Reconciler, logger *utils.Logger) {

	files, err := ingest.LoadSessionDir(cfg.SessionDir, logger)
	if err != nil {
		logger.Error("Failed to load session dumps: %v", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		logger.Warn("No session dumps found in %s — nothing to reconcile", cfg.SessionDir)
		return
	}
	logger.Info("Replaying %d session dump(s) from %s", len(files), cfg.SessionDir)

	bySeller := make(map[string][]*ingest.SessionFile)
	for _, sf := range files {
		bySeller[sf.SellerID] = append(bySeller[sf.SellerID], sf)
	}

	pool := utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs)
	for sellerID, sessions := range bySeller {
		sellerID, sessions := sellerID, sessions
		pool.Submit(func() {
			for _, sf := range sessions {
				summary, err := ingest.Replay(ctx, reconciler, sf)
				if err != nil {
					logger.Error("Session for %s failed: %v — partial sync kept", sellerID, err)
					return
				}
				logger.Info("Session for %s: %d observed, %d inserted, %d updated, %d skipped, %d ended",
					sellerID, summary.Observed, summary.Inserted, summary.Updated,
					summary.Skipped, summary.Ended)
			}
		})
	}
	pool.Wait()
}

// printReports renders the per-seller KPI reports and writes the CSV
// artifacts, then the global dump.
func printReports(ctx context.Context, store storage.ListingStore,
	insights *services.InsightService, exporter *storage.CSVExporter, logger *utils.Logger) {

	sellers, err := store.Sellers(ctx)
	if err != nil {
		logger.Error("Failed to fetch sellers: %v", err)
		return
	}

	for _, seller := range sellers {
		report, err := insights.Report(ctx, seller)
		if err != nil {
			logger.Error("Report for %s failed: %v", seller.SellerID, err)
			continue
		}
		insights.Print(report)

		listings, err := store.ListingsBySeller(ctx, seller.SellerID)
		if err != nil {
			logger.Error("Listings for %s failed: %v", seller.SellerID, err)
			continue
		}
		path, err := exporter.ExportSeller(seller.SellerID, listings)
		if err != nil {
			logger.Error("Export for %s failed: %v", seller.SellerID, err)
			continue
		}
		logger.Info("Export written: %s", path)
	}

	all, err := store.AllListings(ctx)
	if err != nil {
		logger.Error("Global export failed: %v", err)
		return
	}
	path, err := exporter.ExportAll(all)
	if err != nil {
		logger.Error("Global export failed: %v", err)
		return
	}
	logger.Info("Global export written: %s", path)
}
