package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"sensor_report_loader/config"
	"sensor_report_loader/logger"
	"sensor_report_loader/mailbox"
	"sensor_report_loader/metrics"
	"sensor_report_loader/report"
	"sensor_report_loader/scanner"
	"sensor_report_loader/server"

	"golang.org/x/sync/errgroup"
)

func newFetcher(ctx context.Context, cfg *config.Config) (*mailbox.Fetcher, error) {
	gm, err := mailbox.NewGmailFromFiles(ctx, cfg.Mail)
	if err != nil {
		return nil, err
	}
	return mailbox.NewFetcher(gm, cfg.Fetch, cfg.Staging.Dir), nil
}

func fetchCommand(ctx context.Context, cfg *config.Config) {
	logger.Println("Fetching report attachments...")

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		logger.Fatalf("Mail client setup failed: %v", err)
	}

	result, err := fetcher.Fetch(ctx)
	if err != nil {
		logger.Fatalf("Fetch failed: %v", err)
	}

	logger.LogResult("fetch", result.Failures == 0,
		formatCounts("messages", result.Messages, "saved", result.Attachments, "failures", result.Failures))
}

func ingestCommand(ctx context.Context, cfg *config.Config, dir string) {
	if dir == "" {
		dir = cfg.Staging.Dir
	}

	store := openStore(cfg)
	csvScanner := scanner.NewCSVScanner(store, loadRegistry(cfg), cfg.CSV)

	summary, err := csvScanner.ScanDirectory(ctx, dir)
	if err != nil {
		logger.Fatalf("Scan failed: %v", err)
	}

	logger.LogResult("ingest", summary.Outcomes[scanner.Rejected] == 0,
		formatCounts("files", summary.Files, "rows", summary.RowsInserted, "row failures", summary.RowFailures))
}

// runCommand fetches new attachments and ingests the staging directory. The
// ingestion still runs when fetching fails so already staged files load.
func runCommand(ctx context.Context, cfg *config.Config) {
	logger.LogDivider()
	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		logger.Errorf("Mail client setup failed, ingesting staged files only: %v\n", err)
	} else if _, err := fetcher.Fetch(ctx); err != nil {
		logger.Errorf("Fetch failed: %v\n", err)
	}

	if ctx.Err() != nil {
		return
	}

	logger.LogDivider()
	ingestCommand(ctx, cfg, cfg.Staging.Dir)
}

func queryCommand(ctx context.Context, cfg *config.Config, selector string) {
	store := openStore(cfg)
	reports := report.NewService(store, loadRegistry(cfg))

	readings, err := reports.Readings(ctx, selector)
	if err != nil {
		logger.Fatalf("Query failed: %v (selectors: %v)", err, reports.Selectors())
	}

	if err := report.Render(os.Stdout, readings); err != nil {
		logger.Fatalf("Failed to render readings: %v", err)
	}
	logger.Printf("%d reading(s) for %s\n", len(readings), selector)
}

func exportCommand(ctx context.Context, cfg *config.Config, selector, dir string) {
	if dir == "" {
		dir = cfg.Export.Dir
	}

	store := openStore(cfg)
	reports := report.NewService(store, loadRegistry(cfg))

	path, n, err := reports.Export(ctx, selector, dir)
	if err != nil {
		logger.Fatalf("Export failed: %v", err)
	}
	logger.Printf("✓ Exported %d reading(s) to %s\n", n, path)
}

func serveCommand(ctx context.Context, cfg *config.Config) {
	store := openStore(cfg)
	reg := loadRegistry(cfg)

	var fetcher server.MailFetcher
	if f, err := newFetcher(ctx, cfg); err != nil {
		logger.Warnf("Mail fetching disabled: %v\n", err)
	} else {
		fetcher = f
	}

	app := server.New(ctx, server.Options{
		Addr:       cfg.Addr(),
		Mode:       cfg.Server.Mode,
		Store:      store,
		Reports:    report.NewService(store, reg),
		Fetcher:    fetcher,
		Scanner:    scanner.NewCSVScanner(store, reg, cfg.CSV),
		StagingDir: cfg.Staging.Dir,
	})

	sqlDB, err := store.DB().DB()
	if err != nil {
		logger.Fatalf("Failed to get underlying sql.DB: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx)
	})
	g.Go(func() error {
		metrics.RecordConnectionStats(gctx, sqlDB, 15*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Println("Server stopped")
}

// formatCounts renders name/count pairs as "name=count, ...".
func formatCounts(pairs ...interface{}) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", pairs[i], pairs[i+1]))
	}
	return strings.Join(parts, ", ")
}
