// Command castlink-sync re-saves reports that only reached the local
// offline cache.
//
//	castlink-sync [-dry-run] <projectID>
//	castlink-sync -show <reportID> <projectID>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/config"
	"github.com/metromont/castlink/internal/credcache"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/oss"
	"github.com/metromont/castlink/internal/reports"
	"github.com/metromont/castlink/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dryRun := flag.Bool("dry-run", false, "list pending reports without saving them")
	show := flag.String("show", "", "print the cached copy of one report and exit")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: castlink-sync [-dry-run] [-show reportID] <projectID>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("project id is required")
	}

	projectID := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	local, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer local.Close()

	if *show != "" {
		return showCached(local, projectID, *show)
	}

	httpClient := oss.NewHTTPClient(cfg.HTTPTimeout)

	b, err := broker.New(broker.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
		SigningKey:   []byte(cfg.SigningKey),
		Issuer:       cfg.SessionIssuer,
		Audience:     cfg.SessionAudience,
		SessionTTL:   cfg.SessionTTL,
		HTTPClient:   httpClient,
		Cache:        credcache.New[models.ServiceToken](credcache.DefaultMargin),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating token broker: %w", err)
	}

	store := oss.NewClient(cfg.OSSURL,
		oss.WithHTTPClient(httpClient),
		oss.WithMaxDownloadBytes(cfg.MaxDownloadBytes),
		oss.WithLogger(logger),
	)

	orch, err := reports.New(reports.Config{
		Tokens:       b,
		Store:        store,
		Local:        local,
		Scope:        cfg.StorageScope,
		BucketPrefix: cfg.BucketPrefix,
		MaxAttempts:  cfg.SaveMaxAttempts,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating report orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pending, err := orch.PendingReports(ctx, projectID)
	if err != nil {
		return err
	}

	for _, p := range pending {
		fmt.Printf("pending  %s  %s  saved %s\n", p.ReportID, p.BedName, p.LastModified.Format("2006-01-02 15:04"))
	}

	if len(pending) == 0 {
		fmt.Println("nothing to sync")
		return nil
	}

	if *dryRun {
		return nil
	}

	results, err := orch.Resync(ctx, projectID)

	failed := 0
	for _, r := range results {
		fmt.Printf("%-14s  %s  %s/%s\n", r.Status, r.ReportID, r.BucketKey, r.ObjectKey)

		if !r.Synced() {
			failed++
		}
	}

	if err != nil {
		return fmt.Errorf("resync stopped: %w", err)
	}

	logger.Info("resync complete",
		slog.String("project", projectID),
		slog.Int("saved", len(results)-failed),
		slog.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("%d of %d reports still pending", failed, len(results))
	}

	return nil
}

func showCached(local *state.State, projectID, reportID string) error {
	cached, err := local.GetReport(projectID, reportID)
	if err != nil {
		return fmt.Errorf("reading cached report: %w", err)
	}

	if cached == nil {
		return fmt.Errorf("report %s not cached for project %s", reportID, projectID)
	}

	status := "pending"
	if cached.Synced {
		status = "synced"
	}

	fmt.Printf("%s  %s/%s  saved %s  %s\n",
		status, cached.BucketKey, cached.ObjectKey, cached.SavedAt.Format("2006-01-02 15:04"), cached.Revision)
	fmt.Println(string(cached.Report))

	return nil
}
