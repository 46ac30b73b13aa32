package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/config"
	"github.com/metromont/castlink/internal/credcache"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/mcpserver"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/oss"
	"github.com/metromont/castlink/internal/reports"
	"github.com/metromont/castlink/internal/server"
	"github.com/metromont/castlink/internal/state"
)

var Version = "dev"

func main() {
	// Handle gen-signing-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-signing-key" {
		genSigningKey()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func genSigningKey() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(key))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("castlink gateway starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	local, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer local.Close()

	httpClient := oss.NewHTTPClient(cfg.HTTPTimeout)

	b, err := broker.New(broker.Config{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		TokenURL:        cfg.AuthURL,
		SigningKey:      []byte(cfg.SigningKey),
		Issuer:          cfg.SessionIssuer,
		Audience:        cfg.SessionAudience,
		SessionTTL:      cfg.SessionTTL,
		RedirectAllowed: cfg.RedirectAllowed,
		HTTPClient:      httpClient,
		Cache:           credcache.New[models.ServiceToken](credcache.DefaultMargin),
		Logger:          logger,
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

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "castlink", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, orch)

		mcpHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	mux := server.NewMux(server.MuxConfig{
		Auth:       b,
		Reports:    orch,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
