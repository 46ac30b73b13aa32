// Package server provides the internal session API: sign-in callback,
// token refresh, the storage action endpoint and the optional MCP
// endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/models"
)

// Authenticator is the token broker as seen by the HTTP layer.
type Authenticator interface {
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (models.UserToken, error)
	Refresh(ctx context.Context, refreshToken string) (models.UserToken, error)
	MintSessionCredential(ut models.UserToken) (models.SessionCredential, error)
	VerifySessionCredential(token string) (*broker.SessionClaims, error)
}

// ReportService is the report orchestrator as seen by the HTTP layer.
type ReportService interface {
	SaveReport(ctx context.Context, report models.QCReport) (models.SaveResult, error)
	SaveCalculation(ctx context.Context, calc models.CalculationResult) (models.SaveResult, error)
	ListReports(ctx context.Context, projectID string) ([]models.ReportSummary, error)
	LoadReport(ctx context.Context, bucketKey, objectKey string) (models.QCReport, error)
	DeleteReport(ctx context.Context, bucketKey, objectKey string) error
}

// Default auth endpoint limits: 5 requests per minute per client IP.
const (
	DefaultAuthRate  = rate.Limit(5.0 / 60.0)
	DefaultAuthBurst = 5
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Auth    Authenticator
	Reports ReportService

	// MCPHandler is mounted at /mcp behind the session middleware when
	// non-nil.
	MCPHandler http.Handler

	Logger *slog.Logger

	// AuthRate and AuthBurst limit /auth/* per client IP. Zero values
	// use the defaults.
	AuthRate  rate.Limit
	AuthBurst int

	Now func() time.Time
}

// NewMux builds the router. /auth/* is rate limited per client IP;
// /storage and /mcp require a session credential.
func NewMux(cfg MuxConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	if cfg.AuthRate == 0 {
		cfg.AuthRate = DefaultAuthRate
	}

	if cfg.AuthBurst == 0 {
		cfg.AuthBurst = DefaultAuthBurst
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.With(slog.String("component", "server"))
	h := &handlers{auth: cfg.Auth, reports: cfg.Reports, logger: logger, now: cfg.Now}

	r := chi.NewRouter()
	r.Use(requestID(logger))

	r.Get("/healthz", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Use(rateLimit(newIPLimiter(cfg.AuthRate, cfg.AuthBurst), logger))
		r.Post("/callback", h.callback)
		r.Post("/refresh", h.refresh)
	})

	session := sessionMiddleware(cfg.Auth, logger)

	r.With(session).Post("/storage", h.storage)

	if cfg.MCPHandler != nil {
		r.With(session).Handle("/mcp", cfg.MCPHandler)
	}

	return r
}

type handlers struct {
	auth    Authenticator
	reports ReportService
	logger  *slog.Logger
	now     func() time.Time
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
