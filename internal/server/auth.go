package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/models"
)

// maxRequestBytes bounds every JSON request body.
const maxRequestBytes = 8 << 20

var errBadRequest = errors.New("malformed request body")

type callbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// sessionResponse is returned by both auth endpoints.
type sessionResponse struct {
	Token            string               `json:"token"`
	SessionExpiresAt int64                `json:"sessionExpiresAt"`
	PlatformToken    string               `json:"platformToken"`
	ExpiresIn        int64                `json:"expiresIn"`
	RefreshToken     string               `json:"refreshToken,omitempty"`
	Scope            string               `json:"scope,omitempty"`
	ScopeAnalysis    models.ScopeAnalysis `json:"scopeAnalysis"`
}

func (h *handlers) requestLogger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), h.logger)
}

// decodeJSON reads one JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errBadRequest)
	}

	return nil
}

func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "auth callback", err)
		return
	}

	ut, err := h.auth.ExchangeAuthorizationCode(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		h.fail(w, r, "auth callback", err)
		return
	}

	h.issue(w, r, "auth callback", ut)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "auth refresh", err)
		return
	}

	ut, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "auth refresh", err)
		return
	}

	h.issue(w, r, "auth refresh", ut)
}

// issue mints a session credential for ut and writes the session
// response.
func (h *handlers) issue(w http.ResponseWriter, r *http.Request, op string, ut models.UserToken) {
	cred, err := h.auth.MintSessionCredential(ut)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	analysis := broker.AnalyzeScopes(ut.GrantedScopes)

	h.requestLogger(r).Info(op,
		slog.String("session", cred.ID),
		slog.String("scope", ut.Scope()),
		slog.Bool("enhanced_permissions", analysis.EnhancedPermissions),
		slog.Bool("full_bucket_permissions", analysis.FullBucketPermissions),
	)

	expiresIn := int64(0)
	if !ut.ExpiresAt.IsZero() {
		expiresIn = int64(math.Max(0, ut.ExpiresAt.Sub(h.now()).Seconds()))
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:            cred.Token,
		SessionExpiresAt: cred.ExpiresAt.Unix(),
		PlatformToken:    ut.AccessToken,
		ExpiresIn:        expiresIn,
		RefreshToken:     ut.RefreshToken,
		Scope:            ut.Scope(),
		ScopeAnalysis:    analysis,
	})
}
