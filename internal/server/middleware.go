package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type contextKey int

const ctxClaims contextKey = 0

// SessionClaims returns the verified session claims from the context, or
// nil.
func SessionClaims(ctx context.Context) *broker.SessionClaims {
	c, _ := ctx.Value(ctxClaims).(*broker.SessionClaims)
	return c
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Forwarding headers are not trusted.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (MCP) working through the recorder.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestID tags every request with a ULID, echoed in X-Request-ID and
// attached to the request logger. A well-formed incoming ULID is kept.
func requestID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(requestIDHeader)
			if _, err := ulid.ParseStrict(id); err != nil {
				id = ulid.Make().String()
			}

			w.Header().Set(requestIDHeader, id)

			logger := base.With(
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", remoteIP(r)),
			)

			ctx := logging.WithContext(r.Context(), logger)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			logger.Debug("request",
				slog.Int("status", rw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// sessionMiddleware requires a valid session credential as a Bearer
// token. Failures get a 401 asking the client to sign in again.
func sessionMiddleware(auth Authenticator, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context(), fallback)

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				logger.Debug("session: no bearer token")
				w.Header().Set("WWW-Authenticate", `Bearer`)
				writeSignInRequired(w)

				return
			}

			claims, err := auth.VerifySessionCredential(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				logger.Debug("session: invalid credential", slog.String("error", err.Error()))
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeSignInRequired(w)

				return
			}

			ctx := context.WithValue(r.Context(), ctxClaims, claims)
			ctx = logging.WithContext(ctx, logger.With(slog.String("session", claims.ID)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const (
	// limiterPruneThreshold is the number of tracked IPs above which
	// idle limiters are dropped.
	limiterPruneThreshold = 1000

	limiterIdle = 10 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	limit   rate.Limit
	burst   int
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*ipEntry),
		limit:   limit,
		burst:   burst,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if len(l.entries) > limiterPruneThreshold {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(l.entries, k)
			}
		}
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}

	e.lastSeen = now

	return e.limiter
}

func rateLimit(l *ipLimiter, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			limiter := l.get(ip)

			if !limiter.Allow() {
				res := limiter.Reserve()
				delay := res.Delay()
				res.Cancel()

				logging.FromContext(r.Context(), fallback).Warn("auth rate limited")

				w.Header().Set("Retry-After", strconv.Itoa(max(int(delay.Seconds()), 1)))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
