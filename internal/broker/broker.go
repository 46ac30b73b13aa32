// Package broker manages platform OAuth credentials. It caches
// client-credentials tokens per scope, exchanges authorization codes and
// refresh tokens for user tokens, and mints the signed session credential
// handed to the web client.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/credcache"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/models"
)

const (
	// defaultExpiresIn is assumed when the token endpoint omits expires_in.
	defaultExpiresIn = 3600 * time.Second

	// usedCodeTTL is how long a submitted authorization code is
	// remembered. Platform codes are short lived, so anything older
	// would be rejected upstream anyway.
	usedCodeTTL = 10 * time.Minute

	// errInvalidGrant is the OAuth error code for a consumed or expired
	// code or refresh token.
	errInvalidGrant = "invalid_grant"
)

var (
	// ErrRedirectNotAllowed is returned when a code exchange names a
	// redirect URI outside the configured allow-list.
	ErrRedirectNotAllowed = errors.New("redirect uri not allowed")

	// ErrMissingCode is returned for an empty authorization code.
	ErrMissingCode = errors.New("authorization code is required")
)

// Config configures a Broker.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string

	SigningKey []byte
	Issuer     string
	Audience   string
	SessionTTL time.Duration

	// RedirectAllowed vets redirect URIs. Nil allows any.
	RedirectAllowed func(string) bool

	HTTPClient *http.Client
	Cache      *credcache.Cache[models.ServiceToken]
	Logger     *slog.Logger
	Now        func() time.Time
}

// Broker is safe for concurrent use. It holds no user token state.
type Broker struct {
	clientID     string
	clientSecret string
	tokenURL     string

	signingKey []byte
	issuer     string
	audience   string
	sessionTTL time.Duration

	redirectAllowed func(string) bool

	httpClient *http.Client
	cache      *credcache.Cache[models.ServiceToken]
	logger     *slog.Logger
	now        func() time.Time

	codesMu   sync.Mutex
	usedCodes map[string]time.Time
}

// New validates cfg and returns a Broker. Missing client credentials or
// signing key produce an AuthError with reason not_configured.
func New(cfg Config) (*Broker, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, &apperrors.AuthError{
			Reason: apperrors.AuthNotConfigured,
			Detail: "client id and secret are required",
			Err:    apperrors.ErrNotConfigured,
		}
	}

	if len(cfg.SigningKey) == 0 {
		return nil, &apperrors.AuthError{
			Reason: apperrors.AuthNotConfigured,
			Detail: "session signing key is required",
			Err:    apperrors.ErrNotConfigured,
		}
	}

	if cfg.TokenURL == "" {
		return nil, &apperrors.AuthError{
			Reason: apperrors.AuthNotConfigured,
			Detail: "token url is required",
			Err:    apperrors.ErrNotConfigured,
		}
	}

	b := &Broker{
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		tokenURL:        cfg.TokenURL,
		signingKey:      cfg.SigningKey,
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		sessionTTL:      cfg.SessionTTL,
		redirectAllowed: cfg.RedirectAllowed,
		httpClient:      cfg.HTTPClient,
		cache:           cfg.Cache,
		logger:          cfg.Logger,
		now:             cfg.Now,
		usedCodes:       make(map[string]time.Time),
	}

	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if b.now == nil {
		b.now = time.Now
	}

	if b.cache == nil {
		b.cache = credcache.New[models.ServiceToken](credcache.DefaultMargin, credcache.WithClock(b.now))
	}

	if b.logger == nil {
		b.logger = logging.Discard()
	}

	if b.sessionTTL <= 0 {
		b.sessionTTL = time.Hour
	}

	b.logger = b.logger.With(slog.String("component", "broker"))

	return b, nil
}

// withClient attaches the broker's HTTP client for the oauth2 package.
func (b *Broker) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func (b *Broker) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		TokenURL:  b.tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// classify turns an oauth2 or transport failure into an AuthError.
func classify(err error) *apperrors.AuthError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ae := &apperrors.AuthError{
			Reason: apperrors.AuthUpstreamRejected,
			Detail: apperrors.SanitizeBody(re.Body),
		}

		if re.Response != nil {
			ae.Status = re.Response.StatusCode
		}

		if re.ErrorCode == errInvalidGrant {
			ae.Err = apperrors.ErrSignInRequired
		}

		return ae
	}

	if isNetworkError(err) {
		return &apperrors.AuthError{Reason: apperrors.AuthNetwork, Err: err}
	}

	return &apperrors.AuthError{Reason: apperrors.AuthMalformedResponse, Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne)
}

// expiresIn returns the lifetime reported for tok, defaulting to an hour
// when the upstream omitted expires_in.
func (b *Broker) expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}

	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(b.now()); d > 0 {
			return d
		}
	}

	return defaultExpiresIn
}
