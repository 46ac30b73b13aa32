package broker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// ServiceToken returns a client-credentials token for scope, serving it
// from the cache while it is outside the early refresh margin. Concurrent
// misses for the same scope share one upstream exchange. Failures are
// never retried here.
func (b *Broker) ServiceToken(ctx context.Context, scope string) (models.ServiceToken, error) {
	scopes := strings.Fields(scope)
	if len(scopes) == 0 {
		return models.ServiceToken{}, &apperrors.AuthError{
			Reason: apperrors.AuthNotConfigured,
			Detail: "empty scope",
			Err:    apperrors.ErrNotConfigured,
		}
	}

	key := strings.Join(scopes, " ")

	return b.cache.GetOrCreate(ctx, key, func(ctx context.Context) (models.ServiceToken, time.Duration, error) {
		cc := clientcredentials.Config{
			ClientID:     b.clientID,
			ClientSecret: b.clientSecret,
			TokenURL:     b.tokenURL,
			Scopes:       scopes,
			AuthStyle:    b.endpoint().AuthStyle,
		}

		tok, err := cc.Token(b.withClient(ctx))
		if err != nil {
			ae := classify(err)
			b.logger.Warn("service token request failed",
				slog.String("scope", key),
				slog.String("reason", string(ae.Reason)),
				slog.Int("status", ae.Status),
			)

			return models.ServiceToken{}, 0, ae
		}

		ttl := b.expiresIn(tok)
		st := models.ServiceToken{
			Value:     tok.AccessToken,
			ExpiresAt: b.now().Add(ttl),
			Scope:     key,
		}

		b.logger.Debug("service token acquired",
			slog.String("scope", key),
			slog.Duration("expires_in", ttl),
		)

		return st, ttl, nil
	})
}

// InvalidateServiceToken drops the cached token for scope, forcing the
// next ServiceToken call to go upstream. Used after the platform rejects
// a token the cache still considered fresh.
func (b *Broker) InvalidateServiceToken(scope string) {
	b.cache.Delete(strings.Join(strings.Fields(scope), " "))
}
