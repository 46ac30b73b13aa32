package broker

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// SessionClaims is the claim set of a session credential.
type SessionClaims struct {
	jwt.RegisteredClaims

	// PlatformToken is the wrapped user access token.
	PlatformToken string `json:"ptk"`

	// Scopes granted to the platform token.
	Scopes []string `json:"scp,omitempty"`
}

// MintSessionCredential wraps the user's platform token in an HS256
// envelope. The credential expires at the earlier of the session TTL and
// the platform token's own expiry.
func (b *Broker) MintSessionCredential(ut models.UserToken) (models.SessionCredential, error) {
	if ut.AccessToken == "" {
		return models.SessionCredential{}, fmt.Errorf("minting session credential: %w", apperrors.ErrSignInRequired)
	}

	now := b.now()

	exp := now.Add(b.sessionTTL)
	if !ut.ExpiresAt.IsZero() && ut.ExpiresAt.Before(exp) {
		exp = ut.ExpiresAt
	}

	if !exp.After(now) {
		return models.SessionCredential{}, fmt.Errorf("minting session credential: platform token expired: %w", apperrors.ErrSignInRequired)
	}

	id := ulid.MustNewDefault(now).String()

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Audience:  jwt.ClaimStrings{b.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        id,
		},
		PlatformToken: ut.AccessToken,
		Scopes:        ut.GrantedScopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return models.SessionCredential{}, fmt.Errorf("signing session credential: %w", err)
	}

	return models.SessionCredential{Token: signed, ID: id, ExpiresAt: exp}, nil
}

// VerifySessionCredential checks the signature, algorithm, issuer,
// audience and validity window of a session credential. Any failure
// wraps ErrSignInRequired.
func (b *Broker) VerifySessionCredential(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(b.now),
		jwt.WithLeeway(5 * time.Second),
	}

	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}

	if b.audience != "" {
		opts = append(opts, jwt.WithAudience(b.audience))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSignInRequired, err)
	}

	if claims.PlatformToken == "" {
		return nil, fmt.Errorf("%w: session credential carries no platform token", apperrors.ErrSignInRequired)
	}

	return claims, nil
}
