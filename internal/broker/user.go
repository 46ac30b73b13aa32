package broker

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/oauth2"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// ExchangeAuthorizationCode trades a one-time authorization code for a
// user token. Codes are single use: a code this broker has already
// submitted is refused locally, even if the earlier attempt failed in
// transit, and surfaces as ErrSignInRequired.
func (b *Broker) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (models.UserToken, error) {
	if code == "" {
		return models.UserToken{}, ErrMissingCode
	}

	if b.redirectAllowed != nil && !b.redirectAllowed(redirectURI) {
		return models.UserToken{}, ErrRedirectNotAllowed
	}

	if !b.claimCode(code) {
		b.logger.Warn("authorization code reuse refused")

		return models.UserToken{}, &apperrors.AuthError{
			Reason: apperrors.AuthUpstreamRejected,
			Detail: "authorization code already used",
			Err:    apperrors.ErrSignInRequired,
		}
	}

	conf := &oauth2.Config{
		ClientID:     b.clientID,
		ClientSecret: b.clientSecret,
		Endpoint:     b.endpoint(),
		RedirectURL:  redirectURI,
	}

	tok, err := conf.Exchange(b.withClient(ctx), code)
	if err != nil {
		ae := classify(err)
		b.logger.Warn("authorization code exchange failed",
			slog.String("reason", string(ae.Reason)),
			slog.Int("status", ae.Status),
		)

		return models.UserToken{}, ae
	}

	ut := b.userToken(tok, "")
	b.logger.Info("authorization code exchanged", slog.String("scope", ut.Scope()))

	return ut, nil
}

// Refresh exchanges refreshToken for a new token pair. On failure no
// broker state changes, so a still-valid previous token remains usable.
// When the upstream does not rotate the refresh token the old one is
// carried forward.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (models.UserToken, error) {
	if refreshToken == "" {
		return models.UserToken{}, &apperrors.AuthError{
			Reason: apperrors.AuthUpstreamRejected,
			Detail: "missing refresh token",
			Err:    apperrors.ErrSignInRequired,
		}
	}

	conf := &oauth2.Config{
		ClientID:     b.clientID,
		ClientSecret: b.clientSecret,
		Endpoint:     b.endpoint(),
	}

	tok, err := conf.TokenSource(b.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		ae := classify(err)
		b.logger.Warn("token refresh failed",
			slog.String("reason", string(ae.Reason)),
			slog.Int("status", ae.Status),
		)

		return models.UserToken{}, ae
	}

	return b.userToken(tok, refreshToken), nil
}

func (b *Broker) userToken(tok *oauth2.Token, previousRefresh string) models.UserToken {
	ut := models.UserToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    b.now().Add(b.expiresIn(tok)),
	}

	if ut.RefreshToken == "" {
		ut.RefreshToken = previousRefresh
	}

	if s, ok := tok.Extra("scope").(string); ok {
		ut.GrantedScopes = strings.Fields(s)
	}

	return ut
}

// claimCode records code as submitted. It returns false when the code
// was already claimed within usedCodeTTL.
func (b *Broker) claimCode(code string) bool {
	sum := blake2b.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])
	now := b.now()

	b.codesMu.Lock()
	defer b.codesMu.Unlock()

	for k, at := range b.usedCodes {
		if now.Sub(at) >= usedCodeTTL {
			delete(b.usedCodes, k)
		}
	}

	if _, seen := b.usedCodes[key]; seen {
		return false
	}

	b.usedCodes[key] = now

	return true
}
