// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"
)

// ServiceToken is a client-credentials access token for one scope.
type ServiceToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	Scope     string    `json:"scope"`
}

// UserToken is a user-delegated token pair. It belongs to a single
// session and is never cached process-wide.
type UserToken struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
}

// Scope returns the granted scopes joined with spaces.
func (t UserToken) Scope() string {
	return strings.Join(t.GrantedScopes, " ")
}

// SessionCredential is the signed envelope handed to the web client.
type SessionCredential struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScopeAnalysis summarises which storage capabilities a user token has.
type ScopeAnalysis struct {
	HasDataWrite          bool `json:"hasDataWrite"`
	HasDataCreate         bool `json:"hasDataCreate"`
	HasBucketCreate       bool `json:"hasBucketCreate"`
	HasBucketRead         bool `json:"hasBucketRead"`
	HasBucketUpdate       bool `json:"hasBucketUpdate"`
	HasBucketDelete       bool `json:"hasBucketDelete"`
	EnhancedPermissions   bool `json:"enhancedPermissions"`
	FullBucketPermissions bool `json:"fullBucketPermissions"`
}
