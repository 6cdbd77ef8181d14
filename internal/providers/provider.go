// Package providers adapts the external OAuth identity providers the session
// authority can link sessions to. The provider exchange itself belongs to
// the identity provider; this package only drives it.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// UserInfo represents authenticated user information from any provider
type UserInfo struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

// Provider defines the interface that all OAuth providers must implement
type Provider interface {
	// GetAuthURL returns the authorization URL for the provider
	GetAuthURL(state, redirectURI string) string

	// ExchangeCode exchanges an authorization code for tokens
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// RefreshToken refreshes an OAuth token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// ValidateAccessToken validates a raw access token and returns user info
	ValidateAccessToken(ctx context.Context, token string) (*UserInfo, error)
}
