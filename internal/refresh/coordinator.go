// Package refresh implements the client-resident token-refresh and sign-out
// coordination: it reacts to provider refresh failures by forcing a fresh
// interactive login, and polls the authority for forced sign-out.
package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/providers"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNotRefreshable means the provider rejected the refresh token. The
// passive path (forced re-authentication) takes over on next use.
var ErrNotRefreshable = errors.New("token is not refreshable")

// Coordinator watches the session's provider tokens. Stale tokens are never
// used: a refresh failure immediately forces interactive re-authentication.
type Coordinator struct {
	provider   providers.Provider
	reload     func(ctx context.Context, tok *oauth2.Token) error
	forceLogin func()
}

// NewCoordinator wires the coordinator to the session layer. reload installs
// the fresh credentials into the session layer after a successful refresh;
// forceLogin restarts the interactive OAuth flow.
func NewCoordinator(provider providers.Provider, reload func(ctx context.Context, tok *oauth2.Token) error, forceLogin func()) *Coordinator {
	return &Coordinator{provider: provider, reload: reload, forceLogin: forceLogin}
}

// HandleRefreshFailure is the passive path: the session layer surfaced a
// refresh failure signal, so re-authentication starts immediately rather
// than silently degrading.
func (c *Coordinator) HandleRefreshFailure() {
	logger.Warn("Provider token refresh failed, forcing re-authentication")
	if c.forceLogin != nil {
		c.forceLogin()
	}
}

// Refresh is the active path: exchange a known refresh token for fresh
// provider credentials and make the session layer reload them.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrNotRefreshable
	}

	tok, err := c.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		logger.Warn("Manual token refresh rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNotRefreshable, err)
	}

	if c.reload != nil {
		if err := c.reload(ctx, tok); err != nil {
			return nil, fmt.Errorf("reload session after refresh: %w", err)
		}
	}
	return tok, nil
}
