package providers

import (
	"fmt"

	"github.com/brizzai/auth-fabric/internal/config"
)

// ErrInvalidOAuthProvider indicates an unsupported OAuth provider was specified
var ErrInvalidOAuthProvider = fmt.Errorf("unsupported OAuth provider")

// New constructs the provider named in the config.
func New(cfg *config.OAuthConfig) (Provider, error) {
	switch cfg.Provider {
	case "google":
		provider, err := NewGoogleProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.Provider, err)
		}
		return provider, nil
	case "github":
		return NewGitHubProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOAuthProvider, cfg.Provider)
	}
}
