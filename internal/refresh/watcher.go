package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/brizzai/auth-fabric/internal/logger"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the sign-out poll asks the authority
// whether the identity has been flagged. Polling is deliberate: forced
// sign-out is rare, and a persistent push channel is not worth holding open
// for it.
const DefaultPollInterval = 5 * time.Second

// Watcher polls the session authority's signout-check endpoint and performs
// a local sign-out when the server has flagged the identity.
type Watcher struct {
	checkURL  string
	email     string
	interval  time.Duration
	client    *http.Client
	onSignOut func()
}

// NewWatcher creates a sign-out watcher for the identity at email. onSignOut
// runs at most once, when the flag is first observed.
func NewWatcher(authorityURL, email string, interval time.Duration, onSignOut func()) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		checkURL:  authorityURL + "/auth/signout-check",
		email:     email,
		interval:  interval,
		client:    &http.Client{Timeout: 5 * time.Second},
		onSignOut: onSignOut,
	}
}

// WithClient overrides the watcher's HTTP client. Test hook.
func (w *Watcher) WithClient(client *http.Client) *Watcher {
	w.client = client
	return w
}

// Run polls until ctx is cancelled or the identity is signed out. A failed
// poll is logged and retried on the next tick; the bounded-interval
// detection guarantee only needs the authority to be eventually reachable.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signedOut, err := w.check(ctx)
			if err != nil {
				logger.Debug("Sign-out poll failed", zap.Error(err))
				continue
			}
			if signedOut {
				logger.Info("Identity flagged for sign-out", zap.String("email", w.email))
				if w.onSignOut != nil {
					w.onSignOut()
				}
				return
			}
		}
	}
}

func (w *Watcher) check(ctx context.Context) (bool, error) {
	u := w.checkURL + "?email=" + url.QueryEscape(w.email)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("build signout-check request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("signout-check request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("signout-check returned %s", resp.Status)
	}

	var result struct {
		SignedOut bool `json:"signedOut"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode signout-check response: %w", err)
	}
	return result.SignedOut, nil
}
