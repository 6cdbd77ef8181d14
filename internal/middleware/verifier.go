package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brizzai/auth-fabric/internal/token"
)

// Verifier is the pluggable token-verification capability. Implementations
// return (nil, nil) or an error wrapping token.ErrInvalidToken when the
// credential is simply not valid; any other error means the verifier itself
// failed and the middleware reports "Token validation failed".
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Identity, error)
}

// verifierPanicError wraps a recovered panic from a Verifier implementation.
type verifierPanicError struct {
	value interface{}
}

func (e *verifierPanicError) Error() string {
	return fmt.Sprintf("verifier panic: %v", e.value)
}

func isInvalidToken(err error) bool {
	return errors.Is(err, token.ErrInvalidToken)
}

// LocalVerifier checks token signatures and expiry in-process against the
// shared signing secret, with no network round trip.
type LocalVerifier struct {
	verifier *token.Verifier
}

// NewLocalVerifier wraps a token.Verifier as a middleware Verifier.
func NewLocalVerifier(v *token.Verifier) *LocalVerifier {
	return &LocalVerifier{verifier: v}
}

func (l *LocalVerifier) Verify(_ context.Context, raw string) (*token.Identity, error) {
	return l.verifier.Verify(raw)
}

// RemoteVerifier validates tokens by calling the session authority's verify
// endpoint, authenticated with the service-to-service secret.
type RemoteVerifier struct {
	url           string
	serviceSecret string
	client        *http.Client
}

// NewRemoteVerifier creates a verifier that POSTs to the authority at
// baseURL. A nil client gets a default with a 10s timeout.
func NewRemoteVerifier(baseURL, serviceSecret string, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteVerifier{
		url:           baseURL + "/auth/verify",
		serviceSecret: serviceSecret,
		client:        client,
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, raw string) (*token.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+raw)
	if v.serviceSecret != "" {
		req.Header.Set("X-Service-Secret", v.serviceSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The authority answers 401 for a token it does not vouch for. That is
	// a negative verification, not a verifier failure.
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify returned %s", resp.Status)
	}

	var result struct {
		Active   bool           `json:"active"`
		Identity token.Identity `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !result.Active {
		return nil, nil
	}
	return &result.Identity, nil
}
