// Package sso implements silent session discovery: a downstream service asks
// the session authority whether the browser is already signed in, without
// any interactive redirect reaching the user.
package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brizzai/auth-fabric/internal/logger"
	"go.uber.org/zap"
)

// ErrSilentAuthFailed means the authority answered with something other than
// a token-bearing redirect or a clean 401. The caller has no safe fallback
// besides prompting interactive login.
var ErrSilentAuthFailed = errors.New("silent authentication failed")

const maxDiagnosticBody = 256

// Result is the outcome of one silent negotiation. Exactly one of Token or
// RequiresLogin is meaningful.
type Result struct {
	Token         string
	RequiresLogin bool

	// Diagnostic carries the responding status and body snippet when the
	// negotiation failed unexpectedly. Operator-facing only.
	Diagnostic string
}

// Negotiator performs silent sign-in attempts against the authority's
// interactive login endpoint.
type Negotiator struct {
	loginURL string
	client   *http.Client
}

// NewNegotiator creates a Negotiator for the authority at baseURL. The HTTP
// client must not follow redirects: the token travels in the Location header
// of the raw redirect response, so the client inspects it manually.
func NewNegotiator(baseURL string, timeout time.Duration) *Negotiator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Negotiator{
		loginURL: baseURL + "/auth/login",
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Negotiate forwards the browser's cookies to the authority with the silent
// flag set and inspects the response:
//
//   - a redirect whose Location carries ssoToken is a signed-in browser
//   - a 401 is "no session yet", an expected outcome and not an error
//   - anything else is ErrSilentAuthFailed, reported to the caller as
//     requires-login since interactive sign-in is the only recovery
func (n *Negotiator) Negotiate(ctx context.Context, cookies []*http.Cookie) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.loginURL+"?silent=true", nil)
	if err != nil {
		return Result{RequiresLogin: true}, fmt.Errorf("build silent login request: %w", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return Result{RequiresLogin: true}, fmt.Errorf("silent login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return Result{RequiresLogin: true}, nil
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if token := tokenFromLocation(location); token != "" {
			return Result{Token: token}, nil
		}
		diagnostic := fmt.Sprintf("redirect without ssoToken: %s", location)
		logger.Warn("Silent SSO redirect carried no token", zap.String("location", location))
		return Result{RequiresLogin: true, Diagnostic: diagnostic}, ErrSilentAuthFailed
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
	diagnostic := fmt.Sprintf("unexpected status %s: %s", resp.Status, snippet)
	logger.Warn("Silent SSO negotiation failed",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", snippet),
	)
	return Result{RequiresLogin: true, Diagnostic: diagnostic}, ErrSilentAuthFailed
}

func tokenFromLocation(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Query().Get("ssoToken")
}
