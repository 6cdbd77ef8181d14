// Package middleware implements the per-service request gatekeeper: every
// inbound request is checked against the route auth policy, then its bearer
// credential is verified before the wrapped handler runs.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/policy"
	"github.com/brizzai/auth-fabric/internal/token"
	"go.uber.org/zap"
)

type identityContextKey struct{}

// Reason classifies why a request was rejected.
type Reason int

const (
	ReasonMissingOrInvalidHeader Reason = iota
	ReasonEmptyToken
	ReasonInvalidOrExpired
	ReasonVerifierError
)

// Message returns the plain-text 401 body for the reason. These strings are
// part of the service contract; clients match on them.
func (r Reason) Message() string {
	switch r {
	case ReasonMissingOrInvalidHeader:
		return "Unauthorized: Missing or invalid Authorization header"
	case ReasonEmptyToken:
		return "Unauthorized: Empty access token"
	case ReasonInvalidOrExpired:
		return "Unauthorized: Invalid or expired access token"
	case ReasonVerifierError:
		return "Unauthorized: Token validation failed"
	}
	return "Unauthorized"
}

// Outcome is the authentication decision for one request. Exactly one of
// the two shapes occurs: Allowed with an identity (nil for policy-exempt
// anonymous requests), or rejected with a reason.
type Outcome struct {
	Allowed  bool
	Identity *token.Identity
	Reason   Reason
}

// Authenticator decides request authentication for one service.
type Authenticator struct {
	policy   *policy.Policy
	verifier Verifier
}

// NewAuthenticator builds an Authenticator over the service's route policy
// and token verifier.
func NewAuthenticator(pol *policy.Policy, verifier Verifier) *Authenticator {
	return &Authenticator{policy: pol, verifier: verifier}
}

// Decide runs the authentication algorithm for a single request. It is
// terminal on first decision; there are no retries within a request.
func (a *Authenticator) Decide(r *http.Request) Outcome {
	if a.policy != nil && a.policy.Allows(r.URL.Path, r.Method) {
		return Outcome{Allowed: true}
	}

	header := r.Header.Get("Authorization")
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return Outcome{Reason: ReasonMissingOrInvalidHeader}
	}

	raw := strings.TrimSpace(rest)
	if raw == "" {
		return Outcome{Reason: ReasonEmptyToken}
	}

	identity, err := a.verify(r.Context(), raw)
	if err != nil {
		if isInvalidToken(err) {
			return Outcome{Reason: ReasonInvalidOrExpired}
		}
		logger.Error("Token verifier failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		return Outcome{Reason: ReasonVerifierError}
	}
	if identity == nil {
		return Outcome{Reason: ReasonInvalidOrExpired}
	}

	return Outcome{Allowed: true, Identity: identity}
}

// verify calls the pluggable verifier, converting a panic into an error so
// the middleware fails closed no matter how the verifier misbehaves.
func (a *Authenticator) verify(ctx context.Context, raw string) (identity *token.Identity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			identity = nil
			err = &verifierPanicError{value: rec}
		}
	}()
	return a.verifier.Verify(ctx, raw)
}

// Handler wraps next with the authentication decision. Both security headers
// are attached to every response, including early rejections and
// policy-exempt requests.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")

		outcome := a.Decide(r)
		if !outcome.Allowed {
			logger.Debug("Request rejected",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("reason", outcome.Reason.Message()),
			)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(outcome.Reason.Message()))
			return
		}

		if outcome.Identity != nil {
			r = r.WithContext(context.WithValue(r.Context(), identityContextKey{}, outcome.Identity))
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the authenticated identity attached to ctx, or nil
// for anonymous (policy-exempt) requests.
func IdentityFrom(ctx context.Context) *token.Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*token.Identity)
	return identity
}
