// Package authority implements the session authority's HTTP surface: the
// single service that owns real OAuth sessions and mints derived credentials
// for the rest of the fabric.
package authority

import (
	"net/http"
	"time"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/providers"
	"github.com/brizzai/auth-fabric/internal/session"
	"github.com/brizzai/auth-fabric/internal/token"
	"go.uber.org/fx"
)

// SessionCookie is the authority's browser-session cookie name.
const SessionCookie = "af_session"

// Handler owns the authority endpoints.
type Handler struct {
	cfg        *config.Config
	sessions   *session.Store
	store      directory.Store
	issuer     *token.Issuer
	verifier   *token.Verifier
	propagator *directory.Propagator
	provider   providers.Provider
}

// HandlerParams defines the handler's dependencies.
type HandlerParams struct {
	fx.In

	Config     *config.Config
	Sessions   *session.Store
	Store      directory.Store
	Propagator *directory.Propagator
	Provider   providers.Provider `optional:"true"`
}

// NewHandler creates the authority handler.
func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		cfg:        params.Config,
		sessions:   params.Sessions,
		store:      params.Store,
		issuer:     token.NewIssuer(params.Config.Auth.SigningSecret, params.Config.Auth.TokenTTL),
		verifier:   token.NewVerifier(params.Config.Auth.SigningSecret),
		propagator: params.Propagator,
		provider:   params.Provider,
	}
}

// RegisterRoutes registers all authority routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", h.HandleLogin)
	mux.HandleFunc("/auth/callback", h.HandleCallback)
	mux.HandleFunc("/auth/logout", h.HandleLogout)
	mux.HandleFunc("/auth/refresh", h.HandleRefresh)
	mux.HandleFunc("/auth/get-jwt", h.HandleGetJWT)
	mux.HandleFunc("/auth/silent-sso", h.HandleSilentSSO)
	mux.HandleFunc("/auth/signout-check", h.HandleSignOutCheck)
	mux.HandleFunc("/auth/verify", h.HandleVerify)
	mux.HandleFunc(directory.InjectionPath, h.HandleInjectionTrigger)
}

// sessionFor resolves the browser session from the request cookie, or nil.
func (h *Handler) sessionFor(r *http.Request) *session.Session {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	return h.sessions.Get(cookie.Value)
}

// identityFor derives the token identity from a session, picking up the
// admin flag from the authority's own user directory when known.
func (h *Handler) identityFor(sess *session.Session) token.Identity {
	identity := token.Identity{
		ID:    sess.UserID,
		Email: sess.Email,
	}
	if record, ok := h.store.Get(sess.Email); ok {
		identity.Username = record.Username
		identity.IsAdmin = record.IsAdmin
	}
	for _, tokens := range sess.Providers {
		if tokens.AccessToken != "" && (tokens.Expiry.IsZero() || tokens.Expiry.After(time.Now())) {
			identity.AccessToken = tokens.AccessToken
			break
		}
	}
	return identity
}
