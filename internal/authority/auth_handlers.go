package authority

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/session"
	"github.com/brizzai/auth-fabric/internal/token"
	"github.com/brizzai/auth-fabric/internal/utils"
	"go.uber.org/zap"
)

// HandleGetJWT mints a signed service token for the current browser session.
func (h *Handler) HandleGetJWT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := h.sessionFor(r)
	if sess == nil {
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"error":         "No active session",
			"requiresLogin": true,
		})
		return
	}

	identity := h.identityFor(sess)
	signed, err := h.issuer.Mint(identity)
	if err != nil {
		if errors.Is(err, token.ErrNoSigningSecret) {
			// Operator error, not a client one. Alert-worthy.
			logger.Error("Service token signing secret is not configured")
			utils.WriteJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
				"error": "Server misconfigured",
			})
			return
		}
		logger.Error("Failed to mint service token", zap.Error(err))
		utils.WriteJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to mint token",
		})
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		"token":   signed,
		"user": map[string]interface{}{
			"email":       identity.Email,
			"userId":      identity.ID,
			"accessToken": identity.AccessToken,
		},
	})
}

// HandleLogin is the interactive sign-in endpoint. With silent=true it never
// shows UI: an existing session redirects with an ssoToken in the Location
// query, anything else is 401.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	silent := r.URL.Query().Get("silent") == "true"
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" && h.cfg.OAuth != nil {
		redirectURI = h.cfg.OAuth.BaseURL
	}

	if sess := h.sessionFor(r); sess != nil {
		signed, err := h.issuer.Mint(h.identityFor(sess))
		if err != nil {
			logger.Error("Failed to mint SSO token", zap.Error(err))
			utils.WriteJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
				"error": "Server misconfigured",
			})
			return
		}
		target, err := url.Parse(redirectURI)
		if err != nil || redirectURI == "" {
			target = &url.URL{Path: "/"}
		}
		q := target.Query()
		q.Set("ssoToken", signed)
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	if silent {
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"error":         "No active session",
			"requiresLogin": true,
		})
		return
	}

	if h.provider == nil {
		http.Error(w, "No identity provider configured", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.provider.GetAuthURL("", redirectURI), http.StatusFound)
}

// HandleCallback finishes the provider exchange, opens the session and
// pushes the user's record to every downstream service. Propagation is
// best-effort: its outcome never affects the login response.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.provider == nil {
		http.Error(w, "No identity provider configured", http.StatusServiceUnavailable)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		utils.WriteError(w, "invalid_request", "Code is required", http.StatusBadRequest)
		return
	}

	tok, err := h.provider.ExchangeCode(r.Context(), code, "")
	if err != nil {
		logger.Error("Provider code exchange failed", zap.Error(err))
		utils.WriteError(w, "exchange_failed", "Failed to exchange authorization code", http.StatusUnauthorized)
		return
	}

	info, err := h.provider.ValidateAccessToken(r.Context(), tok.AccessToken)
	if err != nil {
		logger.Error("Provider token validation failed", zap.Error(err))
		utils.WriteError(w, "invalid_token", "Failed to validate provider token", http.StatusUnauthorized)
		return
	}

	providerName := "oauth"
	if h.cfg.OAuth != nil {
		providerName = h.cfg.OAuth.Provider
	}
	sess := h.sessions.Create(info.Email, info.ID, map[string]session.ProviderTokens{
		providerName: {
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		},
	})

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	now := time.Now()
	record := directory.Record{
		ID:          info.ID,
		Email:       info.Email,
		Username:    info.Name,
		AvatarURL:   info.Picture,
		Active:      true,
		LastLogin:   &now,
		AccessToken: tok.AccessToken,
	}
	if existing, ok := h.store.Get(info.Email); ok {
		record.IsAdmin = existing.IsAdmin
	}
	h.store.Upsert(record)

	// Fire-and-forget: loss of sync with one service must not block login.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.logResults("inject", h.propagator.Inject(ctx, record))
	}()

	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout destroys the browser session and clears the cookie. It does
// not trip the sign-out poll: that flag is reserved for server-initiated
// removal, where other browsers holding the identity must also react.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil {
		h.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	utils.WriteJSON(w, map[string]interface{}{"success": true})
}

// HandleSilentSSO answers a downstream service's non-interactive "is this
// browser signed in" probe using its forwarded cookies.
func (h *Handler) HandleSilentSSO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := h.sessionFor(r)
	if sess == nil {
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"success":       false,
			"error":         "No active session",
			"requiresLogin": true,
		})
		return
	}

	signed, err := h.issuer.Mint(h.identityFor(sess))
	if err != nil {
		logger.Error("Failed to mint SSO token", zap.Error(err))
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"success":       false,
			"error":         "Silent authentication failed",
			"requiresLogin": true,
		})
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success":  true,
		"ssoToken": signed,
	})
}

// HandleSignOutCheck serves the client-side sign-out poll.
func (h *Handler) HandleSignOutCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		utils.WriteError(w, "invalid_request", "email is required", http.StatusBadRequest)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"signedOut": h.sessions.IsSignedOut(email),
	})
}

// HandleVerify is the remote-verification counterpart to the middleware's
// local signature check. It authenticates callers with the service secret.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get(directory.ServiceSecretHeader) != h.cfg.Auth.ServiceSecret {
		utils.WriteError(w, "unauthorized", "Invalid service secret", http.StatusUnauthorized)
		return
	}

	raw := bearerToken(r)
	if raw == "" {
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{"active": false})
		return
	}

	identity, err := h.verifier.Verify(raw)
	if err != nil {
		utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{"active": false})
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"active":   true,
		"identity": identity,
	})
}

func (h *Handler) logResults(action string, results []directory.TargetResult) {
	for _, res := range results {
		if !res.Success {
			logger.Warn("Directory propagation target failed",
				zap.String("action", action),
				zap.String("target", res.Service),
				zap.String("error", res.Error),
			)
		}
	}
}
