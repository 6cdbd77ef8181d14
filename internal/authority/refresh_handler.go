package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/refresh"
	"github.com/brizzai/auth-fabric/internal/session"
	"github.com/brizzai/auth-fabric/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// HandleRefresh manually exchanges the session's stored refresh token for
// fresh provider credentials. On success the session is replaced wholesale;
// on failure the caller is told to re-authenticate and the passive path
// takes over.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.provider == nil {
		http.Error(w, "No identity provider configured", http.StatusServiceUnavailable)
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

	providerName := "oauth"
	if h.cfg.OAuth != nil {
		providerName = h.cfg.OAuth.Provider
	}

	// A caller that holds a refresh token for the linked provider may supply
	// it explicitly; otherwise the session's stored one is used.
	refreshToken := sess.Providers[providerName].RefreshToken
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		refreshToken = body.RefreshToken
	}

	// sessionFor hands out a copy, so the reload's mutation stays private
	// until the wholesale Replace.
	coordinator := refresh.NewCoordinator(h.provider, func(ctx context.Context, tok *oauth2.Token) error {
		sess.Providers[providerName] = session.ProviderTokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}
		h.sessions.Replace(sess)
		return nil
	}, nil)

	if _, err := coordinator.Refresh(r.Context(), refreshToken); err != nil {
		if errors.Is(err, refresh.ErrNotRefreshable) {
			utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
				"success":       false,
				"error":         "Token is not refreshable",
				"requiresLogin": true,
			})
			return
		}
		logger.Error("Token refresh failed", zap.Error(err))
		utils.WriteJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Failed to refresh token",
		})
		return
	}

	utils.WriteJSON(w, map[string]interface{}{"success": true})
}
