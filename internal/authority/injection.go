package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/utils"
	"go.uber.org/zap"
)

// injectionTriggerRequest mirrors the propagation wire body; the authority's
// endpoint accepts the same shape and fans it out.
type injectionTriggerRequest struct {
	Action    string            `json:"action"`
	UserData  *directory.Record `json:"userData,omitempty"`
	UserEmail string            `json:"userEmail,omitempty"`
}

// HandleInjectionTrigger fans a user-directory change out to every
// downstream service. Downstream failures are embedded in results; the call
// itself only fails on a malformed request.
func (h *Handler) HandleInjectionTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get(directory.ServiceSecretHeader) != h.cfg.Auth.ServiceSecret {
		utils.WriteError(w, "unauthorized", "Invalid service secret", http.StatusUnauthorized)
		return
	}

	var req injectionTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	var results []directory.TargetResult
	switch req.Action {
	case "inject":
		if req.UserData == nil || req.UserData.Email == "" {
			utils.WriteError(w, "invalid_request", "userData with email is required", http.StatusBadRequest)
			return
		}
		h.store.Upsert(*req.UserData)
		results = h.propagator.Inject(r.Context(), *req.UserData)

	case "remove":
		if req.UserEmail == "" {
			utils.WriteError(w, "invalid_request", "userEmail is required", http.StatusBadRequest)
			return
		}
		results = h.remove(r.Context(), req.UserEmail)

	default:
		utils.WriteError(w, "invalid_request", "Unknown action", http.StatusBadRequest)
		return
	}

	h.logResults(req.Action, results)
	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// remove cleans up the authority's own state first (self-removal), then fans
// the removal out. Removal is keyed by email because a stable user id may no
// longer exist at deletion time.
func (h *Handler) remove(ctx context.Context, email string) []directory.TargetResult {
	removed := h.sessions.DeleteByEmail(email)
	h.store.Remove(email)
	logger.Info("Removed user from authority state",
		zap.String("email", email),
		zap.Int("sessions", removed),
	)
	return h.propagator.Remove(ctx, email)
}

// bearerToken extracts a Bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
