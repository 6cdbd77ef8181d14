package directory

import (
	"encoding/json"
	"net/http"

	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/utils"
	"go.uber.org/zap"
)

// Handler is the receiving side of directory propagation: it applies inject
// and remove calls to the service's local user cache.
type Handler struct {
	store         Store
	serviceSecret string
}

// NewHandler creates the receiver handler over the service's cache.
func NewHandler(store Store, serviceSecret string) *Handler {
	return &Handler{store: store, serviceSecret: serviceSecret}
}

// RegisterRoutes registers the injection receiver endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(InjectionPath, h.HandleInjection)
}

// HandleInjection applies one propagation event. The call authenticates with
// the shared service secret rather than a user token.
func (h *Handler) HandleInjection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get(ServiceSecretHeader) != h.serviceSecret {
		utils.WriteError(w, "unauthorized", "Invalid service secret", http.StatusUnauthorized)
		return
	}

	var req injectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "inject":
		if req.UserData == nil || req.UserData.Email == "" {
			utils.WriteError(w, "invalid_request", "userData with email is required", http.StatusBadRequest)
			return
		}
		h.store.Upsert(*req.UserData)
		logger.Info("Injected user record",
			zap.String("email", req.UserData.Email),
			zap.String("id", req.UserData.ID),
		)
	case "remove":
		if req.UserEmail == "" {
			utils.WriteError(w, "invalid_request", "userEmail is required", http.StatusBadRequest)
			return
		}
		h.store.Remove(req.UserEmail)
		logger.Info("Removed user record", zap.String("email", req.UserEmail))
	default:
		utils.WriteError(w, "invalid_request", "Unknown action", http.StatusBadRequest)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{"success": true})
}
