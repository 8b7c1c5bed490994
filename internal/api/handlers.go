package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tokengate-io/tokengate/internal/authorizer"
	"github.com/tokengate-io/tokengate/internal/notify"
	"github.com/tokengate-io/tokengate/internal/token"
)

type actionRequest struct {
	Email string `json:"email"`
	Kind  string `json:"kind"`
}

type completeRequest struct {
	Token       string `json:"token"`
	Kind        string `json:"kind"`
	NewPassword string `json:"new_password,omitempty"`
}

// RequestActionHandler starts an action flow: it mints a token for the
// subject and delivers the link. The response does not reveal whether the
// address belongs to an account.
func (api *Api) RequestActionHandler(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !ValidateEmail(req.Email) {
		http.Error(w, "Invalid email format", http.StatusBadRequest)
		return
	}
	kind := token.ActionKind(req.Kind)
	if !kind.IsValid() {
		http.Error(w, "Unknown action kind", http.StatusBadRequest)
		return
	}

	if err := api.authorizer.RequestAction(r.Context(), req.Email, kind); err != nil {
		api.writeActionError(w, r, err)
		return
	}

	writeAccepted(w)
}

// ResendActionHandler re-delivers an outstanding action link without
// issuing a new token.
func (api *Api) ResendActionHandler(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !ValidateEmail(req.Email) {
		http.Error(w, "Invalid email format", http.StatusBadRequest)
		return
	}
	kind := token.ActionKind(req.Kind)
	if !kind.IsValid() {
		http.Error(w, "Unknown action kind", http.StatusBadRequest)
		return
	}

	if err := api.authorizer.ResendAction(r.Context(), req.Email, kind); err != nil {
		api.writeActionError(w, r, err)
		return
	}

	writeAccepted(w)
}

// CompleteActionHandler consumes a presented token and applies the guarded
// mutation. All token-validation failures collapse into one generic message;
// the logs keep the specific kind.
func (api *Api) CompleteActionHandler(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}
	kind := token.ActionKind(req.Kind)
	if !kind.IsValid() {
		http.Error(w, "Unknown action kind", http.StatusBadRequest)
		return
	}
	if kind == token.KindPasswordReset && !ValidatePassword(req.NewPassword) {
		http.Error(w, "Password does not meet requirements", http.StatusBadRequest)
		return
	}

	payload := authorizer.CompletionPayload{NewPassword: req.NewPassword}
	if err := api.authorizer.CompleteAction(r.Context(), req.Token, kind, payload); err != nil {
		api.writeActionError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeActionError maps core errors onto user-safe responses. The split is
// user-correctable (restart the flow) versus operational, never more
// specific than that.
func (api *Api) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrNotFound),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrAlreadyConsumed),
		errors.Is(err, authorizer.ErrActionMismatch):
		http.Error(w, "Invalid or expired token", http.StatusUnprocessableEntity)
	case errors.Is(err, token.ErrStoreUnavailable):
		api.logger.Error("token store unavailable", zap.Error(err))
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, notify.ErrDeliveryFailed):
		http.Error(w, "Could not deliver notification", http.StatusBadGateway)
	case errors.Is(err, authorizer.ErrApplyFailed):
		http.Error(w, "Could not complete the action, please restart the flow", http.StatusInternalServerError)
	default:
		api.logger.Error("unexpected action error", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
