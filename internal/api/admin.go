package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tokengate-io/tokengate/internal/token"
)

type invalidateRequest struct {
	SubjectID int64  `json:"subject_id"`
	Kind      string `json:"kind"`
}

// InvalidateHandler expires any live token for a (subject, kind) pair
// without consuming it. Operators call this when an account is locked.
func (api *Api) InvalidateHandler(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.SubjectID <= 0 {
		http.Error(w, "subject_id is required", http.StatusBadRequest)
		return
	}
	kind := token.ActionKind(req.Kind)
	if !kind.IsValid() {
		http.Error(w, "Unknown action kind", http.StatusBadRequest)
		return
	}

	if err := api.authorizer.InvalidateActions(r.Context(), req.SubjectID, kind); err != nil {
		api.writeActionError(w, r, err)
		return
	}

	api.logger.Info("tokens invalidated by operator",
		zap.Int64("subject_id", req.SubjectID),
		zap.String("kind", req.Kind),
	)
	w.WriteHeader(http.StatusNoContent)
}
