package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/pipeline"
)

type checkResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Report  pipeline.CycleReport `json:"report"`
}

// CheckEmails runs one mail cycle and waits for it to finish.
//
// POST /api/check-emails
func (h *Handler) CheckEmails(w http.ResponseWriter, r *http.Request) {
	report, err := h.cycles.RunNow(r.Context())
	if err != nil {
		h.log.Error("manual email check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Success: true,
		Message: "Email check completed",
		Report:  report,
	})
}
