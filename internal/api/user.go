package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/model"
	"github.com/nhle/mailmate/internal/store"
)

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type userResponse struct {
	Success bool               `json:"success"`
	User    *model.UserProfile `json:"user"`
}

type historyEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	Success  bool           `json:"success"`
	Messages []historyEntry `json:"messages"`
}

// Register creates a profile. Every field is required.
//
// POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var reg model.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var verr *model.ValidationError
	if err := reg.Validate(); errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Missing required field: %s", verr.Field))
		return
	}

	err := h.store.CreateUser(r.Context(), reg)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		h.log.Error("registration failed", zap.String("email", model.NormalizeEmail(reg.Email)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	h.log.Info("user registered", zap.String("email", model.NormalizeEmail(reg.Email)))
	writeJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Message: "Registration successful! You can now send emails to your " +
			"support partner to start your conversation.",
	})
}

// GetUser returns a profile.
//
// GET /api/user/{email}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	email := model.NormalizeEmail(chi.URLParam(r, "email"))

	user, err := h.store.GetUser(r.Context(), email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		h.log.Error("loading user failed", zap.String("email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

// GetHistory returns the conversation for a registered user, oldest first.
// An optional limit query parameter caps the number of messages.
//
// GET /api/history/{email}
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	email := model.NormalizeEmail(chi.URLParam(r, "email"))

	limit := store.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	exists, err := h.store.UserExists(r.Context(), email)
	if err != nil {
		h.log.Error("checking user failed", zap.String("email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	messages, err := h.store.GetHistory(r.Context(), email, limit)
	if err != nil {
		h.log.Error("loading history failed", zap.String("email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	entries := make([]historyEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, historyEntry{
			Role:      msg.Role.StorageTag(),
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: entries})
}
