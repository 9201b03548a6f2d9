package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"direct-messenger/internal/middleware"
	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService UserAPI
	presence    PresenceAPI
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService UserAPI, presence PresenceAPI) *UserHandler {
	return &UserHandler{
		userService: userService,
		presence:    presence,
	}
}

// Register handles POST /api/v1/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, "Failed to register user")
		return
	}

	res, err := h.userService.Register(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to register user")
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

// Login handles POST /api/v1/sessions
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, "Failed to log in")
		return
	}

	res, err := h.userService.Login(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to log in")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// Me handles GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdatePushTokenRequest represents the request body for push registration
type UpdatePushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// UpdatePushToken handles PUT /api/v1/users/me/push_token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdatePushTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, "Failed to update push token")
		return
	}

	if err := h.userService.UpdatePushToken(ctx, userID, req.PushToken); err != nil {
		respondServiceError(w, r, err, "Failed to update push token")
		return
	}

	log.Info().Int64("user_id", userID).Bool("cleared", req.PushToken == "").Msg("Push token updated")
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/users/search?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.userService.Search(ctx, middleware.GetUserID(ctx), r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to search users")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// PresenceResponse represents a user's presence
type PresenceResponse struct {
	UserID int64           `json:"user_id"`
	Status models.Presence `json:"status"`
}

// Presence handles GET /api/v1/users/{id}/presence
func (h *UserHandler) Presence(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to get presence")
		return
	}

	status, err := h.presence.Status(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get presence")
		return
	}
	respondJSON(w, http.StatusOK, PresenceResponse{UserID: id, Status: status})
}

// Ping handles POST /api/v1/presence/ping. The auth middleware has already
// recorded the activity.
func (h *UserHandler) Ping(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PresenceResponse{
		UserID: middleware.GetUserID(r.Context()),
		Status: models.PresenceOnline,
	})
}
