package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"direct-messenger/internal/middleware"
	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

// FriendHandler handles friend graph HTTP requests
type FriendHandler struct {
	friendService FriendAPI
}

// NewFriendHandler creates a new friend handler
func NewFriendHandler(friendService FriendAPI) *FriendHandler {
	return &FriendHandler{friendService: friendService}
}

// List handles GET /api/v1/friends?status=accepted
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.FriendStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.FriendStatusAccepted
	}

	friends, err := h.friendService.ListFriends(ctx, middleware.GetUserID(ctx), status)
	if err != nil {
		respondServiceError(w, r, err, "Failed to list friends")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

// Incoming handles GET /api/v1/friends/requests
func (h *FriendHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.friendService.ListIncomingRequests(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list friend requests")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

// Request handles POST /api/v1/friends/requests
func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.FriendRequestInput
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, "Failed to create friend request")
		return
	}
	if req.Handle == "" {
		respondError(w, "handle is required", http.StatusBadRequest)
		return
	}

	edge, err := h.friendService.Request(ctx, middleware.GetUserID(ctx), req.Handle)
	if err != nil {
		respondServiceError(w, r, err, "Failed to create friend request")
		return
	}
	respondJSON(w, http.StatusCreated, edge)
}

// Respond handles POST /api/v1/friends/requests/{id}/{action}
func (h *FriendHandler) Respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	edgeID, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to respond to friend request")
		return
	}
	action := models.FriendAction(chi.URLParam(r, "action"))

	edge, err := h.friendService.Respond(ctx, edgeID, middleware.GetUserID(ctx), action)
	if err != nil {
		respondServiceError(w, r, err, "Failed to respond to friend request")
		return
	}
	respondJSON(w, http.StatusOK, edge)
}

// Unfriend handles DELETE /api/v1/friends/{friend_id}
func (h *FriendHandler) Unfriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	friendID, err := pathID(r, "friend_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to remove friend")
		return
	}

	if err := h.friendService.Unfriend(ctx, middleware.GetUserID(ctx), friendID); err != nil {
		respondServiceError(w, r, err, "Failed to remove friend")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
