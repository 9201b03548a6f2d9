package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/middleware"
	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

// UserAPI is the user service as used by the handlers
type UserAPI interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Search(ctx context.Context, viewerID int64, q string) ([]*models.User, error)
	UpdatePushToken(ctx context.Context, userID int64, token string) error
	ValidateJWT(token string) (int64, error)
}

// PresenceAPI is the presence tracker as used by the handlers
type PresenceAPI interface {
	Status(ctx context.Context, userID int64) (models.Presence, error)
	Touch(ctx context.Context, userID int64) error
}

// FriendAPI is the friend service as used by the handlers
type FriendAPI interface {
	Request(ctx context.Context, requesterID int64, handle string) (*models.FriendEdge, error)
	Respond(ctx context.Context, edgeID, responderID int64, action models.FriendAction) (*models.FriendEdge, error)
	Unfriend(ctx context.Context, userID, friendID int64) error
	ListFriends(ctx context.Context, userID int64, status models.FriendStatus) ([]*models.FriendSummary, error)
	ListIncomingRequests(ctx context.Context, userID int64) ([]*models.IncomingRequest, error)
}

// MessageAPI is the message service as used by the handlers
type MessageAPI interface {
	Send(ctx context.Context, in services.SendInput) (*models.Message, error)
	History(ctx context.Context, viewerID, peerID int64) ([]*models.Message, error)
	MarkRead(ctx context.Context, readerID, peerID int64) (int64, error)
	Delete(ctx context.Context, requesterID, messageID int64) error
}

// SyncAPI is the sync service as used by the handlers
type SyncAPI interface {
	Delta(ctx context.Context, viewerID, peerID, sinceID int64) (*models.Delta, error)
	LatestID(ctx context.Context, viewerID, peerID int64) (int64, error)
}

// AttachmentAPI is the attachment store as used by the handlers
type AttachmentAPI interface {
	Store(ctx context.Context, userID int64, filename, contentType string, body io.Reader, size int64) (*services.StoredAttachment, error)
	URL(ctx context.Context, ref string) (string, error)
	MaxBytes() int64
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends v as a JSON body
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps a service error to an HTTP status. An authenticated caller
// acting outside its rights gets 403 rather than 401.
func statusFor(ctx context.Context, err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrUnauthorized):
		if middleware.GetUserID(ctx) != 0 {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrSelfReference), errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondServiceError logs err and sends the mapped status. Internal errors
// are not exposed.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := statusFor(r.Context(), err)
	event := log.Warn()
	message := err.Error()
	if status == http.StatusInternalServerError {
		event = log.Error()
		message = "Internal server error"
	}
	event.Err(err).
		Int64("user_id", middleware.GetUserID(r.Context())).
		Str("path", r.URL.Path).
		Msg(action)

	respondError(w, message, status)
}

// pathID parses a positive numeric URL parameter
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, apperrors.ErrInvalidInput)
	}
	return id, nil
}

// decodeJSON reads a JSON request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

// formFile opens the uploaded file field of a multipart request
func formFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, fmt.Errorf("%s is required: %w", field, apperrors.ErrInvalidInput)
	}
	return file, header, nil
}
