package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"direct-messenger/internal/middleware"
	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

// multipartOverhead is room for form fields and boundaries on top of the
// file size limit
const multipartOverhead = 1 << 20

// StickerAPI lists the sticker catalog
type StickerAPI interface {
	List() []*models.Sticker
}

// MessageHandler handles conversation HTTP requests
type MessageHandler struct {
	messages    MessageAPI
	sync        SyncAPI
	attachments AttachmentAPI
	stickers    StickerAPI
}

// NewMessageHandler creates a new message handler. attachments may be nil
// when object storage is not configured.
func NewMessageHandler(messages MessageAPI, sync SyncAPI, attachments AttachmentAPI, stickers StickerAPI) *MessageHandler {
	return &MessageHandler{
		messages:    messages,
		sync:        sync,
		attachments: attachments,
		stickers:    stickers,
	}
}

// History handles GET /api/v1/conversations/{peer_id}/messages. Opening a
// conversation marks the peer's messages as read.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to get messages")
		return
	}

	messages, err := h.messages.History(ctx, userID, peerID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get messages")
		return
	}

	if _, err := h.messages.MarkRead(ctx, userID, peerID); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Int64("peer_id", peerID).Msg("Failed to mark messages read")
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Send handles POST /api/v1/conversations/{peer_id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to send message")
		return
	}

	var req services.SendInput
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, "Failed to send message")
		return
	}
	req.SenderID = middleware.GetUserID(ctx)
	req.ReceiverID = peerID

	msg, err := h.messages.Send(ctx, req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to send message")
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// Upload handles POST /api/v1/conversations/{peer_id}/attachments. The file
// is stored first, then sent as an image or file message.
func (h *MessageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if h.attachments == nil {
		respondError(w, "Attachments are not configured", http.StatusServiceUnavailable)
		return
	}

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to upload attachment")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.attachments.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := formFile(r, "file")
	if err != nil {
		respondServiceError(w, r, err, "Failed to upload attachment")
		return
	}
	defer file.Close()

	if max := h.attachments.MaxBytes(); max > 0 && header.Size > max {
		respondError(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	stored, err := h.attachments.Store(ctx, userID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		respondServiceError(w, r, err, "Failed to upload attachment")
		return
	}

	payload := strings.TrimSpace(r.FormValue("caption"))
	if payload == "" {
		payload = stored.Filename
	}

	msg, err := h.messages.Send(ctx, services.SendInput{
		SenderID:      userID,
		ReceiverID:    peerID,
		Kind:          stored.Kind,
		Payload:       payload,
		AttachmentRef: &stored.Ref,
	})
	if err != nil {
		respondServiceError(w, r, err, "Failed to send attachment")
		return
	}

	log.Info().
		Int64("user_id", userID).
		Int64("message_id", msg.ID).
		Str("ref", stored.Ref).
		Msg("Attachment sent")

	respondJSON(w, http.StatusCreated, msg)
}

// Attachment handles GET /api/v1/attachments/* by redirecting to a signed URL
func (h *MessageHandler) Attachment(w http.ResponseWriter, r *http.Request) {
	if h.attachments == nil {
		respondError(w, "Attachments are not configured", http.StatusServiceUnavailable)
		return
	}

	url, err := h.attachments.URL(r.Context(), "attachments/"+chi.URLParam(r, "*"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get attachment")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Delete handles DELETE /api/v1/messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to delete message")
		return
	}

	if err := h.messages.Delete(ctx, middleware.GetUserID(ctx), id); err != nil {
		respondServiceError(w, r, err, "Failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/v1/conversations/{peer_id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to mark messages read")
		return
	}

	n, err := h.messages.MarkRead(ctx, middleware.GetUserID(ctx), peerID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to mark messages read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// Updates handles GET /api/v1/conversations/{peer_id}/updates?since_id=
func (h *MessageHandler) Updates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to check updates")
		return
	}

	var sinceID int64
	if raw := r.URL.Query().Get("since_id"); raw != "" {
		sinceID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, "since_id must be an integer", http.StatusBadRequest)
			return
		}
	}

	delta, err := h.sync.Delta(ctx, middleware.GetUserID(ctx), peerID, sinceID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to check updates")
		return
	}
	respondJSON(w, http.StatusOK, delta)
}

// LatestID handles GET /api/v1/conversations/{peer_id}/latest_id
func (h *MessageHandler) LatestID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		respondServiceError(w, r, err, "Failed to get latest message id")
		return
	}

	id, err := h.sync.LatestID(ctx, middleware.GetUserID(ctx), peerID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get latest message id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"last_message_id": id})
}

// Stickers handles GET /api/v1/stickers
func (h *MessageHandler) Stickers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"stickers": h.stickers.List()})
}
