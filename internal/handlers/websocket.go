package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/middleware"
	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 64 << 10
)

var errUnknownType = fmt.Errorf("unknown message type: %w", apperrors.ErrInvalidInput)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// InboundMessage is a client-to-server websocket frame
type InboundMessage struct {
	Type          string             `json:"type"`
	Room          string             `json:"room,omitempty"`
	CounterpartID int64              `json:"counterpart_id,omitempty"`
	ReceiverID    int64              `json:"receiver_id,omitempty"`
	Kind          models.MessageKind `json:"kind,omitempty"`
	Payload       string             `json:"payload,omitempty"`
	AttachmentRef *string            `json:"attachment_ref,omitempty"`
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub       *services.Hub
	validator middleware.TokenValidator
	messages  MessageAPI
	presence  PresenceAPI
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.Hub,
	validator middleware.TokenValidator,
	messages MessageAPI,
	presence PresenceAPI,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		validator: validator,
		messages:  messages,
		presence:  presence,
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.validator)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.Register(userID)
	go h.writePump(conn, client)
	defer h.hub.Unregister(client)

	// Connection context is detached from the request, which ends at upgrade
	ctx := middleware.WithUserID(context.Background(), userID)
	if err := h.presence.Touch(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to record activity")
	}

	log.Info().Int64("user_id", userID).Msg("WebSocket connection established")

	h.readPump(ctx, conn, client)
}

func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, client *services.Client) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Int64("user_id", client.UserID).Msg("WebSocket error")
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, client, msg); err != nil {
			log.Warn().Err(err).Int64("user_id", client.UserID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(client, clientMessage(err))
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, client *services.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, client *services.Client, msg InboundMessage) error {
	switch msg.Type {
	case "join_room", "leave_room":
		key, err := roomFor(client.UserID, msg)
		if err != nil {
			return err
		}
		if msg.Type == "leave_room" {
			h.hub.Leave(client, key)
			h.hub.SendTo(client, services.Event{Type: services.EventLeft, Room: key.String()})
			return nil
		}
		if err := h.hub.Join(client, key); err != nil {
			return err
		}
		h.hub.SendTo(client, services.Event{Type: services.EventJoined, Room: key.String()})
		return nil

	case "send_message":
		sent, err := h.messages.Send(ctx, services.SendInput{
			SenderID:      client.UserID,
			ReceiverID:    msg.ReceiverID,
			Kind:          msg.Kind,
			Payload:       msg.Payload,
			AttachmentRef: msg.AttachmentRef,
		})
		if err != nil {
			return err
		}
		h.hub.SendTo(client, services.Event{Type: services.EventMessageSent, Message: sent})
		return nil

	case "ping":
		if err := h.presence.Touch(ctx, client.UserID); err != nil {
			return err
		}
		h.hub.SendTo(client, services.Event{Type: services.EventPong, UserID: client.UserID})
		return nil
	}

	return errUnknownType
}

// roomFor resolves the room named by a join or leave frame. A bare
// counterpart id is taken from the connection's own perspective.
func roomFor(userID int64, msg InboundMessage) (services.RoomKey, error) {
	if msg.Room != "" {
		return services.ParseRoomKey(msg.Room)
	}
	if msg.CounterpartID <= 0 {
		return services.RoomKey{}, fmt.Errorf("room or counterpart_id is required: %w", apperrors.ErrInvalidInput)
	}
	return services.RoomKey{Participant: userID, Counterpart: msg.CounterpartID}, nil
}

// clientMessage hides internal failures from websocket clients
func clientMessage(err error) string {
	if statusFor(context.Background(), err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

// sendError sends an error event to the connection
func (h *WebSocketHandler) sendError(client *services.Client, message string) {
	h.hub.SendTo(client, services.Event{Type: services.EventError, Error: message})
}
