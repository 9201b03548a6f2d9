package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"
)

// Event types pushed to websocket clients
const (
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventMessageDeleted = "message_deleted"
	EventRead           = "read"
	EventJoined         = "joined"
	EventLeft           = "left"
	EventPong           = "pong"
	EventError          = "error"
)

// DefaultClientBuffer is the number of events queued per connection before
// new events are dropped for it
const DefaultClientBuffer = 64

// Event is a realtime message to a websocket client
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// RoomKey identifies the conversation with Counterpart as seen by Participant.
// Only Participant's connections may join it.
type RoomKey struct {
	Participant int64
	Counterpart int64
}

// String returns the wire form "chat_<participant>_<counterpart>"
func (k RoomKey) String() string {
	return fmt.Sprintf("chat_%d_%d", k.Participant, k.Counterpart)
}

// ParseRoomKey parses the wire form of a room key
func ParseRoomKey(s string) (RoomKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || parts[0] != "chat" {
		return RoomKey{}, fmt.Errorf("invalid room %q: %w", s, apperrors.ErrInvalidInput)
	}
	participant, err1 := strconv.ParseInt(parts[1], 10, 64)
	counterpart, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return RoomKey{}, fmt.Errorf("invalid room %q: %w", s, apperrors.ErrInvalidInput)
	}
	return RoomKey{Participant: participant, Counterpart: counterpart}, nil
}

// Client is one websocket connection registered with the hub
type Client struct {
	UserID int64

	send   chan []byte
	rooms  map[RoomKey]struct{}
	closed bool
}

// Send returns the outbound queue. It is closed when the client is
// unregistered.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Hub fans out events to the connections joined to a room
type Hub struct {
	mu         sync.RWMutex
	rooms      map[RoomKey]map[*Client]struct{}
	bufferSize int
	metrics    *Metrics
}

// NewHub creates a hub whose clients queue at most bufferSize events
func NewHub(bufferSize int, metrics *Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultClientBuffer
	}
	return &Hub{
		rooms:      make(map[RoomKey]map[*Client]struct{}),
		bufferSize: bufferSize,
		metrics:    metrics,
	}
}

// Register creates a client for an authenticated user
func (h *Hub) Register(userID int64) *Client {
	c := &Client{
		UserID: userID,
		send:   make(chan []byte, h.bufferSize),
		rooms:  make(map[RoomKey]struct{}),
	}
	h.metrics.connectionOpened()
	log.Info().Int64("user_id", userID).Msg("WebSocket connection registered")
	return c
}

// Unregister removes the client from every room and closes its queue
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	for key := range c.rooms {
		h.removeLocked(key, c)
	}
	c.closed = true
	close(c.send)
	h.metrics.connectionClosed()

	log.Info().Int64("user_id", c.UserID).Msg("WebSocket connection unregistered")
}

// Join subscribes the client to a room. The client must be the room's
// participant.
func (h *Hub) Join(c *Client, key RoomKey) error {
	if key.Participant != c.UserID {
		return fmt.Errorf("user %d cannot join %s: %w", c.UserID, key, apperrors.ErrForbidden)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}
	members, ok := h.rooms[key]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[key] = members
	}
	members[c] = struct{}{}
	c.rooms[key] = struct{}{}
	return nil
}

// Leave unsubscribes the client from a room
func (h *Hub) Leave(c *Client, key RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(key, c)
}

func (h *Hub) removeLocked(key RoomKey, c *Client) {
	delete(c.rooms, key)
	if members, ok := h.rooms[key]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, key)
		}
	}
}

// Publish queues the event on every connection in the room and returns how
// many accepted it. It never blocks: a connection with a full queue misses
// the event.
func (h *Hub) Publish(key RoomKey, ev Event) int {
	ev.Room = key.String()
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("room", ev.Room).Msg("Failed to marshal event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for c := range h.rooms[key] {
		select {
		case c.send <- data:
			delivered++
		default:
			dropped++
			log.Warn().Int64("user_id", c.UserID).Str("room", ev.Room).Str("type", ev.Type).Msg("Client buffer full, event dropped")
		}
	}
	h.metrics.fanout(delivered, dropped)
	return delivered
}

// SendTo queues an event for a single client, reporting whether it was
// accepted
func (h *Hub) SendTo(c *Client, ev Event) bool {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Subscribers returns the number of connections joined to a room
func (h *Hub) Subscribers(key RoomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}
