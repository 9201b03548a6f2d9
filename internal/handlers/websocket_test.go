package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"direct-messenger/internal/models"
	"direct-messenger/internal/services"
)

func newWSServer(t *testing.T, messages MessageAPI) (*httptest.Server, *services.Hub) {
	t.Helper()
	hub := services.NewHub(services.DefaultClientBuffer, nil)
	h := NewWebSocketHandler(hub, &stubUsers{}, messages, &stubPresence{})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func readEvent(t *testing.T, conn *websocket.Conn) services.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev services.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	srv, _ := newWSServer(t, &stubMessages{})
	_, err := dial(t, srv, "bogus")
	assert.Error(t, err)
}

func TestWebSocket_JoinAndReceive(t *testing.T) {
	srv, hub := newWSServer(t, &stubMessages{})
	conn, err := dial(t, srv, "tok")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "join_room", CounterpartID: 2}))
	ev := readEvent(t, conn)
	assert.Equal(t, services.EventJoined, ev.Type)
	assert.Equal(t, "chat_1_2", ev.Room)

	key := services.RoomKey{Participant: 1, Counterpart: 2}
	require.Equal(t, 1, hub.Subscribers(key))
	assert.Equal(t, 1, hub.Publish(key, services.Event{Type: services.EventNewMessage, Message: &models.Message{ID: 5}}))

	ev = readEvent(t, conn)
	assert.Equal(t, services.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(5), ev.Message.ID)
}

func TestWebSocket_ForeignRoomIsRefused(t *testing.T) {
	srv, hub := newWSServer(t, &stubMessages{})
	conn, err := dial(t, srv, "tok")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "join_room", Room: "chat_2_1"}))
	ev := readEvent(t, conn)
	assert.Equal(t, services.EventError, ev.Type)
	assert.Zero(t, hub.Subscribers(services.RoomKey{Participant: 2, Counterpart: 1}))
}

func TestWebSocket_SendPingAndUnknown(t *testing.T) {
	srv, _ := newWSServer(t, &stubMessages{})
	conn, err := dial(t, srv, "tok")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "send_message", ReceiverID: 2, Kind: models.KindText, Payload: "hi"}))
	ev := readEvent(t, conn)
	assert.Equal(t, services.EventMessageSent, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hi", ev.Message.Payload)
	assert.Equal(t, int64(1), ev.Message.SenderID)
	assert.Equal(t, int64(2), ev.Message.ReceiverID)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "ping"}))
	ev = readEvent(t, conn)
	assert.Equal(t, services.EventPong, ev.Type)
	assert.Equal(t, int64(1), ev.UserID)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "dance"}))
	ev = readEvent(t, conn)
	assert.Equal(t, services.EventError, ev.Type)
	assert.Contains(t, ev.Error, "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = readEvent(t, conn)
	assert.Equal(t, "Invalid message format", ev.Error)
}
