package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"direct-messenger/internal/models"
)

type fakePushClient struct {
	sent   []*apns2.Notification
	status int
}

func (f *fakePushClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.sent = append(f.sent, n)
	return &apns2.Response{StatusCode: f.status, Reason: "BadDeviceToken"}, nil
}

func TestPushNotifier_NotifyMessage(t *testing.T) {
	client := &fakePushClient{status: http.StatusOK}
	notifier := NewPushNotifierWithClient(client, "com.example.messenger")
	token := "device-token"
	sender := &models.User{ID: 1, Nickname: "ally"}
	receiver := &models.User{ID: 2, PushToken: &token}
	msg := &models.Message{ID: 9, Kind: models.KindImage, Payload: "private"}

	require.NoError(t, notifier.NotifyMessage(context.Background(), sender, receiver, msg))
	require.Len(t, client.sent, 1)
	n := client.sent[0]
	assert.Equal(t, "device-token", n.DeviceToken)
	assert.Equal(t, "com.example.messenger", n.Topic)

	body, err := json.Marshal(n.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ally")
	assert.Contains(t, string(body), "Sent a photo")
	assert.NotContains(t, string(body), "private")
}

func TestPushNotifier_SkipsWithoutToken(t *testing.T) {
	client := &fakePushClient{status: http.StatusOK}
	notifier := NewPushNotifierWithClient(client, "topic")

	err := notifier.NotifyMessage(context.Background(), &models.User{ID: 1}, &models.User{ID: 2}, &models.Message{Kind: models.KindText})
	require.NoError(t, err)
	assert.Empty(t, client.sent)
}

func TestPushNotifier_Rejected(t *testing.T) {
	client := &fakePushClient{status: http.StatusBadRequest}
	notifier := NewPushNotifierWithClient(client, "topic")
	token := "stale"

	err := notifier.NotifyMessage(context.Background(), &models.User{ID: 1}, &models.User{ID: 2, PushToken: &token}, &models.Message{Kind: models.KindText})
	require.ErrorContains(t, err, "BadDeviceToken")
}
