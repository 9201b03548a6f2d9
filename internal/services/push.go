package services

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"

	"direct-messenger/internal/config"
	"direct-messenger/internal/models"
)

// PushClient sends APNs notifications
type PushClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// PushNotifier tells offline receivers about new messages over APNs. The
// plaintext never leaves the server; the alert only names the sender.
type PushNotifier struct {
	client PushClient
	topic  string
}

// NewPushNotifier creates a notifier from a .p12 certificate
func NewPushNotifier(cfg config.PushConfig) (*PushNotifier, error) {
	cert, err := certificate.FromP12File(cfg.CertFile, cfg.CertPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs certificate: %w", err)
	}

	client := apns2.NewClient(cert)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewPushNotifierWithClient(client, cfg.Topic), nil
}

// NewPushNotifierWithClient creates a notifier on an explicit client
func NewPushNotifierWithClient(client PushClient, topic string) *PushNotifier {
	return &PushNotifier{client: client, topic: topic}
}

// NotifyMessage pushes a new message alert to the receiver's device
func (p *PushNotifier) NotifyMessage(ctx context.Context, sender, receiver *models.User, msg *models.Message) error {
	if receiver.PushToken == nil || *receiver.PushToken == "" {
		return nil
	}

	body := "New message"
	switch msg.Kind {
	case models.KindImage:
		body = "Sent a photo"
	case models.KindFile:
		body = "Sent a file"
	case models.KindSticker:
		body = "Sent a sticker"
	}

	notification := &apns2.Notification{
		DeviceToken: *receiver.PushToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertTitle(sender.Nickname).
			AlertBody(body).
			Sound("default").
			ThreadID(fmt.Sprintf("chat_%d", sender.ID)).
			Custom("sender_id", sender.ID).
			Custom("message_id", msg.ID),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}
