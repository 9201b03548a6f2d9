package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/cipher"
	"direct-messenger/internal/models"
)

// MessageStore persists encrypted messages
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	Between(ctx context.Context, a, b, sinceID int64) ([]*models.Message, error)
	Last(ctx context.Context, a, b int64) (*models.Message, error)
	MaxID(ctx context.Context, a, b int64) (int64, error)
	MarkRead(ctx context.Context, readerID, senderID int64) (int64, error)
	UnreadCount(ctx context.Context, readerID, senderID int64) (int, error)
	DeleteOwned(ctx context.Context, id, senderID int64) (*models.Message, error)
}

// UserDirectory looks up users by id
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// SendPolicy decides whether sender may address receiver
type SendPolicy interface {
	CanMessage(ctx context.Context, senderID, receiverID int64) (bool, error)
}

// Publisher fans out events to realtime subscribers
type Publisher interface {
	Publish(key RoomKey, ev Event) int
}

// Notifier delivers a message to a receiver with no open connection
type Notifier interface {
	NotifyMessage(ctx context.Context, sender, receiver *models.User, msg *models.Message) error
}

// SendInput represents a message to be sent
type SendInput struct {
	SenderID      int64              `json:"-"`
	ReceiverID    int64              `json:"-"`
	Kind          models.MessageKind `json:"kind"`
	Payload       string             `json:"payload"`
	AttachmentRef *string            `json:"attachment_ref,omitempty"`
}

// pushTimeout bounds one offline push including the sender lookup
const pushTimeout = 10 * time.Second

// MessageService handles message persistence and delivery
type MessageService struct {
	store     MessageStore
	users     UserDirectory
	policy    SendPolicy
	cipher    cipher.Cipher
	stickers  *StickerCatalog
	publisher Publisher
	notifier  Notifier
	metrics   *Metrics
}

// NewMessageService creates a new message service
func NewMessageService(
	store MessageStore,
	users UserDirectory,
	policy SendPolicy,
	c cipher.Cipher,
	stickers *StickerCatalog,
	publisher Publisher,
	metrics *Metrics,
) *MessageService {
	return &MessageService{
		store:     store,
		users:     users,
		policy:    policy,
		cipher:    c,
		stickers:  stickers,
		publisher: publisher,
		metrics:   metrics,
	}
}

// SetNotifier enables push delivery for receivers with no realtime
// subscriber
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Send validates, encrypts and stores a message, then fans it out to the
// receiver's room. The returned record carries the plaintext payload.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if in.AttachmentRef != nil && strings.TrimSpace(*in.AttachmentRef) == "" {
		in.AttachmentRef = nil
	}
	if err := in.Kind.Validate(in.AttachmentRef); err != nil {
		return nil, err
	}

	payload, err := s.normalizePayload(in.Kind, in.Payload)
	if err != nil {
		return nil, err
	}

	receiver, err := s.users.GetByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.policy.CanMessage(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to check send policy: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("user %d cannot message user %d: %w", in.SenderID, in.ReceiverID, apperrors.ErrForbidden)
	}

	ciphertext, err := s.cipher.Encrypt([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	msg := &models.Message{
		SenderID:      in.SenderID,
		ReceiverID:    in.ReceiverID,
		Kind:          in.Kind,
		Ciphertext:    ciphertext,
		AttachmentRef: in.AttachmentRef,
	}
	if err := s.store.Create(ctx, msg); err != nil {
		return nil, err
	}
	msg.Ciphertext = nil
	msg.Payload = payload
	s.metrics.messageSent(msg.Kind)

	log.Debug().
		Int64("message_id", msg.ID).
		Int64("sender_id", msg.SenderID).
		Int64("receiver_id", msg.ReceiverID).
		Str("kind", string(msg.Kind)).
		Msg("Message stored")

	s.deliver(receiver, msg)

	own := *msg
	own.IsOwn = true
	return &own, nil
}

func (s *MessageService) normalizePayload(kind models.MessageKind, payload string) (string, error) {
	switch kind {
	case models.KindText:
		if strings.TrimSpace(payload) == "" {
			return "", fmt.Errorf("message text is empty: %w", apperrors.ErrInvalidInput)
		}
		return payload, nil
	case models.KindSticker:
		id, err := models.ParseStickerPayload(payload)
		if err != nil {
			return "", err
		}
		if _, ok := s.stickers.Get(id); !ok {
			return "", fmt.Errorf("sticker %d does not exist: %w", id, apperrors.ErrInvalidInput)
		}
		return models.StickerPayload(id), nil
	default:
		return strings.TrimSpace(payload), nil
	}
}

// deliver publishes the committed message to the receiver's room and falls
// back to push when nobody is listening
func (s *MessageService) deliver(receiver *models.User, msg *models.Message) {
	if s.publisher == nil {
		return
	}

	event := *msg
	event.IsOwn = false
	delivered := s.publisher.Publish(
		RoomKey{Participant: msg.ReceiverID, Counterpart: msg.SenderID},
		Event{Type: EventNewMessage, Message: &event},
	)
	if delivered > 0 || s.notifier == nil || receiver.PushToken == nil || msg.SenderID == msg.ReceiverID {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		sender, err := s.users.GetByID(ctx, msg.SenderID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", msg.SenderID).Msg("Failed to load sender for push")
			return
		}
		if err := s.notifier.NotifyMessage(ctx, sender, receiver, &event); err != nil {
			log.Error().Err(err).Int64("user_id", receiver.ID).Msg("Failed to send push notification")
		}
	}()
}

// History returns the whole conversation between viewer and peer in order
func (s *MessageService) History(ctx context.Context, viewerID, peerID int64) ([]*models.Message, error) {
	return s.Since(ctx, viewerID, peerID, 0)
}

// Since returns the conversation messages with id above sinceID in order
func (s *MessageService) Since(ctx context.Context, viewerID, peerID, sinceID int64) ([]*models.Message, error) {
	if sinceID < 0 {
		return nil, fmt.Errorf("since id must not be negative: %w", apperrors.ErrInvalidInput)
	}
	messages, err := s.store.Between(ctx, viewerID, peerID, sinceID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		s.decode(viewerID, msg)
	}
	return messages, nil
}

// decode replaces the ciphertext with plaintext, or with the undecryptable
// marker when the row cannot be opened
func (s *MessageService) decode(viewerID int64, msg *models.Message) {
	msg.IsOwn = msg.SenderID == viewerID

	plaintext, err := s.cipher.Decrypt(msg.Ciphertext)
	msg.Ciphertext = nil
	if err != nil {
		var decodeErr *cipher.DecodeError
		if !errors.As(err, &decodeErr) {
			log.Error().Err(err).Int64("message_id", msg.ID).Msg("Unexpected decrypt failure")
		} else {
			log.Warn().Err(err).Int64("message_id", msg.ID).Msg("Message could not be decrypted")
		}
		s.metrics.decodeFailure()
		msg.Payload = models.UndecryptablePayload
		msg.Undecryptable = true
		return
	}
	msg.Payload = string(plaintext)
}

// MarkRead flags every message from peer to reader as read and notifies the
// peer's room
func (s *MessageService) MarkRead(ctx context.Context, readerID, peerID int64) (int64, error) {
	n, err := s.store.MarkRead(ctx, readerID, peerID)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.publisher != nil && readerID != peerID {
		s.publisher.Publish(
			RoomKey{Participant: peerID, Counterpart: readerID},
			Event{Type: EventRead, UserID: readerID},
		)
	}
	return n, nil
}

// UnreadCount counts messages from peer that reader has not read
func (s *MessageService) UnreadCount(ctx context.Context, readerID, peerID int64) (int, error) {
	return s.store.UnreadCount(ctx, readerID, peerID)
}

// LastPreview renders the newest message of the conversation, or nil when
// there is none
func (s *MessageService) LastPreview(ctx context.Context, viewerID, peerID int64) (*models.Preview, error) {
	msg, err := s.store.Last(ctx, viewerID, peerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.decode(viewerID, msg)

	return &models.Preview{
		Text:  s.previewText(msg),
		Time:  msg.CreatedAt.Format(models.PreviewTimeLayout),
		IsOwn: msg.IsOwn,
	}, nil
}

func (s *MessageService) previewText(msg *models.Message) string {
	if msg.Undecryptable {
		return msg.Payload
	}
	switch msg.Kind {
	case models.KindImage:
		return "[image]"
	case models.KindFile:
		return "[file]"
	case models.KindSticker:
		if id, err := models.ParseStickerPayload(msg.Payload); err == nil {
			if sticker, ok := s.stickers.Get(id); ok {
				return "[sticker] " + sticker.Emoji
			}
		}
		return "[sticker]"
	}
	return msg.Payload
}

// LatestID returns the highest message id of the conversation, or 0
func (s *MessageService) LatestID(ctx context.Context, a, b int64) (int64, error) {
	return s.store.MaxID(ctx, a, b)
}

// Delete removes a message sent by requester and tells the receiver's room
func (s *MessageService) Delete(ctx context.Context, requesterID, messageID int64) error {
	msg, err := s.store.DeleteOwned(ctx, messageID, requesterID)
	if err != nil {
		return err
	}

	log.Info().Int64("message_id", msg.ID).Int64("user_id", requesterID).Msg("Message deleted")

	if s.publisher != nil {
		s.publisher.Publish(
			RoomKey{Participant: msg.ReceiverID, Counterpart: msg.SenderID},
			Event{Type: EventMessageDeleted, MessageID: msg.ID},
		)
	}
	return nil
}
