package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"direct-messenger/internal/apperrors"
)

// MessageKind tags the payload of a message
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindSticker MessageKind = "sticker"
	KindFile    MessageKind = "file"
)

// UndecryptablePayload replaces the payload of a row that failed to decrypt
const UndecryptablePayload = "[undecryptable message]"

const stickerPrefix = "sticker:"

// NeedsAttachment reports whether the kind requires an attachment reference
func (k MessageKind) NeedsAttachment() bool {
	return k == KindImage || k == KindFile
}

// Validate checks the kind tag and the attachment rule for it
func (k MessageKind) Validate(attachmentRef *string) error {
	switch k {
	case KindText, KindImage, KindSticker, KindFile:
	default:
		return fmt.Errorf("unknown message kind %q: %w", k, apperrors.ErrInvalidInput)
	}

	hasRef := attachmentRef != nil && strings.TrimSpace(*attachmentRef) != ""
	if k.NeedsAttachment() && !hasRef {
		return fmt.Errorf("%s message requires an attachment reference: %w", k, apperrors.ErrInvalidInput)
	}
	if !k.NeedsAttachment() && hasRef {
		return fmt.Errorf("%s message cannot carry an attachment reference: %w", k, apperrors.ErrInvalidInput)
	}
	return nil
}

// StickerPayload encodes a sticker id as a message payload
func StickerPayload(id int64) string {
	return stickerPrefix + strconv.FormatInt(id, 10)
}

// ParseStickerPayload extracts the sticker id from a payload. Both the
// "sticker:<id>" form and a bare id are accepted.
func ParseStickerPayload(payload string) (int64, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(payload), stickerPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid sticker payload %q: %w", payload, apperrors.ErrInvalidInput)
	}
	return id, nil
}

// Message is a conversation event. Payload always holds plaintext once it has
// left the message store; Ciphertext is only populated between the
// repository and the store.
type Message struct {
	ID            int64       `json:"id"`
	SenderID      int64       `json:"sender_id"`
	ReceiverID    int64       `json:"receiver_id"`
	Kind          MessageKind `json:"kind"`
	Payload       string      `json:"payload"`
	Ciphertext    []byte      `json:"-"`
	AttachmentRef *string     `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Read          bool        `json:"read"`
	IsOwn         bool        `json:"is_own"`
	Undecryptable bool        `json:"undecryptable,omitempty"`
}

// Preview is the last-message line shown in the conversation list
type Preview struct {
	Text  string `json:"text"`
	Time  string `json:"time"`
	IsOwn bool   `json:"is_own"`
}

// PreviewTimeLayout renders time only, no date
const PreviewTimeLayout = "15:04"

// Delta is the answer to a sync query
type Delta struct {
	Messages []*Message `json:"new_messages"`
	Presence Presence   `json:"user_status"`
}
