package services

import (
	"context"

	"direct-messenger/internal/models"
)

// SyncService answers poll clients that track the last delivered message id
type SyncService struct {
	messages *MessageService
	presence *PresenceTracker
}

// NewSyncService creates a new sync service
func NewSyncService(messages *MessageService, presence *PresenceTracker) *SyncService {
	return &SyncService{
		messages: messages,
		presence: presence,
	}
}

// Delta returns the conversation messages newer than sinceID together with
// the peer's presence
func (s *SyncService) Delta(ctx context.Context, viewerID, peerID, sinceID int64) (*models.Delta, error) {
	messages, err := s.messages.Since(ctx, viewerID, peerID, sinceID)
	if err != nil {
		return nil, err
	}

	status, err := s.presence.Status(ctx, peerID)
	if err != nil {
		return nil, err
	}

	return &models.Delta{Messages: messages, Presence: status}, nil
}

// LatestID returns the highest message id of the conversation, or 0
func (s *SyncService) LatestID(ctx context.Context, viewerID, peerID int64) (int64, error) {
	return s.messages.LatestID(ctx, viewerID, peerID)
}
