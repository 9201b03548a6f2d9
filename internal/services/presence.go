package services

import (
	"context"
	"fmt"
	"time"

	"direct-messenger/internal/config"
	"direct-messenger/internal/models"
)

// ActivityStore persists last activity timestamps
type ActivityStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	TouchActivity(ctx context.Context, id int64, at time.Time) error
}

// PresenceTracker derives presence from last activity
type PresenceTracker struct {
	store  ActivityStore
	online time.Duration
	recent time.Duration
	now    func() time.Time
}

// NewPresenceTracker creates a tracker with the configured thresholds
func NewPresenceTracker(store ActivityStore, cfg config.PresenceConfig) *PresenceTracker {
	return &PresenceTracker{
		store:  store,
		online: cfg.OnlineThreshold,
		recent: cfg.RecentThreshold,
		now:    time.Now,
	}
}

// Classify maps a last activity timestamp to a presence state. Timestamps in
// the future count as online.
func (t *PresenceTracker) Classify(lastActivity time.Time) models.Presence {
	elapsed := t.now().Sub(lastActivity)
	switch {
	case elapsed < t.online:
		return models.PresenceOnline
	case elapsed < t.recent:
		return models.PresenceRecently
	default:
		return models.PresenceOffline
	}
}

// Status returns the presence of a user
func (t *PresenceTracker) Status(ctx context.Context, userID int64) (models.Presence, error) {
	user, err := t.store.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get presence: %w", err)
	}
	return t.Classify(user.LastActivity), nil
}

// Touch records activity for the user now
func (t *PresenceTracker) Touch(ctx context.Context, userID int64) error {
	return t.store.TouchActivity(ctx, userID, t.now())
}
