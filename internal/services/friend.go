package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"
	"direct-messenger/internal/repository"
)

// FriendStore persists friend edges
type FriendStore interface {
	CreateRequest(ctx context.Context, requesterID, recipientID int64) (*models.FriendEdge, error)
	Respond(ctx context.Context, edgeID, responderID int64, status models.FriendStatus) (*models.FriendEdge, error)
	DeletePair(ctx context.Context, userID, friendID int64) (int64, error)
	ListForUser(ctx context.Context, userID int64, status models.FriendStatus) ([]*repository.FriendRow, error)
	ListIncoming(ctx context.Context, userID int64) ([]*models.IncomingRequest, error)
	AreFriends(ctx context.Context, a, b int64) (bool, error)
}

// HandleResolver resolves a username or nickname to a user
type HandleResolver interface {
	FindByHandle(ctx context.Context, handle string) (*models.User, error)
}

// ConversationStats decorates friend list entries with conversation state
type ConversationStats interface {
	UnreadCount(ctx context.Context, readerID, peerID int64) (int, error)
	LastPreview(ctx context.Context, viewerID, peerID int64) (*models.Preview, error)
}

// FriendService handles friend graph business logic
type FriendService struct {
	friends  FriendStore
	users    HandleResolver
	presence *PresenceTracker
	stats    ConversationStats
}

// NewFriendService creates a new friend service
func NewFriendService(friends FriendStore, users HandleResolver, presence *PresenceTracker, stats ConversationStats) *FriendService {
	return &FriendService{
		friends:  friends,
		users:    users,
		presence: presence,
		stats:    stats,
	}
}

// FriendRequestInput represents a request to befriend a user
type FriendRequestInput struct {
	Handle string `json:"handle"`
}

// Request sends a friend request from requester to the user named by handle
func (s *FriendService) Request(ctx context.Context, requesterID int64, handle string) (*models.FriendEdge, error) {
	target, err := s.users.FindByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	if target.ID == requesterID {
		return nil, apperrors.ErrSelfReference
	}

	edge, err := s.friends.CreateRequest(ctx, requesterID, target.ID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("requester_id", requesterID).
		Int64("recipient_id", target.ID).
		Int64("edge_id", edge.ID).
		Msg("Friend request created")

	return edge, nil
}

// Respond accepts or rejects a pending request addressed to responder
func (s *FriendService) Respond(ctx context.Context, edgeID, responderID int64, action models.FriendAction) (*models.FriendEdge, error) {
	status, err := action.Status()
	if err != nil {
		return nil, err
	}
	return s.friends.Respond(ctx, edgeID, responderID, status)
}

// Unfriend removes the relationship between the two users in any state. The
// favorites edge is never removed.
func (s *FriendService) Unfriend(ctx context.Context, userID, friendID int64) error {
	n, err := s.friends.DeletePair(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("user_id", userID).Int64("friend_id", friendID).Msg("Friend edge removed")
	}
	return nil
}

// ListFriends returns the user's edges with the given status, ordered by
// unread count, then presence, then username
func (s *FriendService) ListFriends(ctx context.Context, userID int64, status models.FriendStatus) ([]*models.FriendSummary, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown friend status %q: %w", status, apperrors.ErrInvalidInput)
	}

	rows, err := s.friends.ListForUser(ctx, userID, status)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.FriendSummary, 0, len(rows))
	for _, row := range rows {
		summary := &models.FriendSummary{
			ID:           row.Friend.ID,
			EdgeID:       row.Edge.ID,
			Username:     row.Friend.Username,
			Nickname:     row.Friend.Nickname,
			Presence:     s.presence.Classify(row.Friend.LastActivity),
			FriendStatus: row.Edge.Status,
			IsSelf:       row.Edge.IsSelf,
			RequestedAt:  row.Edge.RequestedAt,
			AcceptedAt:   row.Edge.AcceptedAt,
		}

		if status == models.FriendStatusAccepted && s.stats != nil {
			if summary.UnreadCount, err = s.stats.UnreadCount(ctx, userID, row.Friend.ID); err != nil {
				return nil, err
			}
			if summary.LastMessage, err = s.stats.LastPreview(ctx, userID, row.Friend.ID); err != nil {
				return nil, err
			}
		}

		summaries = append(summaries, summary)
	}

	SortFriendSummaries(summaries)
	return summaries, nil
}

// SortFriendSummaries orders entries by unread count descending, presence
// rank ascending, then username
func SortFriendSummaries(summaries []*models.FriendSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.UnreadCount != b.UnreadCount {
			return a.UnreadCount > b.UnreadCount
		}
		if a.Presence.Rank() != b.Presence.Rank() {
			return a.Presence.Rank() < b.Presence.Rank()
		}
		return a.Username < b.Username
	})
}

// ListIncomingRequests returns pending requests addressed to the user
func (s *FriendService) ListIncomingRequests(ctx context.Context, userID int64) ([]*models.IncomingRequest, error) {
	return s.friends.ListIncoming(ctx, userID)
}

// FriendPolicy is the friends-only addressability rule for sending messages
type FriendPolicy struct {
	friends interface {
		AreFriends(ctx context.Context, a, b int64) (bool, error)
	}
}

// NewFriendPolicy creates a policy backed by the friend store
func NewFriendPolicy(friends FriendStore) *FriendPolicy {
	return &FriendPolicy{friends: friends}
}

// CanMessage reports whether sender may message receiver. A user may always
// message itself.
func (p *FriendPolicy) CanMessage(ctx context.Context, senderID, receiverID int64) (bool, error) {
	if senderID == receiverID {
		return true, nil
	}
	return p.friends.AreFriends(ctx, senderID, receiverID)
}

// OpenPolicy lets any user message any other
type OpenPolicy struct{}

// CanMessage always allows the send
func (OpenPolicy) CanMessage(context.Context, int64, int64) (bool, error) {
	return true, nil
}
