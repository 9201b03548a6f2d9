package models

import (
	"fmt"
	"time"

	"direct-messenger/internal/apperrors"
)

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	PushToken    *string   `json:"-"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// FriendStatus is the state of a friend edge
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
	FriendStatusRejected FriendStatus = "rejected"
)

// Valid reports whether s is one of the stored edge states
func (s FriendStatus) Valid() bool {
	switch s {
	case FriendStatusPending, FriendStatusAccepted, FriendStatusRejected:
		return true
	}
	return false
}

// FriendEdge is the single row kept per unordered user pair. UserID is the
// requester and FriendID the recipient. The self edge (favorites) has
// UserID == FriendID and IsSelf set.
type FriendEdge struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	FriendID    int64        `json:"friend_id"`
	Status      FriendStatus `json:"status"`
	IsSelf      bool         `json:"is_self"`
	RequestedAt time.Time    `json:"requested_at"`
	AcceptedAt  *time.Time   `json:"accepted_at,omitempty"`
}

// Counterpart returns the other end of the edge as seen by userID
func (e *FriendEdge) Counterpart(userID int64) int64 {
	if e.UserID == userID {
		return e.FriendID
	}
	return e.UserID
}

// CheckSupersede decides what a new request does to an existing edge of the
// same pair. A nil error means the edge must be deleted and replaced by a
// fresh pending one.
func (e *FriendEdge) CheckSupersede() error {
	if e.IsSelf {
		return apperrors.ErrSelfReference
	}
	switch e.Status {
	case FriendStatusPending:
		return fmt.Errorf("friend request already pending: %w", apperrors.ErrConflict)
	case FriendStatusAccepted:
		return fmt.Errorf("already friends: %w", apperrors.ErrConflict)
	}
	return nil
}

// FriendAction is the recipient's answer to a pending request
type FriendAction string

const (
	FriendActionAccept FriendAction = "accept"
	FriendActionReject FriendAction = "reject"
)

// Status returns the edge status an action transitions to
func (a FriendAction) Status() (FriendStatus, error) {
	switch a {
	case FriendActionAccept:
		return FriendStatusAccepted, nil
	case FriendActionReject:
		return FriendStatusRejected, nil
	}
	return "", fmt.Errorf("unknown action %q: %w", a, apperrors.ErrInvalidInput)
}

// Presence is the derived activity classification of a user
type Presence string

const (
	PresenceOnline   Presence = "online"
	PresenceRecently Presence = "recently"
	PresenceOffline  Presence = "offline"
)

// Rank orders presence states for conversation lists: online first
func (p Presence) Rank() int {
	switch p {
	case PresenceOnline:
		return 0
	case PresenceRecently:
		return 1
	}
	return 2
}

// FriendSummary is a friend list entry as displayed by the conversation list
type FriendSummary struct {
	ID           int64        `json:"id"`
	EdgeID       int64        `json:"edge_id"`
	Username     string       `json:"username"`
	Nickname     string       `json:"nickname"`
	Presence     Presence     `json:"status"`
	FriendStatus FriendStatus `json:"friend_status"`
	IsSelf       bool         `json:"is_self"`
	RequestedAt  time.Time    `json:"requested_at"`
	AcceptedAt   *time.Time   `json:"accepted_at,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	LastMessage  *Preview     `json:"last_message,omitempty"`
}

// IncomingRequest is a pending edge addressed to the viewer
type IncomingRequest struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Username    string       `json:"username"`
	Nickname    string       `json:"nickname"`
	Status      FriendStatus `json:"status"`
	RequestedAt time.Time    `json:"requested_at"`
}

// Sticker is a static catalog entry
type Sticker struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Emoji    string `json:"emoji"`
	AssetRef string `json:"asset_ref"`
}
