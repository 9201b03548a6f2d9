package repository

import (
	"context"
	"errors"
	"fmt"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"

	"github.com/jackc/pgx/v5"
)

const edgeColumns = `id, user_id, friend_id, status, is_self, requested_at, accepted_at`

// samePair matches the single edge of the unordered pair ($1, $2)
const samePair = `LEAST(user_id, friend_id) = LEAST($1::bigint, $2::bigint)
	AND GREATEST(user_id, friend_id) = GREATEST($1::bigint, $2::bigint)`

// FriendRow is an edge joined with the user on the other end of it
type FriendRow struct {
	Edge   models.FriendEdge
	Friend models.User
}

// FriendRepository handles database operations for friend edges
type FriendRepository struct {
	db TxBeginner
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db TxBeginner) *FriendRepository {
	return &FriendRepository{db: db}
}

func scanEdge(row pgx.Row) (*models.FriendEdge, error) {
	var edge models.FriendEdge
	err := row.Scan(
		&edge.ID, &edge.UserID, &edge.FriendID, &edge.Status,
		&edge.IsSelf, &edge.RequestedAt, &edge.AcceptedAt,
	)
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// CreateRequest inserts a pending edge from requester to recipient. An existing
// rejected edge of the pair is replaced in the same transaction; pending and
// accepted edges are reported as conflicts.
func (r *FriendRepository) CreateRequest(ctx context.Context, requesterID, recipientID int64) (*models.FriendEdge, error) {
	var created *models.FriendEdge
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := scanEdge(tx.QueryRow(ctx,
			`SELECT `+edgeColumns+` FROM friend_edges WHERE `+samePair+` FOR UPDATE`,
			requesterID, recipientID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to lock friend edge: %w", err)
		default:
			if err := existing.CheckSupersede(); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM friend_edges WHERE id = $1`, existing.ID); err != nil {
				return fmt.Errorf("failed to delete rejected edge: %w", err)
			}
		}

		created, err = scanEdge(tx.QueryRow(ctx, `
			INSERT INTO friend_edges (user_id, friend_id, status)
			VALUES ($1, $2, 'pending')
			RETURNING `+edgeColumns,
			requesterID, recipientID))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("friend edge already exists: %w", apperrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create friend request: %w", err)
	}
	return created, nil
}

// Respond moves a pending edge to status on behalf of its recipient. The
// update is conditional so only one answer can win.
func (r *FriendRepository) Respond(ctx context.Context, edgeID, responderID int64, status models.FriendStatus) (*models.FriendEdge, error) {
	edge, err := scanEdge(r.db.QueryRow(ctx, `
		UPDATE friend_edges
		SET status = $3,
		    accepted_at = CASE WHEN $3 = 'accepted' THEN now() ELSE NULL END
		WHERE id = $1 AND friend_id = $2 AND status = 'pending' AND NOT is_self
		RETURNING `+edgeColumns,
		edgeID, responderID, string(status)))
	if err == nil {
		return edge, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to respond to friend request: %w", err)
	}

	var recipientID int64
	var current models.FriendStatus
	err = r.db.QueryRow(ctx, `SELECT friend_id, status FROM friend_edges WHERE id = $1`, edgeID).Scan(&recipientID, &current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("friend request %d not found: %w", edgeID, apperrors.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to get friend request: %w", err)
	case recipientID != responderID:
		return nil, fmt.Errorf("user %d is not the recipient of request %d: %w", responderID, edgeID, apperrors.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("friend request %d is %s: %w", edgeID, current, apperrors.ErrNotFound)
	}
}

// DeletePair removes the non-self edge of the pair, if any
func (r *FriendRepository) DeletePair(ctx context.Context, userID, friendID int64) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM friend_edges WHERE `+samePair+` AND NOT is_self`, userID, friendID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete friend edge: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListForUser returns the user's edges with the given status, joined with the
// counterpart. The self edge joins with the user itself.
func (r *FriendRepository) ListForUser(ctx context.Context, userID int64, status models.FriendStatus) ([]*FriendRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.user_id, e.friend_id, e.status, e.is_self, e.requested_at, e.accepted_at,
		       u.id, u.username, u.nickname, u.last_activity
		FROM friend_edges e
		JOIN users u ON u.id = CASE WHEN e.user_id = $1 THEN e.friend_id ELSE e.user_id END
		WHERE (e.user_id = $1 OR e.friend_id = $1) AND e.status = $2
	`, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	var result []*FriendRow
	for rows.Next() {
		var fr FriendRow
		err := rows.Scan(
			&fr.Edge.ID, &fr.Edge.UserID, &fr.Edge.FriendID, &fr.Edge.Status, &fr.Edge.IsSelf,
			&fr.Edge.RequestedAt, &fr.Edge.AcceptedAt,
			&fr.Friend.ID, &fr.Friend.Username, &fr.Friend.Nickname, &fr.Friend.LastActivity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		result = append(result, &fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friends: %w", err)
	}
	return result, nil
}

// ListIncoming returns pending requests addressed to the user, newest first
func (r *FriendRepository) ListIncoming(ctx context.Context, userID int64) ([]*models.IncomingRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.user_id, u.username, u.nickname, e.status, e.requested_at
		FROM friend_edges e
		JOIN users u ON u.id = e.user_id
		WHERE e.friend_id = $1 AND e.status = 'pending' AND NOT e.is_self
		ORDER BY e.requested_at DESC, e.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.IncomingRequest{}
	for rows.Next() {
		var req models.IncomingRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.Username, &req.Nickname, &req.Status, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incoming request: %w", err)
		}
		requests = append(requests, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incoming requests: %w", err)
	}
	return requests, nil
}

// AreFriends reports whether the pair has an accepted edge. A user is always
// its own friend.
func (r *FriendRepository) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return true, nil
	}
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friend_edges WHERE `+samePair+` AND status = 'accepted')`,
		a, b).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return ok, nil
}
