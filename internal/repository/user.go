package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, nickname, password_hash, push_token, last_activity, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db TxBeginner
}

// NewUserRepository creates a new user repository
func NewUserRepository(db TxBeginner) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Nickname, &user.PasswordHash,
		&user.PushToken, &user.LastActivity, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateWithSelfEdge inserts the user and its favorites edge in one transaction.
// ID, LastActivity and CreatedAt are filled in from the database.
func (r *UserRepository) CreateWithSelfEdge(ctx context.Context, user *models.User) error {
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (username, nickname, password_hash)
			VALUES ($1, $2, $3)
			RETURNING id, last_activity, created_at
		`, user.Username, user.Nickname, user.PasswordHash).Scan(&user.ID, &user.LastActivity, &user.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO friend_edges (user_id, friend_id, status, is_self, requested_at, accepted_at)
			VALUES ($1, $1, 'accepted', TRUE, $2, $2)
		`, user.ID, user.CreatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username or nickname already taken: %w", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d not found: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by login name
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q not found: %w", username, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// FindByHandle resolves a username or a nickname. A leading "@" is ignored.
// An exact username match wins over a nickname match.
func (r *UserRepository) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return nil, fmt.Errorf("empty handle: %w", apperrors.ErrNotFound)
	}

	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR nickname = $1
		ORDER BY (username = $1) DESC
		LIMIT 1`
	user, err := scanUser(r.db.QueryRow(ctx, query, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q not found: %w", handle, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user by handle: %w", err)
	}
	return user, nil
}

// Search returns users whose username or nickname contains q, excluding the viewer
func (r *UserRepository) Search(ctx context.Context, viewerID int64, q string, limit int) ([]*models.User, error) {
	q = NormalizeHandle(q)
	if q == "" {
		return []*models.User{}, nil
	}

	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id <> $1
		  AND (username ILIKE '%' || $2 || '%' OR nickname ILIKE '%' || $2 || '%')
		ORDER BY username
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, viewerID, escapeLike(q), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// TouchActivity records activity for the user at the given time
func (r *UserRepository) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_activity = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch user activity: %w", err)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID int64, pushToken *string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET push_token = $1 WHERE id = $2`, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

// NormalizeHandle trims whitespace and a leading "@"
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
