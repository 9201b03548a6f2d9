package repository

import (
	"context"
	"testing"
	"time"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageCols = []string{"id", "sender_id", "receiver_id", "ciphertext", "kind", "attachment_ref", "created_at", "read"}

func TestMessageRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewMessageRepository(mock)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(1), int64(2), []byte("ct"), "text", (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "read"}).AddRow(int64(42), now, false))

	msg := &models.Message{SenderID: 1, ReceiverID: 2, Kind: models.KindText, Ciphertext: []byte("ct")}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, now, msg.CreatedAt)
}

func TestMessageRepository_Between(t *testing.T) {
	mock := newMock(t)
	repo := NewMessageRepository(mock)
	now := time.Now()
	ref := "uploads/a.png"

	mock.ExpectQuery("ORDER BY created_at, id").
		WithArgs(int64(1), int64(2), int64(5)).
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow(int64(6), int64(2), int64(1), []byte("a"), models.KindText, (*string)(nil), now, false).
			AddRow(int64(7), int64(1), int64(2), []byte("b"), models.KindImage, &ref, now, true))

	msgs, err := repo.Between(context.Background(), 1, 2, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(6), msgs[0].ID)
	require.NotNil(t, msgs[1].AttachmentRef)
	assert.Equal(t, ref, *msgs[1].AttachmentRef)
}

func TestMessageRepository_LastEmpty(t *testing.T) {
	mock := newMock(t)
	repo := NewMessageRepository(mock)

	mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(pgxmock.NewRows(messageCols))

	_, err := repo.Last(context.Background(), 1, 2)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMessageRepository_MaxID(t *testing.T) {
	mock := newMock(t)
	repo := NewMessageRepository(mock)

	mock.ExpectQuery("COALESCE\\(MAX\\(id\\), 0\\)").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(0)))

	id, err := repo.MaxID(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestMessageRepository_MarkReadAndCount(t *testing.T) {
	mock := newMock(t)
	repo := NewMessageRepository(mock)

	mock.ExpectExec("UPDATE messages SET read = TRUE").
		WithArgs(int64(2), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(2), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	n, err := repo.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	unread, err := repo.UnreadCount(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMessageRepository_DeleteOwned(t *testing.T) {
	now := time.Now()

	t.Run("owner", func(t *testing.T) {
		mock := newMock(t)
		repo := NewMessageRepository(mock)
		mock.ExpectQuery("DELETE FROM messages").
			WithArgs(int64(9), int64(1)).
			WillReturnRows(pgxmock.NewRows(messageCols).AddRow(int64(9), int64(1), int64(2), []byte("x"), models.KindText, (*string)(nil), now, false))

		msg, err := repo.DeleteOwned(context.Background(), 9, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), msg.ReceiverID)
	})

	t.Run("not the sender", func(t *testing.T) {
		mock := newMock(t)
		repo := NewMessageRepository(mock)
		mock.ExpectQuery("DELETE FROM messages").
			WithArgs(int64(9), int64(2)).
			WillReturnRows(pgxmock.NewRows(messageCols))
		mock.ExpectQuery("SELECT sender_id FROM messages").
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows([]string{"sender_id"}).AddRow(int64(1)))

		_, err := repo.DeleteOwned(context.Background(), 9, 2)
		require.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		repo := NewMessageRepository(mock)
		mock.ExpectQuery("DELETE FROM messages").
			WithArgs(int64(9), int64(2)).
			WillReturnRows(pgxmock.NewRows(messageCols))
		mock.ExpectQuery("SELECT sender_id FROM messages").
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows([]string{"sender_id"}))

		_, err := repo.DeleteOwned(context.Background(), 9, 2)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
