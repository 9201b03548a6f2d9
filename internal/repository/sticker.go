package repository

import (
	"context"
	"fmt"

	"direct-messenger/internal/models"
)

// StickerRepository reads the seeded sticker catalog
type StickerRepository struct {
	db DBTX
}

// NewStickerRepository creates a new sticker repository
func NewStickerRepository(db DBTX) *StickerRepository {
	return &StickerRepository{db: db}
}

// List returns every sticker ordered by category and name
func (r *StickerRepository) List(ctx context.Context) ([]*models.Sticker, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, category, emoji, asset_ref FROM stickers ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stickers: %w", err)
	}
	defer rows.Close()

	var stickers []*models.Sticker
	for rows.Next() {
		var s models.Sticker
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.Emoji, &s.AssetRef); err != nil {
			return nil, fmt.Errorf("failed to scan sticker: %w", err)
		}
		stickers = append(stickers, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stickers: %w", err)
	}
	return stickers, nil
}
