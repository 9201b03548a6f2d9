package services

import (
	"context"
	"fmt"

	"direct-messenger/internal/models"
)

// StickerSource lists the stored sticker catalog
type StickerSource interface {
	List(ctx context.Context) ([]*models.Sticker, error)
}

// StickerCatalog is the in-memory read-only sticker catalog
type StickerCatalog struct {
	list []*models.Sticker
	byID map[int64]*models.Sticker
}

// NewStickerCatalog indexes stickers, which must already be ordered
func NewStickerCatalog(stickers []*models.Sticker) *StickerCatalog {
	c := &StickerCatalog{
		list: stickers,
		byID: make(map[int64]*models.Sticker, len(stickers)),
	}
	for _, s := range stickers {
		c.byID[s.ID] = s
	}
	return c
}

// LoadStickerCatalog reads the catalog once from the store
func LoadStickerCatalog(ctx context.Context, src StickerSource) (*StickerCatalog, error) {
	stickers, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sticker catalog: %w", err)
	}
	return NewStickerCatalog(stickers), nil
}

// Get looks up a sticker by id
func (c *StickerCatalog) Get(id int64) (*models.Sticker, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// List returns every sticker ordered by category and name
func (c *StickerCatalog) List() []*models.Sticker {
	if c.list == nil {
		return []*models.Sticker{}
	}
	return c.list
}
