package feeds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

// AddClip appends a clip to the end of the feed.
func (s *Service) AddClip(ctx context.Context, feedID, ownerID, clipID uuid.UUID) (*models.FeedItem, error) {
	if _, err := s.ownedFeed(ctx, feedID, ownerID); err != nil {
		return nil, err
	}
	var item *models.FeedItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Clip{}).Where("id = ? AND is_removed = ?", clipID, false).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrClipNotFound
		}
		if err := tx.Model(&models.FeedItem{}).Where("feed_id = ? AND clip_id = ?", feedID, clipID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateClip
		}

		var next int
		err := tx.Model(&models.FeedItem{}).
			Select("COALESCE(MAX(position), -1) + 1").
			Where("feed_id = ?", feedID).
			Scan(&next).Error
		if err != nil {
			return err
		}
		item = &models.FeedItem{
			ID:       uuid.New(),
			FeedID:   feedID,
			ClipID:   clipID,
			Position: next,
			AddedAt:  s.now(),
		}
		if err := tx.Create(item).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateClip
			}
			return err
		}
		return tx.Model(&models.Feed{}).Where("id = ?", feedID).UpdateColumn("updated_at", s.now()).Error
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) RemoveClip(ctx context.Context, feedID, ownerID, clipID uuid.UUID) error {
	if _, err := s.ownedFeed(ctx, feedID, ownerID); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("feed_id = ? AND clip_id = ?", feedID, clipID).Delete(&models.FeedItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClipNotInFeed
	}
	return nil
}

// ReorderClips assigns positions in the order given. clipIDs must be a
// permutation of the feed's current clips.
func (s *Service) ReorderClips(ctx context.Context, feedID, ownerID uuid.UUID, clipIDs []uuid.UUID) error {
	if _, err := s.ownedFeed(ctx, feedID, ownerID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []uuid.UUID
		if err := tx.Model(&models.FeedItem{}).Where("feed_id = ?", feedID).Pluck("clip_id", &current).Error; err != nil {
			return err
		}
		if len(current) != len(clipIDs) {
			return ErrInvalidOrder
		}
		have := make(map[uuid.UUID]bool, len(current))
		for _, id := range current {
			have[id] = true
		}
		for _, id := range clipIDs {
			if !have[id] {
				return ErrInvalidOrder
			}
			// rejects duplicates in clipIDs
			delete(have, id)
		}
		for pos, id := range clipIDs {
			err := tx.Model(&models.FeedItem{}).
				Where("feed_id = ? AND clip_id = ?", feedID, id).
				UpdateColumn("position", pos).Error
			if err != nil {
				return fmt.Errorf("moving clip %s: %w", id, err)
			}
		}
		return nil
	})
}

type FeedClip struct {
	Position int         `json:"position"`
	AddedAt  time.Time   `json:"added_at"`
	Clip     models.Clip `json:"clip"`
}

// FeedClips returns the feed's live clips in position order.
func (s *Service) FeedClips(ctx context.Context, feedID uuid.UUID, viewer *uuid.UUID) ([]FeedClip, error) {
	if _, err := s.GetFeed(ctx, feedID, viewer); err != nil {
		return nil, err
	}
	var items []models.FeedItem
	err := s.db.WithContext(ctx).Where("feed_id = ?", feedID).Order("position ASC").Find(&items).Error
	if err != nil {
		return nil, err
	}
	out := []FeedClip{}
	if len(items) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ClipID
	}
	var clips []models.Clip
	if err := s.db.WithContext(ctx).Where("id IN ? AND is_removed = ?", ids, false).Find(&clips).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Clip, len(clips))
	for _, c := range clips {
		byID[c.ID] = c
	}
	for _, it := range items {
		c, ok := byID[it.ClipID]
		if !ok {
			continue
		}
		out = append(out, FeedClip{
			Position: it.Position,
			AddedAt:  it.AddedAt,
			Clip:     c,
		})
	}
	return out, nil
}
