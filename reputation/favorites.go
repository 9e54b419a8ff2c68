package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

type FavoriteResult struct {
	ClipID        uuid.UUID `json:"clip_id"`
	IsFavorited   bool      `json:"is_favorited"`
	FavoriteCount int       `json:"favorite_count"`
}

// AddFavorite saves a clip to the user's favorites. Favoriting twice is a
// no-op.
func (s *Service) AddFavorite(ctx context.Context, userID, clipID uuid.UUID) (*FavoriteResult, error) {
	return s.setFavorite(ctx, userID, clipID, true)
}

// RemoveFavorite drops a clip from the user's favorites. Removing a clip
// that is not a favorite is a no-op.
func (s *Service) RemoveFavorite(ctx context.Context, userID, clipID uuid.UUID) (*FavoriteResult, error) {
	return s.setFavorite(ctx, userID, clipID, false)
}

// setFavorite keeps clips.favorite_count equal to the number of favorites
// rows for the clip.
func (s *Service) setFavorite(ctx context.Context, userID, clipID uuid.UUID, want bool) (*FavoriteResult, error) {
	res := &FavoriteResult{ClipID: clipID, IsFavorited: want}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clip models.Clip
		q := tx.Select("id", "favorite_count").Where("id = ?", clipID)
		if want {
			q = q.Where("is_removed = ?", false)
		}
		err := q.Take(&clip).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrClipNotFound
		}
		if err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&models.Favorite{}).Where("user_id = ? AND clip_id = ?", userID, clipID).Count(&n).Error; err != nil {
			return err
		}
		res.FavoriteCount = clip.FavoriteCount
		exists := n > 0
		if exists == want {
			return nil
		}

		delta := 1
		if want {
			err = tx.Create(&models.Favorite{
				ID:        uuid.New(),
				UserID:    userID,
				ClipID:    clipID,
				CreatedAt: s.now(),
			}).Error
			if isUniqueViolation(err) {
				return fmt.Errorf("concurrent favorite on clip %s: %w", clipID, err)
			}
		} else {
			delta = -1
			err = tx.Where("user_id = ? AND clip_id = ?", userID, clipID).Delete(&models.Favorite{}).Error
		}
		if err != nil {
			return err
		}

		err = tx.Model(&models.Clip{}).Where("id = ?", clipID).
			UpdateColumn("favorite_count", gorm.Expr("favorite_count + ?", delta)).Error
		if err != nil {
			return err
		}
		res.FavoriteCount = clip.FavoriteCount + delta
		return nil
	})
	if err != nil {
		return nil, err
	}
	if want {
		favoriteChanges.WithLabelValues("add").Inc()
	} else {
		favoriteChanges.WithLabelValues("remove").Inc()
	}
	return res, nil
}

// ListFavorites pages through the user's visible favorite clips, most
// recently favorited first.
func (s *Service) ListFavorites(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Clip, int64, error) {
	limit = normalizeLimit(limit)
	offset = max(offset, 0)

	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&models.Clip{}).
			Joins("JOIN favorites ON favorites.clip_id = clips.id").
			Where("favorites.user_id = ? AND clips.is_removed = ? AND clips.is_hidden = ?", userID, false, false)
	}

	var total int64
	if err := s.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting favorites: %w", err)
	}
	clips := []models.Clip{}
	err := s.db.WithContext(ctx).Scopes(scope).
		Select("clips.*").
		Order("favorites.created_at DESC").
		Limit(limit).Offset(offset).
		Find(&clips).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing favorites: %w", err)
	}
	return clips, total, nil
}

// IsFavorited reports whether the user has favorited the clip.
func (s *Service) IsFavorited(ctx context.Context, userID, clipID uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Favorite{}).
		Where("user_id = ? AND clip_id = ?", userID, clipID).Count(&n).Error
	return n > 0, err
}
