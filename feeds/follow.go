package feeds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Follow subscribes userID to a public feed. Following twice is a no-op.
func (s *Service) Follow(ctx context.Context, userID, feedID uuid.UUID) error {
	f, err := s.getFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if f.UserID == userID {
		return ErrSelfFollow
	}
	if !f.IsPublic {
		return ErrPrivateFeed
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.FeedFollow{
			ID:         uuid.New(),
			UserID:     userID,
			FeedID:     feedID,
			FollowedAt: s.now(),
		})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return nil
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		feedFollows.WithLabelValues("follow").Inc()
		return tx.Model(&models.Feed{}).Where("id = ?", feedID).
			UpdateColumn("follower_count", gorm.Expr("follower_count + 1")).Error
	})
}

// Unfollow is a no-op when userID does not follow the feed.
func (s *Service) Unfollow(ctx context.Context, userID, feedID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND feed_id = ?", userID, feedID).Delete(&models.FeedFollow{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		feedFollows.WithLabelValues("unfollow").Inc()
		return tx.Model(&models.Feed{}).Where("id = ? AND follower_count > 0", feedID).
			UpdateColumn("follower_count", gorm.Expr("follower_count - 1")).Error
	})
}

func (s *Service) IsFollowing(ctx context.Context, userID, feedID uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.FeedFollow{}).
		Where("user_id = ? AND feed_id = ?", userID, feedID).Count(&n).Error
	return n > 0, err
}

// FollowedFeeds lists the feeds userID follows that are still public, most
// recently followed first.
func (s *Service) FollowedFeeds(ctx context.Context, userID uuid.UUID) ([]models.Feed, error) {
	feeds := []models.Feed{}
	err := s.db.WithContext(ctx).
		Joins("JOIN feed_follows ON feed_follows.feed_id = feeds.id").
		Where("feed_follows.user_id = ? AND feeds.is_public = ?", userID, true).
		Order("feed_follows.followed_at DESC").
		Find(&feeds).Error
	return feeds, err
}

type FeedWithOwner struct {
	models.Feed
	OwnerUsername    string  `json:"owner_username"`
	OwnerDisplayName string  `json:"owner_display_name"`
	OwnerAvatarURL   *string `json:"owner_avatar_url,omitempty"`
}

func discoverPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxDiscoverLimit {
		limit = DefaultDiscoverLimit
	}
	return limit, max(offset, 0)
}

// DiscoverPublicFeeds pages through public feeds by follower count, then
// recency. Pages are cached briefly.
func (s *Service) DiscoverPublicFeeds(ctx context.Context, limit, offset int) ([]FeedWithOwner, error) {
	limit, offset = discoverPage(limit, offset)
	var out []FeedWithOwner
	err := s.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   fmt.Sprintf("feeds/discover/%d/%d", limit, offset),
		Value: &out,
		TTL:   s.cacheTTL,
		Do: func(item *cache.Item) (any, error) {
			discoverBuilds.Inc()
			return s.publicFeeds(item.Ctx, "", limit, offset)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("discovering feeds: %w", err)
	}
	return out, nil
}

// SearchFeeds matches public feed names and descriptions case-insensitively.
func (s *Service) SearchFeeds(ctx context.Context, term string, limit, offset int) ([]FeedWithOwner, error) {
	limit, offset = discoverPage(limit, offset)
	return s.publicFeeds(ctx, strings.TrimSpace(term), limit, offset)
}

func (s *Service) publicFeeds(ctx context.Context, term string, limit, offset int) ([]FeedWithOwner, error) {
	q := s.db.WithContext(ctx).Table("feeds").
		Select("feeds.*, users.username AS owner_username, users.display_name AS owner_display_name, users.avatar_url AS owner_avatar_url").
		Joins("JOIN users ON users.id = feeds.user_id").
		Where("feeds.is_public = ?", true)
	if term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("(LOWER(feeds.name) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(feeds.description, '')) LIKE ? ESCAPE '\\')", pattern, pattern)
	}
	out := []FeedWithOwner{}
	err := q.Order("feeds.follower_count DESC").Order("feeds.created_at DESC").
		Limit(limit).Offset(offset).
		Scan(&out).Error
	return out, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

