package reputation

import (
	"context"
	"fmt"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	LeaderboardKarma = "karma"
	LeaderboardTrust = "trust"
)

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Score       int       `json:"score"`
	KarmaPoints int       `json:"karma_points"`
	UserRank    string    `json:"user_rank"`
}

// Leaderboard returns a page of the named leaderboard. Pages are cached for
// the configured TTL, so recent changes may not show immediately.
func (s *Service) Leaderboard(ctx context.Context, kind string, limit, offset int) ([]LeaderboardEntry, error) {
	if kind != LeaderboardKarma && kind != LeaderboardTrust {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLeaderboard, kind)
	}
	limit = normalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var entries []LeaderboardEntry
	err := s.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   fmt.Sprintf("leaderboard/%s/%d/%d", kind, limit, offset),
		Value: &entries,
		TTL:   s.cacheTTL,
		Do: func(item *cache.Item) (any, error) {
			leaderboardBuilds.WithLabelValues(kind).Inc()
			return s.buildLeaderboard(item.Ctx, kind, limit, offset)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s leaderboard: %w", kind, err)
	}
	return entries, nil
}

func (s *Service) buildLeaderboard(ctx context.Context, kind string, limit, offset int) ([]LeaderboardEntry, error) {
	var q *gorm.DB
	switch kind {
	case LeaderboardKarma:
		q = s.db.WithContext(ctx).Table("users").
			Select("users.id AS user_id, users.username, users.display_name, users.avatar_url, users.karma_points, users.karma_points AS score").
			Order("users.karma_points DESC")
	case LeaderboardTrust:
		q = s.db.WithContext(ctx).Table("users").
			Select("users.id AS user_id, users.username, users.display_name, users.avatar_url, users.karma_points, COALESCE(user_stats.trust_score, 0) AS score").
			Joins("LEFT JOIN user_stats ON user_stats.user_id = users.id").
			Order("score DESC").Order("users.karma_points DESC")
	}

	entries := []LeaderboardEntry{}
	err := q.Where("users.is_banned = ?", false).
		Order("users.created_at ASC").
		Limit(limit).Offset(offset).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = offset + i + 1
		entries[i].UserRank = RankFor(entries[i].KarmaPoints)
	}
	return entries, nil
}
