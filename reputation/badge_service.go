package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm/clause"
)

type AwardedBadge struct {
	Badge
	AwardedAt time.Time  `json:"awarded_at"`
	AwardedBy *uuid.UUID `json:"awarded_by,omitempty"`
}

func (s *Service) UserBadges(ctx context.Context, userID uuid.UUID) ([]AwardedBadge, error) {
	var rows []models.UserBadge
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("awarded_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading badges: %w", err)
	}
	out := make([]AwardedBadge, 0, len(rows))
	for _, r := range rows {
		def, ok := BadgeDefinition(r.BadgeID)
		if !ok {
			s.logger.Warn("user holds unknown badge", "user", userID, "badge", r.BadgeID)
			def = Badge{ID: r.BadgeID, Name: r.BadgeID}
		}
		out = append(out, AwardedBadge{Badge: def, AwardedAt: r.AwardedAt, AwardedBy: r.AwardedBy})
	}
	return out, nil
}

// AwardBadge grants badgeID to the user. Awarding a badge the user already
// holds is a no-op and reports false.
func (s *Service) AwardBadge(ctx context.Context, userID uuid.UUID, badgeID string, awardedBy *uuid.UUID) (bool, error) {
	if !IsValidBadge(badgeID) {
		return false, fmt.Errorf("%w: %q", ErrInvalidBadge, badgeID)
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserBadge{
		ID:        uuid.New(),
		UserID:    userID,
		BadgeID:   badgeID,
		AwardedBy: awardedBy,
		AwardedAt: s.now(),
	})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, fmt.Errorf("awarding badge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	badgesAwarded.WithLabelValues(badgeID).Inc()
	s.logger.Info("badge awarded", "user", userID, "badge", badgeID)
	return true, nil
}

func (s *Service) RemoveBadge(ctx context.Context, userID uuid.UUID, badgeID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND badge_id = ?", userID, badgeID).
		Delete(&models.UserBadge{}).Error
}

// CheckAndAwardBadges grants every automatic badge the user now qualifies for
// and returns the ids of those newly awarded.
func (s *Service) CheckAndAwardBadges(ctx context.Context, userID uuid.UUID) ([]string, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.getStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	in := autoBadgeInput{
		karma:          u.KarmaPoints,
		accountAgeDays: accountAgeDays(u.CreatedAt, s.now()),
	}
	if stats != nil {
		in.comments = stats.TotalComments
		in.votes = stats.TotalVotesCast
		in.submissions = stats.TotalClipsSubmit
	}

	var awarded []string
	for _, id := range earnedBadges(in) {
		ok, err := s.AwardBadge(ctx, userID, id, nil)
		if err != nil {
			return awarded, err
		}
		if ok {
			awarded = append(awarded, id)
		}
	}
	return awarded, nil
}
