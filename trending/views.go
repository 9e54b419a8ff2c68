package trending

import (
	"context"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

// RecordView counts one view of a live clip. Views feed engagement on the
// next Refresh.
func (s *Service) RecordView(ctx context.Context, clipID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.Clip{}).
		Where("id = ? AND is_removed = ?", clipID, false).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
	if err != nil {
		return err
	}
	viewsRecorded.Inc()
	return nil
}
