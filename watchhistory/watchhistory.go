package watchhistory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidDuration = errors.New("duration_seconds must be greater than 0")
	ErrUserNotFound    = errors.New("user not found")
	ErrClipNotFound    = errors.New("clip not found")
	ErrInvalidFilter   = errors.New("invalid history filter")
)

const (
	FilterAll        = "all"
	FilterCompleted  = "completed"
	FilterInProgress = "in-progress"

	// fraction of a clip that counts as watched
	CompletionThreshold = 0.9

	DefaultLimit = 50
	MaxLimit     = 100
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		logger: logger.With("component", "watchhistory"),
		now:    time.Now,
	}
}

type ProgressUpdate struct {
	ClipID          uuid.UUID
	ProgressSeconds int
	DurationSeconds int
	SessionID       string
}

// RecordProgress stores the user's playback position for a clip, replacing
// any earlier position. It reports false without error when the user has
// turned watch history off.
func (s *Service) RecordProgress(ctx context.Context, userID uuid.UUID, up ProgressUpdate) (bool, error) {
	if up.DurationSeconds <= 0 {
		return false, ErrInvalidDuration
	}
	progress := max(0, min(up.ProgressSeconds, up.DurationSeconds))

	enabled, err := s.Enabled(ctx, userID)
	if err != nil {
		return false, err
	}
	if !enabled {
		progressSkipped.Inc()
		return false, nil
	}

	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Clip{}).Where("id = ?", up.ClipID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrClipNotFound
	}

	now := s.now()
	entry := models.WatchHistory{
		ID:              uuid.New(),
		UserID:          userID,
		ClipID:          up.ClipID,
		ProgressSeconds: progress,
		DurationSeconds: up.DurationSeconds,
		Completed:       float64(progress)/float64(up.DurationSeconds) >= CompletionThreshold,
		SessionID:       up.SessionID,
		WatchedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "clip_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"progress_seconds", "duration_seconds", "completed", "session_id", "watched_at", "updated_at",
		}),
	}).Create(&entry).Error
	if err != nil {
		return false, fmt.Errorf("recording watch progress: %w", err)
	}
	progressRecorded.WithLabelValues(fmt.Sprint(entry.Completed)).Inc()
	return true, nil
}

type Entry struct {
	models.WatchHistory
	ProgressPercent float64      `json:"progress_percent"`
	Clip            *models.Clip `json:"clip,omitempty"`
}

// History lists the user's most recently watched clips.
func (s *Service) History(ctx context.Context, userID uuid.UUID, filter string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	switch filter {
	case "", FilterAll:
	case FilterCompleted:
		q = q.Where("completed = ?", true)
	case FilterInProgress:
		q = q.Where("completed = ? AND progress_seconds > 0", false)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	var rows []models.WatchHistory
	if err := q.Order("watched_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading watch history: %w", err)
	}
	if len(rows) == 0 {
		return []Entry{}, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ClipID
	}
	var clips []models.Clip
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("loading watched clips: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Clip, len(clips))
	for i := range clips {
		byID[clips[i].ID] = &clips[i]
	}

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{WatchHistory: r, Clip: byID[r.ClipID]}
		if r.DurationSeconds > 0 {
			out[i].ProgressPercent = float64(r.ProgressSeconds) / float64(r.DurationSeconds) * 100
		}
	}
	return out, nil
}

type ResumePosition struct {
	HasProgress     bool `json:"has_progress"`
	ProgressSeconds int  `json:"progress_seconds"`
	Completed       bool `json:"completed"`
}

func (s *Service) ResumePosition(ctx context.Context, userID, clipID uuid.UUID) (ResumePosition, error) {
	var wh models.WatchHistory
	err := s.db.WithContext(ctx).
		Select("progress_seconds", "completed").
		Where("user_id = ? AND clip_id = ?", userID, clipID).
		Take(&wh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ResumePosition{}, nil
	}
	if err != nil {
		return ResumePosition{}, err
	}
	return ResumePosition{HasProgress: true, ProgressSeconds: wh.ProgressSeconds, Completed: wh.Completed}, nil
}

// ResumePositions looks up positions for many clips at once. Clips the user
// never watched are absent from the result.
func (s *Service) ResumePositions(ctx context.Context, userID uuid.UUID, clipIDs []uuid.UUID) (map[uuid.UUID]ResumePosition, error) {
	out := make(map[uuid.UUID]ResumePosition, len(clipIDs))
	if len(clipIDs) == 0 {
		return out, nil
	}
	var rows []models.WatchHistory
	err := s.db.WithContext(ctx).
		Select("clip_id", "progress_seconds", "completed").
		Where("user_id = ? AND clip_id IN ?", userID, clipIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ClipID] = ResumePosition{HasProgress: true, ProgressSeconds: r.ProgressSeconds, Completed: r.Completed}
	}
	return out, nil
}

// Clear deletes all of the user's history and returns how many entries were
// removed.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.WatchHistory{})
	return res.RowsAffected, res.Error
}

func (s *Service) Enabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	var u models.User
	err := s.db.WithContext(ctx).Select("watch_history_enabled").Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, err
	}
	return u.WatchHistoryEnabled, nil
}

// SetEnabled turns history tracking on or off. Existing entries are kept.
func (s *Service) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("watch_history_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.logger.Info("watch history preference changed", "user", userID, "enabled", enabled)
	return nil
}
