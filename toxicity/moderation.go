package toxicity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAppealExists     = errors.New("an open appeal already exists for this item")
	ErrAlreadyResolved  = errors.New("appeal already resolved")
	ErrInvalidDecision  = errors.New("decision must be approve or reject")
	ErrNotContentAuthor = errors.New("only the content author may appeal")
)

const ContentTypeComment = "comment"

// reasons recorded on queue items, by rule category or Perspective attribute
var reasonForCategory = map[string]string{
	string(CategoryHateSpeech):    "hate_speech",
	string(CategoryHarassment):    "harassment",
	string(CategoryProfanity):     "offensive",
	string(CategoryThreats):       "harassment",
	string(CategorySexualContent): "inappropriate",
	string(CategorySpam):          "spam",
	string(CategorySelfHarm):      "self_harm",
	string(CategoryViolence):      "violence",
	"TOXICITY":                    "toxic",
	"SEVERE_TOXICITY":             "toxic",
	"IDENTITY_ATTACK":             "harassment",
	"INSULT":                      "offensive",
	"PROFANITY":                   "offensive",
	"THREAT":                      "harassment",
	"SEXUALLY_EXPLICIT":           "inappropriate",
}

// QueueReason maps the top reason code of a score to a moderation reason.
func QueueReason(score *Score) string {
	if len(score.ReasonCodes) == 0 {
		return "toxic"
	}
	if r, ok := reasonForCategory[score.ReasonCodes[0]]; ok {
		return r
	}
	return "other"
}

// QueuePriority scales confidence to 0-100, with auto-flagged items never
// below 50.
func QueuePriority(confidence float64) int {
	p := int(confidence * 100)
	if p > 100 {
		return 100
	}
	if p < 50 {
		return 50
	}
	return p
}

// Moderator connects the classifier to the moderation queue.
type Moderator struct {
	db         *gorm.DB
	classifier *Classifier
	logger     *slog.Logger
}

func NewModerator(db *gorm.DB, classifier *Classifier, logger *slog.Logger) *Moderator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		db:         db,
		classifier: classifier,
		logger:     logger.With("component", "moderation"),
	}
}

func (m *Moderator) Classifier() *Classifier {
	return m.classifier
}

// ProcessComment classifies a comment and queues it for review when toxic.
// The returned item is nil for clean content.
func (m *Moderator) ProcessComment(ctx context.Context, commentID uuid.UUID, content string) (*Score, *models.ModerationQueueItem, error) {
	score, err := m.classifier.Classify(ctx, content)
	if err != nil {
		return nil, nil, fmt.Errorf("classifying comment %s: %w", commentID, err)
	}
	if !score.Toxic {
		return score, nil, nil
	}
	item, err := m.Enqueue(ctx, ContentTypeComment, commentID, score)
	if err != nil {
		return score, nil, err
	}
	m.logger.Info("comment flagged for review", "comment", commentID, "reason", item.Reason, "confidence", score.ConfidenceScore)
	return score, item, nil
}

// Enqueue adds flagged content to the queue. A pending item for the same
// content is refreshed with the new score; content that was already
// reviewed is left alone.
func (m *Moderator) Enqueue(ctx context.Context, contentType string, contentID uuid.UUID, score *Score) (*models.ModerationQueueItem, error) {
	reason := QueueReason(score)
	priority := QueuePriority(score.ConfidenceScore)
	confidence := score.ConfidenceScore

	var item models.ModerationQueueItem
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("content_type = ? AND content_id = ?", contentType, contentID).First(&item).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = models.ModerationQueueItem{
				ID:              uuid.New(),
				ContentType:     contentType,
				ContentID:       contentID,
				Reason:          reason,
				Priority:        priority,
				Status:          models.ModerationStatusPending,
				AutoFlagged:     true,
				ConfidenceScore: &confidence,
			}
			return tx.Create(&item).Error
		case err != nil:
			return err
		}

		if item.Status != models.ModerationStatusPending {
			return nil
		}
		item.Reason = reason
		item.Priority = priority
		item.ConfidenceScore = &confidence
		return tx.Model(&item).Updates(map[string]any{
			"reason":           reason,
			"priority":         priority,
			"confidence_score": confidence,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("queueing %s %s: %w", contentType, contentID, err)
	}
	queuedItems.WithLabelValues(reason).Inc()
	return &item, nil
}

// Queue lists items with the given status, highest priority first.
func (m *Moderator) Queue(ctx context.Context, status string, limit, offset int) ([]models.ModerationQueueItem, error) {
	if status == "" {
		status = models.ModerationStatusPending
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var items []models.ModerationQueueItem
	err := m.db.WithContext(ctx).
		Where("status = ?", status).
		Order("priority DESC").Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&items).Error
	return items, err
}

// Review records a moderator decision on a queue item.
func (m *Moderator) Review(ctx context.Context, itemID, moderatorID uuid.UUID, approve bool) error {
	status := models.ModerationStatusRejected
	if approve {
		status = models.ModerationStatusApproved
	}
	now := time.Now()
	res := m.db.WithContext(ctx).Model(&models.ModerationQueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":      status,
			"reviewed_by": moderatorID,
			"reviewed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SubmitAppeal opens an appeal against a moderation decision. Only one
// pending appeal may exist per item.
func (m *Moderator) SubmitAppeal(ctx context.Context, userID, itemID uuid.UUID, reason string) (*models.ModerationAppeal, error) {
	if reason == "" {
		return nil, errors.New("appeal reason is required")
	}
	appeal := models.ModerationAppeal{
		ID:               uuid.New(),
		ModerationItemID: itemID,
		UserID:           userID,
		Reason:           reason,
		Status:           models.ModerationStatusPending,
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.ModerationQueueItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if item.ContentType == ContentTypeComment {
			var comment models.Comment
			err := tx.Select("user_id").Where("id = ?", item.ContentID).First(&comment).Error
			if err == nil && comment.UserID != userID {
				return ErrNotContentAuthor
			}
		}

		var open int64
		if err := tx.Model(&models.ModerationAppeal{}).
			Where("moderation_item_id = ? AND status = ?", itemID, models.ModerationStatusPending).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrAppealExists
		}
		return tx.Create(&appeal).Error
	})
	if err != nil {
		return nil, err
	}
	return &appeal, nil
}

// ResolveAppeal closes a pending appeal. Approving an appeal also
// reverses the original decision on the queue item.
func (m *Moderator) ResolveAppeal(ctx context.Context, appealID, moderatorID uuid.UUID, decision, resolution string) (*models.ModerationAppeal, error) {
	var status string
	switch decision {
	case "approve":
		status = models.ModerationStatusApproved
	case "reject":
		status = models.ModerationStatusRejected
	default:
		return nil, ErrInvalidDecision
	}

	var appeal models.ModerationAppeal
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", appealID).First(&appeal).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if appeal.Status != models.ModerationStatusPending {
			return ErrAlreadyResolved
		}

		now := time.Now()
		appeal.Status = status
		appeal.ResolvedBy = &moderatorID
		appeal.ResolvedAt = &now
		if resolution != "" {
			appeal.Resolution = &resolution
		}
		if err := tx.Save(&appeal).Error; err != nil {
			return err
		}

		if status == models.ModerationStatusApproved {
			return tx.Model(&models.ModerationQueueItem{}).
				Where("id = ?", appeal.ModerationItemID).
				Updates(map[string]any{
					"status":      models.ModerationStatusApproved,
					"reviewed_by": moderatorID,
					"reviewed_at": now,
				}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &appeal, nil
}
