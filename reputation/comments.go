package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

const (
	CommentSortBest = "best"
	CommentSortNew  = "new"
	CommentSortOld  = "old"

	removedCommentContent = "[removed]"
)

var ErrInvalidCommentSort = errors.New("sort must be best, new or old")

var commentOrders = map[string]string{
	CommentSortBest: "comments.vote_score DESC, comments.created_at DESC",
	CommentSortNew:  "comments.created_at DESC",
	CommentSortOld:  "comments.created_at ASC",
}

type CommentListOptions struct {
	Sort string
	// lists replies to this comment instead of top-level comments
	ParentID *uuid.UUID
	// fills UserVote when set
	Viewer *uuid.UUID
	Limit  int
	Offset int
}

type CommentView struct {
	models.Comment
	AuthorUsername string         `json:"author_username"`
	ReplyCount     int            `json:"reply_count"`
	UserVote       models.VoteDir `json:"user_vote"`
}

// ListComments pages through one level of a clip's comment thread. Removed
// comments keep their place so replies stay attached, but their content is
// blanked.
func (s *Service) ListComments(ctx context.Context, clipID uuid.UUID, opts CommentListOptions) ([]CommentView, int64, error) {
	if opts.Sort == "" {
		opts.Sort = CommentSortBest
	}
	order, ok := commentOrders[opts.Sort]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidCommentSort, opts.Sort)
	}
	limit := normalizeLimit(opts.Limit)
	offset := max(opts.Offset, 0)

	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Clip{}).Where("id = ? AND is_removed = ?", clipID, false).Count(&n).Error; err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, ErrClipNotFound
	}

	level := func(q *gorm.DB) *gorm.DB {
		q = q.Where("comments.clip_id = ?", clipID)
		if opts.ParentID != nil {
			return q.Where("comments.parent_comment_id = ?", *opts.ParentID)
		}
		return q.Where("comments.parent_comment_id IS NULL")
	}

	var total int64
	if err := db.Model(&models.Comment{}).Scopes(level).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting comments: %w", err)
	}

	viewer := uuid.Nil
	if opts.Viewer != nil {
		viewer = *opts.Viewer
	}
	views := []CommentView{}
	err := db.Table("comments").
		Select(`comments.*, users.username AS author_username,
			(SELECT COUNT(*) FROM comments AS replies WHERE replies.parent_comment_id = comments.id) AS reply_count,
			COALESCE(comment_votes.vote_type, 0) AS user_vote`).
		Joins("LEFT JOIN users ON users.id = comments.user_id").
		Joins("LEFT JOIN comment_votes ON comment_votes.comment_id = comments.id AND comment_votes.user_id = ?", viewer).
		Scopes(level).
		Order(order).
		Limit(limit).Offset(offset).
		Scan(&views).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing comments: %w", err)
	}
	for i := range views {
		if views[i].IsRemoved {
			views[i].Content = removedCommentContent
			views[i].RemovedReason = nil
		}
	}
	return views, total, nil
}
