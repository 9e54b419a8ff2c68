package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

type VoteResult struct {
	VoteScore int            `json:"vote_score"`
	UserVote  models.VoteDir `json:"user_vote"`
}

func validVote(dir models.VoteDir) bool {
	return dir == models.VoteDirUp || dir == models.VoteDirDown || dir == models.VoteDirNone
}

// VoteClip sets the user's vote on a clip. VoteDirNone clears it. The clip's
// vote_score moves by the difference between the new and previous vote, and
// the submitter's karma moves with it.
func (s *Service) VoteClip(ctx context.Context, userID, clipID uuid.UUID, dir models.VoteDir) (*VoteResult, error) {
	if !validVote(dir) {
		return nil, ErrInvalidVote
	}
	res := &VoteResult{UserVote: dir}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clip models.Clip
		err := tx.Select("id", "vote_score", "submitted_by_user_id").
			Where("id = ? AND is_removed = ?", clipID, false).Take(&clip).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrClipNotFound
		}
		if err != nil {
			return err
		}
		if clip.SubmittedByUserID != nil && *clip.SubmittedByUserID == userID {
			return ErrSelfVote
		}

		var existing models.Vote
		prev := models.VoteDirNone
		err = tx.Where("user_id = ? AND clip_id = ?", userID, clipID).Take(&existing).Error
		switch {
		case err == nil:
			prev = existing.VoteType
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		now := s.now()
		switch {
		case dir == prev:
			res.VoteScore = clip.VoteScore
			return nil
		case dir == models.VoteDirNone:
			err = tx.Delete(&models.Vote{}, "id = ?", existing.ID).Error
		case prev == models.VoteDirNone:
			err = tx.Create(&models.Vote{
				ID:        uuid.New(),
				UserID:    userID,
				ClipID:    clipID,
				VoteType:  dir,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error
			if err == nil {
				err = incrementActivity(tx, userID, ActivityVote, 1, now)
			}
		default:
			err = tx.Model(&models.Vote{}).Where("id = ?", existing.ID).
				UpdateColumns(map[string]any{"vote_type": dir, "updated_at": now}).Error
		}
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("concurrent vote on clip %s: %w", clipID, err)
			}
			return err
		}

		delta := int(dir) - int(prev)
		err = tx.Model(&models.Clip{}).Where("id = ?", clipID).
			UpdateColumn("vote_score", gorm.Expr("vote_score + ?", delta)).Error
		if err != nil {
			return err
		}
		res.VoteScore = clip.VoteScore + delta
		if clip.SubmittedByUserID != nil {
			return addKarma(tx, *clip.SubmittedByUserID, delta, models.KarmaSourceClipVote, &clipID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	votesCast.WithLabelValues("clip", dir.String()).Inc()
	return res, nil
}

// VoteComment sets the user's vote on a comment, adjusting the comment's
// score and its author's karma.
func (s *Service) VoteComment(ctx context.Context, userID, commentID uuid.UUID, dir models.VoteDir) (*VoteResult, error) {
	if !validVote(dir) {
		return nil, ErrInvalidVote
	}
	res := &VoteResult{UserVote: dir}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		err := tx.Select("id", "user_id", "vote_score").
			Where("id = ? AND is_removed = ?", commentID, false).Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCommentNotFound
		}
		if err != nil {
			return err
		}
		if comment.UserID == userID {
			return ErrSelfVote
		}

		var existing models.CommentVote
		prev := models.VoteDirNone
		err = tx.Where("user_id = ? AND comment_id = ?", userID, commentID).Take(&existing).Error
		switch {
		case err == nil:
			prev = existing.VoteType
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		now := s.now()
		switch {
		case dir == prev:
			res.VoteScore = comment.VoteScore
			return nil
		case dir == models.VoteDirNone:
			err = tx.Delete(&models.CommentVote{}, "id = ?", existing.ID).Error
		case prev == models.VoteDirNone:
			err = tx.Create(&models.CommentVote{
				ID:        uuid.New(),
				UserID:    userID,
				CommentID: commentID,
				VoteType:  dir,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error
			if err == nil {
				err = incrementActivity(tx, userID, ActivityVote, 1, now)
			}
		default:
			err = tx.Model(&models.CommentVote{}).Where("id = ?", existing.ID).
				UpdateColumns(map[string]any{"vote_type": dir, "updated_at": now}).Error
		}
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("concurrent vote on comment %s: %w", commentID, err)
			}
			return err
		}

		delta := int(dir) - int(prev)
		err = tx.Model(&models.Comment{}).Where("id = ?", commentID).
			UpdateColumn("vote_score", gorm.Expr("vote_score + ?", delta)).Error
		if err != nil {
			return err
		}
		res.VoteScore = comment.VoteScore + delta
		return addKarma(tx, comment.UserID, delta, models.KarmaSourceCommentVote, &commentID, now)
	})
	if err != nil {
		return nil, err
	}
	votesCast.WithLabelValues("comment", dir.String()).Inc()
	return res, nil
}

type VoteSummary struct {
	CommentID uuid.UUID      `json:"comment_id"`
	Upvotes   int            `json:"upvotes"`
	Downvotes int            `json:"downvotes"`
	Score     int            `json:"score"`
	UserVote  models.VoteDir `json:"user_vote"`
}

// GetVotes tallies the votes on a comment. viewer may be nil for anonymous
// callers, in which case UserVote is always zero.
func (s *Service) GetVotes(ctx context.Context, commentID uuid.UUID, viewer *uuid.UUID) (*VoteSummary, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Comment{}).Where("id = ?", commentID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrCommentNotFound
	}

	var tally struct {
		Upvotes   int
		Downvotes int
	}
	err := db.Model(&models.CommentVote{}).
		Select("COALESCE(SUM(CASE WHEN vote_type = 1 THEN 1 ELSE 0 END), 0) AS upvotes, "+
			"COALESCE(SUM(CASE WHEN vote_type = -1 THEN 1 ELSE 0 END), 0) AS downvotes").
		Where("comment_id = ?", commentID).
		Scan(&tally).Error
	if err != nil {
		return nil, fmt.Errorf("tallying votes: %w", err)
	}

	sum := &VoteSummary{
		CommentID: commentID,
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
		Score:     tally.Upvotes - tally.Downvotes,
	}
	if viewer != nil {
		var v models.CommentVote
		err := db.Where("comment_id = ? AND user_id = ?", commentID, *viewer).Take(&v).Error
		switch {
		case err == nil:
			sum.UserVote = v.VoteType
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}
	return sum, nil
}

