package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/query"
	"github.com/subculture-collective/clipper/reputation"
	"github.com/subculture-collective/clipper/watchhistory"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const maxCommentLength = 10_000

func (srv *Server) registerClipRoutes(g *echo.Group) {
	voteLimit := srv.rateLimit("vote", 20, time.Minute)
	favoriteLimit := srv.rateLimit("favorite", 30, time.Minute)

	g.GET("/clips/search", srv.HandleSearchClips)
	g.GET("/clips/trending", srv.HandleTrendingClips)
	g.POST("/clips", srv.HandleSubmitClip, requireAuth, srv.rateLimit("submit", 10, time.Hour))
	g.GET("/clips/:id", srv.HandleGetClip)
	g.POST("/clips/:id/vote", srv.HandleVoteClip, requireAuth, voteLimit)
	g.POST("/clips/:id/favorite", srv.HandleAddFavorite, requireAuth, favoriteLimit)
	g.DELETE("/clips/:id/favorite", srv.HandleRemoveFavorite, requireAuth, favoriteLimit)
	g.GET("/clips/:id/comments", srv.HandleListComments)
	g.GET("/clips/:id/progress", srv.HandleClipProgress, requireAuth)
	g.GET("/favorites", srv.HandleListFavorites, requireAuth)

	g.POST("/comments", srv.HandleCreateComment, requireAuth, srv.rateLimit("comment", 10, time.Minute))
	g.POST("/comments/:id/vote", srv.HandleVoteComment, requireAuth, voteLimit)
	g.GET("/forum/replies/:id/votes", srv.HandleGetCommentVotes)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func pagination(c echo.Context, defLimit int) (limit, offset int, err error) {
	if limit, err = queryInt(c, "limit", defLimit); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(c, "offset", 0); err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "offset cannot be negative")
	}
	return limit, offset, nil
}

func (srv *Server) HandleSearchClips(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	opts := query.Options{
		Page:      page,
		Limit:     limit,
		SortField: c.QueryParam("sort"),
		SortDir:   c.QueryParam("order"),
	}
	res, err := srv.svc.searcher.SearchClips(c.Request().Context(), c.QueryParam("q"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleTrendingClips(c echo.Context) error {
	limit, offset, err := pagination(c, 20)
	if err != nil {
		return err
	}
	clips, err := srv.svc.trending.TopTrending(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"clips": clips, "limit": limit, "offset": offset})
}

type clipView struct {
	*models.Clip
	UserVote    *int                         `json:"user_vote,omitempty"`
	IsFavorited *bool                        `json:"is_favorited,omitempty"`
	Progress    *watchhistory.ResumePosition `json:"progress,omitempty"`
}

func (srv *Server) HandleGetClip(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var clip models.Clip
	if err := srv.svc.db.WithContext(ctx).Where("id = ? AND is_removed = ?", id, false).Take(&clip).Error; err != nil {
		return err
	}
	user := currentUser(c)
	if clip.IsHidden && (user == nil || (!user.IsModerator() && !isSubmitter(&clip, user))) {
		return gorm.ErrRecordNotFound
	}

	if !clip.IsHidden {
		if err := srv.svc.trending.RecordView(ctx, clip.ID); err != nil {
			srv.logger.Warn("recording clip view", "clip", clip.ID, "err", err)
		} else {
			clip.ViewCount++
		}
	}

	view := clipView{Clip: &clip}
	if user != nil {
		var vote models.Vote
		err := srv.svc.db.WithContext(ctx).Where("user_id = ? AND clip_id = ?", user.ID, clip.ID).Take(&vote).Error
		if err == nil {
			v := int(vote.VoteType)
			view.UserVote = &v
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		fav, err := srv.svc.reputation.IsFavorited(ctx, user.ID, clip.ID)
		if err != nil {
			return err
		}
		view.IsFavorited = &fav
		pos, err := srv.svc.watch.ResumePosition(ctx, user.ID, clip.ID)
		if err != nil {
			return err
		}
		if pos.HasProgress {
			view.Progress = &pos
		}
	}
	return c.JSON(http.StatusOK, view)
}

func isSubmitter(clip *models.Clip, user *models.User) bool {
	return clip.SubmittedByUserID != nil && *clip.SubmittedByUserID == user.ID
}

type submitClipRequest struct {
	TwitchClipID    string   `json:"twitch_clip_id"`
	TwitchClipURL   string   `json:"twitch_clip_url"`
	EmbedURL        string   `json:"embed_url"`
	Title           string   `json:"title"`
	CreatorName     string   `json:"creator_name"`
	BroadcasterName string   `json:"broadcaster_name"`
	GameName        *string  `json:"game_name,omitempty"`
	Language        *string  `json:"language,omitempty"`
	ThumbnailURL    *string  `json:"thumbnail_url,omitempty"`
	Duration        *float64 `json:"duration,omitempty"`
	IsNSFW          bool     `json:"is_nsfw"`
}

// HandleSubmitClip records a submission as a hidden clip awaiting moderator
// approval.
func (srv *Server) HandleSubmitClip(c echo.Context) error {
	ctx := c.Request().Context()
	user := currentUser(c)
	if ok, required := reputation.CanPerformAction(user.KarmaPoints, "submit_clips"); !ok {
		return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("submitting clips requires %d karma", required))
	}

	var req submitClipRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.TwitchClipID == "" || req.Title == "" || utf8.RuneCountInString(req.Title) > 255 {
		return echo.NewHTTPError(http.StatusBadRequest, "twitch_clip_id and a title of at most 255 characters are required")
	}

	now := time.Now()
	clip := models.Clip{
		ID:                uuid.New(),
		TwitchClipID:      req.TwitchClipID,
		TwitchClipURL:     req.TwitchClipURL,
		EmbedURL:          req.EmbedURL,
		Title:             req.Title,
		CreatorName:       req.CreatorName,
		BroadcasterName:   req.BroadcasterName,
		GameName:          req.GameName,
		Language:          req.Language,
		ThumbnailURL:      req.ThumbnailURL,
		Duration:          req.Duration,
		IsNSFW:            req.IsNSFW,
		IsHidden:          true,
		SubmittedByUserID: &user.ID,
		CreatedAt:         now,
		ImportedAt:        now,
	}
	if err := srv.svc.db.WithContext(ctx).Create(&clip).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return echo.NewHTTPError(http.StatusConflict, "clip already submitted")
		}
		return err
	}
	if err := srv.svc.reputation.IncrementUserActivity(ctx, user.ID, reputation.ActivitySubmission, 1); err != nil {
		srv.logger.Warn("recording submission activity", "user", user.ID, "err", err)
	}
	srv.triggerClipEvent(ctx, models.WebhookEventClipSubmitted, &clip)
	return c.JSON(http.StatusCreated, clip)
}

// triggerClipEvent fans a clip lifecycle event out to webhook subscribers.
// Failures are logged; deliveries are retried by the worker.
func (srv *Server) triggerClipEvent(ctx context.Context, event string, clip *models.Clip) {
	data := map[string]any{
		"clip_id":          clip.ID.String(),
		"twitch_clip_id":   clip.TwitchClipID,
		"title":            clip.Title,
		"broadcaster_name": clip.BroadcasterName,
	}
	if clip.SubmittedByUserID != nil {
		data["submitted_by"] = clip.SubmittedByUserID.String()
	}
	if _, err := srv.svc.webhooks.TriggerEvent(ctx, event, data); err != nil {
		srv.logger.Error("triggering webhook event", "event", event, "clip", clip.ID, "err", err)
	}
}

type voteRequest struct {
	Vote *int `json:"vote"`
}

func (r voteRequest) dir() (models.VoteDir, error) {
	if r.Vote == nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "vote is required")
	}
	switch *r.Vote {
	case -1, 0, 1:
		return models.VoteDir(*r.Vote), nil
	}
	return 0, reputation.ErrInvalidVote
}

func (srv *Server) HandleVoteClip(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req voteRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	dir, err := req.dir()
	if err != nil {
		return err
	}
	res, err := srv.svc.reputation.VoteClip(c.Request().Context(), currentUser(c).ID, id, dir)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleAddFavorite(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := srv.svc.reputation.AddFavorite(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleRemoveFavorite(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := srv.svc.reputation.RemoveFavorite(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleListFavorites(c echo.Context) error {
	limit, offset, err := pagination(c, reputation.DefaultPageLimit)
	if err != nil {
		return err
	}
	clips, total, err := srv.svc.reputation.ListFavorites(c.Request().Context(), currentUser(c).ID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"clips": clips, "total": total, "limit": limit, "offset": offset})
}

func (srv *Server) HandleListComments(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	limit, offset, err := pagination(c, reputation.DefaultPageLimit)
	if err != nil {
		return err
	}
	opts := reputation.CommentListOptions{
		Sort:   c.QueryParam("sort"),
		Viewer: viewerID(c),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.QueryParam("parent_id"); raw != "" {
		parent, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "parent_id must be a uuid")
		}
		opts.ParentID = &parent
	}
	comments, total, err := srv.svc.reputation.ListComments(c.Request().Context(), id, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments, "total": total, "limit": limit, "offset": offset})
}

func (srv *Server) HandleClipProgress(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	pos, err := srv.svc.watch.ResumePosition(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pos)
}

type createCommentRequest struct {
	ClipID          uuid.UUID  `json:"clip_id"`
	ParentCommentID *uuid.UUID `json:"parent_comment_id,omitempty"`
	Content         string     `json:"content"`
}

type createCommentResponse struct {
	Comment models.Comment `json:"comment"`
	Flagged bool           `json:"flagged"`
}

// HandleCreateComment stores a comment and runs it through the toxicity
// classifier; flagged comments stay visible but are queued for review.
func (srv *Server) HandleCreateComment(c echo.Context) error {
	ctx := c.Request().Context()
	user := currentUser(c)

	var req createCommentRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || utf8.RuneCountInString(req.Content) > maxCommentLength {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("content must be 1 to %d characters", maxCommentLength))
	}

	comment := models.Comment{
		ID:              uuid.New(),
		ClipID:          req.ClipID,
		UserID:          user.ID,
		ParentCommentID: req.ParentCommentID,
		Content:         req.Content,
	}
	err := srv.svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Clip{}).Where("id = ? AND is_removed = ?", req.ClipID, false).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return reputation.ErrClipNotFound
		}
		if req.ParentCommentID != nil {
			if err := tx.Model(&models.Comment{}).Where("id = ? AND clip_id = ?", *req.ParentCommentID, req.ClipID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return reputation.ErrCommentNotFound
			}
		}
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Clip{}).Where("id = ?", req.ClipID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		return err
	}
	if err := srv.svc.reputation.IncrementUserActivity(ctx, user.ID, reputation.ActivityComment, 1); err != nil {
		srv.logger.Warn("recording comment activity", "user", user.ID, "err", err)
	}

	_, item, err := srv.svc.moderator.ProcessComment(ctx, comment.ID, comment.Content)
	if err != nil {
		// the comment is already stored
		srv.logger.Error("classifying comment", "comment", comment.ID, "err", err)
	}
	return c.JSON(http.StatusCreated, createCommentResponse{Comment: comment, Flagged: item != nil})
}

func (srv *Server) HandleVoteComment(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req voteRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	dir, err := req.dir()
	if err != nil {
		return err
	}
	res, err := srv.svc.reputation.VoteComment(c.Request().Context(), currentUser(c).ID, id, dir)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleGetCommentVotes(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := srv.svc.reputation.GetVotes(c.Request().Context(), id, viewerID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
