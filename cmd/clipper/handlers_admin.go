package main

import (
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const trendingRefreshWindow = 7 * 24 * time.Hour

func (srv *Server) registerModerationRoutes(g *echo.Group) {
	g.POST("/moderation/appeals", srv.HandleSubmitAppeal, requireAuth, srv.rateLimit("appeal", 5, time.Hour))

	mod := g.Group("/admin/moderation", requireRole(models.RoleModerator, models.RoleAdmin))
	mod.GET("/queue", srv.HandleModerationQueue)
	mod.POST("/queue/:id/review", srv.HandleReviewQueueItem)
	mod.POST("/appeals/:id/resolve", srv.HandleResolveAppeal)

	clips := g.Group("/admin/clips", requireRole(models.RoleModerator, models.RoleAdmin))
	clips.POST("/:id/approve", srv.HandleApproveClip)
	clips.POST("/:id/reject", srv.HandleRejectClip)
}

func (srv *Server) registerAdminRoutes(g *echo.Group) {
	admin := g.Group("/admin", requireRole(models.RoleAdmin))
	admin.POST("/sync/clips", srv.HandleSyncClips)
	admin.GET("/webhooks/dlq", srv.HandleListDeadLetters)
	admin.POST("/webhooks/dlq/:id/replay", srv.HandleReplayDeadLetter)
	admin.DELETE("/webhooks/dlq/:id", srv.HandleDeleteDeadLetter)
	admin.POST("/users/:id/badges", srv.HandleAwardBadge)
	admin.DELETE("/users/:id/badges/:badge_id", srv.HandleRemoveBadge)
	admin.POST("/users/:id/karma", srv.HandleAdjustKarma)
}

func (srv *Server) HandleSubmitAppeal(c echo.Context) error {
	var req struct {
		ItemID uuid.UUID `json:"moderation_item_id"`
		Reason string    `json:"reason"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Reason == "" || len(req.Reason) > 2000 {
		return echo.NewHTTPError(http.StatusBadRequest, "reason must be 1 to 2000 characters")
	}
	appeal, err := srv.svc.moderator.SubmitAppeal(c.Request().Context(), currentUser(c).ID, req.ItemID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appeal)
}

func (srv *Server) HandleModerationQueue(c echo.Context) error {
	limit, offset, err := pagination(c, 50)
	if err != nil {
		return err
	}
	status := c.QueryParam("status")
	if status == "" {
		status = models.ModerationStatusPending
	}
	items, err := srv.svc.moderator.Queue(c.Request().Context(), status, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (srv *Server) HandleReviewQueueItem(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Approve *bool `json:"approve"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Approve == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approve is required")
	}
	if err := srv.svc.moderator.Review(c.Request().Context(), id, currentUser(c).ID, *req.Approve); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleResolveAppeal(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Decision   string `json:"decision"`
		Resolution string `json:"resolution"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	appeal, err := srv.svc.moderator.ResolveAppeal(c.Request().Context(), id, currentUser(c).ID, req.Decision, req.Resolution)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appeal)
}

func (srv *Server) HandleApproveClip(c echo.Context) error {
	return srv.decideClip(c, true)
}

func (srv *Server) HandleRejectClip(c echo.Context) error {
	return srv.decideClip(c, false)
}

// decideClip publishes or removes a submitted clip, keeps the search index
// in step and notifies webhook subscribers.
func (srv *Server) decideClip(c echo.Context, approve bool) error {
	ctx := c.Request().Context()
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var clip models.Clip
	if err := srv.svc.db.WithContext(ctx).Where("id = ?", id).Take(&clip).Error; err != nil {
		return err
	}

	update := map[string]any{"is_hidden": false}
	event := models.WebhookEventClipApproved
	if !approve {
		update = map[string]any{"is_removed": true}
		event = models.WebhookEventClipRejected
	}
	if err := srv.svc.db.WithContext(ctx).Model(&clip).Updates(update).Error; err != nil {
		return err
	}
	if err := srv.svc.db.WithContext(ctx).Where("id = ?", id).Take(&clip).Error; err != nil {
		return err
	}

	if srv.svc.index != nil {
		if err := srv.svc.index.IndexClip(ctx, &clip); err != nil {
			srv.logger.Error("updating search index", "clip", clip.ID, "err", err)
		}
	}
	srv.triggerClipEvent(ctx, event, &clip)
	return c.JSON(http.StatusOK, clip)
}

func (srv *Server) HandleSyncClips(c echo.Context) error {
	n, err := srv.svc.trending.Refresh(c.Request().Context(), trendingRefreshWindow)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (srv *Server) HandleListDeadLetters(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return err
	}
	items, total, err := srv.svc.webhooks.ListDeadLetters(c.Request().Context(), nil, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": total, "page": page})
}

func (srv *Server) HandleReplayDeadLetter(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	dl, err := srv.svc.webhooks.ReplayDeadLetter(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dl)
}

func (srv *Server) HandleDeleteDeadLetter(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.webhooks.DeleteDeadLetter(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleAwardBadge(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		BadgeID string `json:"badge_id"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	admin := currentUser(c)
	awarded, err := srv.svc.reputation.AwardBadge(c.Request().Context(), id, req.BadgeID, &admin.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"badge_id": req.BadgeID, "awarded": awarded})
}

func (srv *Server) HandleRemoveBadge(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.reputation.RemoveBadge(c.Request().Context(), id, c.Param("badge_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleAdjustKarma(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Amount int `json:"amount"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Amount == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be non-zero")
	}
	if err := srv.svc.reputation.AdjustKarma(ctx, id, req.Amount); err != nil {
		return err
	}
	var user models.User
	if err := srv.svc.db.WithContext(ctx).Select("id", "karma_points").Where("id = ?", id).Take(&user).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user_id": id, "karma_points": user.KarmaPoints})
}
