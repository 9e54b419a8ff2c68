package main

import (
	"net/http"

	"github.com/subculture-collective/clipper/reputation"
	"github.com/subculture-collective/clipper/watchhistory"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (srv *Server) registerUserRoutes(g *echo.Group) {
	g.GET("/users/:id/reputation", srv.HandleUserReputation)
	g.GET("/users/:id/karma", srv.HandleUserKarma)
	g.GET("/users/:id/badges", srv.HandleUserBadges)
	g.GET("/leaderboards/:type", srv.HandleLeaderboard)
	g.GET("/badges", srv.HandleListBadges)
}

func (srv *Server) HandleUserReputation(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	rep, err := srv.svc.reputation.GetUserReputation(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (srv *Server) HandleUserKarma(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", reputation.DefaultPageLimit)
	if err != nil {
		return err
	}
	breakdown, err := srv.svc.reputation.KarmaBreakdown(ctx, id)
	if err != nil {
		return err
	}
	history, err := srv.svc.reputation.KarmaHistory(ctx, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"breakdown": breakdown, "history": history})
}

func (srv *Server) HandleUserBadges(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	badges, err := srv.svc.reputation.UserBadges(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"badges": badges})
}

func (srv *Server) HandleListBadges(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"badges": reputation.AllBadges()})
}

func (srv *Server) HandleLeaderboard(c echo.Context) error {
	limit, offset, err := pagination(c, reputation.DefaultPageLimit)
	if err != nil {
		return err
	}
	entries, err := srv.svc.reputation.Leaderboard(c.Request().Context(), c.Param("type"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"type": c.Param("type"), "entries": entries, "limit": limit, "offset": offset})
}

func (srv *Server) registerWatchHistoryRoutes(g *echo.Group) {
	g.POST("/watch-history", srv.HandleRecordProgress, requireAuth)
	g.GET("/watch-history", srv.HandleWatchHistory, requireAuth)
	g.DELETE("/watch-history", srv.HandleClearWatchHistory, requireAuth)
	g.PUT("/watch-history/settings", srv.HandleWatchHistorySettings, requireAuth)
}

type recordProgressRequest struct {
	ClipID          uuid.UUID `json:"clip_id"`
	ProgressSeconds int       `json:"progress_seconds"`
	DurationSeconds int       `json:"duration_seconds"`
	SessionID       string    `json:"session_id"`
}

func (srv *Server) HandleRecordProgress(c echo.Context) error {
	var req recordProgressRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	recorded, err := srv.svc.watch.RecordProgress(c.Request().Context(), currentUser(c).ID, watchhistory.ProgressUpdate{
		ClipID:          req.ClipID,
		ProgressSeconds: req.ProgressSeconds,
		DurationSeconds: req.DurationSeconds,
		SessionID:       req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"recorded": recorded})
}

func (srv *Server) HandleWatchHistory(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	filter := c.QueryParam("filter")
	if filter == "" {
		filter = watchhistory.FilterAll
	}
	entries, err := srv.svc.watch.History(c.Request().Context(), currentUser(c).ID, filter, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"history": entries, "total": len(entries)})
}

func (srv *Server) HandleClearWatchHistory(c echo.Context) error {
	n, err := srv.svc.watch.Clear(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

func (srv *Server) HandleWatchHistorySettings(c echo.Context) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	if err := srv.svc.watch.SetEnabled(c.Request().Context(), currentUser(c).ID, *req.Enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
