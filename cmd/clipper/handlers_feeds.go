package main

import (
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/feeds"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (srv *Server) registerFeedRoutes(g *echo.Group) {
	feedWrites := srv.rateLimit("feed-write", 20, time.Minute)
	g.POST("/feeds", srv.HandleCreateFeed, requireAuth, srv.rateLimit("feed-create", 10, time.Hour))
	g.GET("/feeds/discover", srv.HandleDiscoverFeeds)
	g.GET("/feeds/search", srv.HandleSearchFeeds)
	g.GET("/feeds/following", srv.HandleFollowedFeeds, requireAuth)
	g.GET("/users/:id/feeds", srv.HandleUserFeeds)
	g.GET("/feeds/:id", srv.HandleGetFeed)
	g.PATCH("/feeds/:id", srv.HandleUpdateFeed, requireAuth)
	g.DELETE("/feeds/:id", srv.HandleDeleteFeed, requireAuth)
	g.GET("/feeds/:id/clips", srv.HandleFeedClips)
	g.POST("/feeds/:id/clips", srv.HandleAddFeedClip, requireAuth, feedWrites)
	g.PUT("/feeds/:id/clips/order", srv.HandleReorderFeedClips, requireAuth)
	g.DELETE("/feeds/:id/clips/:clip_id", srv.HandleRemoveFeedClip, requireAuth)
	g.POST("/feeds/:id/follow", srv.HandleFollowFeed, requireAuth, feedWrites)
	g.DELETE("/feeds/:id/follow", srv.HandleUnfollowFeed, requireAuth)
}

func (srv *Server) HandleCreateFeed(c echo.Context) error {
	var req feeds.CreateFeedRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	feed, err := srv.svc.feeds.CreateFeed(c.Request().Context(), currentUser(c).ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, feed)
}

func (srv *Server) HandleDiscoverFeeds(c echo.Context) error {
	limit, offset, err := pagination(c, 20)
	if err != nil {
		return err
	}
	out, err := srv.svc.feeds.DiscoverPublicFeeds(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out, "limit": limit, "offset": offset})
}

func (srv *Server) HandleSearchFeeds(c echo.Context) error {
	limit, offset, err := pagination(c, 20)
	if err != nil {
		return err
	}
	out, err := srv.svc.feeds.SearchFeeds(c.Request().Context(), c.QueryParam("q"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out, "limit": limit, "offset": offset})
}

func (srv *Server) HandleFollowedFeeds(c echo.Context) error {
	out, err := srv.svc.feeds.FollowedFeeds(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out})
}

func (srv *Server) HandleUserFeeds(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	out, err := srv.svc.feeds.ListUserFeeds(c.Request().Context(), id, viewerID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out})
}

func (srv *Server) HandleGetFeed(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	feed, err := srv.svc.feeds.GetFeed(ctx, id, viewerID(c))
	if err != nil {
		return err
	}
	out := map[string]any{"feed": feed}
	if u := currentUser(c); u != nil {
		following, err := srv.svc.feeds.IsFollowing(ctx, u.ID, id)
		if err != nil {
			return err
		}
		out["is_following"] = following
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleUpdateFeed(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req feeds.UpdateFeedRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	feed, err := srv.svc.feeds.UpdateFeed(c.Request().Context(), id, currentUser(c).ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, feed)
}

func (srv *Server) HandleDeleteFeed(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.feeds.DeleteFeed(c.Request().Context(), id, currentUser(c).ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleFeedClips(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	clips, err := srv.svc.feeds.FeedClips(c.Request().Context(), id, viewerID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"clips": clips})
}

func (srv *Server) HandleAddFeedClip(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		ClipID uuid.UUID `json:"clip_id"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	item, err := srv.svc.feeds.AddClip(c.Request().Context(), id, currentUser(c).ID, req.ClipID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, item)
}

func (srv *Server) HandleReorderFeedClips(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		ClipIDs []uuid.UUID `json:"clip_ids"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := srv.svc.feeds.ReorderClips(c.Request().Context(), id, currentUser(c).ID, req.ClipIDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleRemoveFeedClip(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	clipID, err := pathUUID(c, "clip_id")
	if err != nil {
		return err
	}
	if err := srv.svc.feeds.RemoveClip(c.Request().Context(), id, currentUser(c).ID, clipID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleFollowFeed(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.feeds.Follow(c.Request().Context(), currentUser(c).ID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"following": true})
}

func (srv *Server) HandleUnfollowFeed(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.feeds.Unfollow(c.Request().Context(), currentUser(c).ID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"following": false})
}
