package main

import (
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/webhooks"

	"github.com/labstack/echo/v4"
)

func (srv *Server) registerWebhookRoutes(g *echo.Group) {
	wh := g.Group("/webhooks", requireAuth)
	wh.GET("", srv.HandleListWebhooks)
	wh.POST("", srv.HandleCreateWebhook, srv.rateLimit("webhook-create", 10, time.Hour))
	wh.GET("/events", srv.HandleWebhookEvents)
	wh.GET("/:id", srv.HandleGetWebhook)
	wh.PATCH("/:id", srv.HandleUpdateWebhook)
	wh.DELETE("/:id", srv.HandleDeleteWebhook)
	wh.POST("/:id/secret", srv.HandleRegenerateWebhookSecret, srv.rateLimit("webhook-secret", 5, time.Hour))
	wh.GET("/:id/stats", srv.HandleWebhookStats)
	wh.GET("/:id/deliveries", srv.HandleWebhookDeliveries)
}

func (srv *Server) HandleListWebhooks(c echo.Context) error {
	subs, err := srv.svc.webhooks.ListSubscriptions(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"webhooks": subs})
}

func (srv *Server) HandleWebhookEvents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"events": models.SupportedWebhookEvents()})
}

// HandleCreateWebhook is the only response that includes the signing secret.
func (srv *Server) HandleCreateWebhook(c echo.Context) error {
	var req webhooks.CreateSubscriptionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sub, err := srv.svc.webhooks.CreateSubscription(c.Request().Context(), currentUser(c).ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"webhook": sub, "secret": sub.Secret})
}

func (srv *Server) HandleGetWebhook(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	sub, err := srv.svc.webhooks.GetSubscription(c.Request().Context(), id, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (srv *Server) HandleUpdateWebhook(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req webhooks.UpdateSubscriptionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sub, err := srv.svc.webhooks.UpdateSubscription(c.Request().Context(), id, currentUser(c).ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (srv *Server) HandleDeleteWebhook(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := srv.svc.webhooks.DeleteSubscription(c.Request().Context(), id, currentUser(c).ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleRegenerateWebhookSecret(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	secret, err := srv.svc.webhooks.RegenerateSecret(c.Request().Context(), id, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"secret": secret})
}

func (srv *Server) HandleWebhookStats(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	stats, err := srv.svc.webhooks.Stats(c.Request().Context(), id, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (srv *Server) HandleWebhookDeliveries(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return err
	}
	deliveries, total, err := srv.svc.webhooks.ListDeliveries(c.Request().Context(), id, currentUser(c).ID, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"deliveries": deliveries, "total": total, "page": page})
}
