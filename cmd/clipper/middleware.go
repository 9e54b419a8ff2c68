package main

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/subculture-collective/clipper/auth"
	"github.com/subculture-collective/clipper/csrf"
	"github.com/subculture-collective/clipper/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const userContextKey = "clipper.user"

func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if ck, err := c.Cookie(csrf.AccessCookieName); err == nil {
		return ck.Value
	}
	return ""
}

// loadUser attaches the authenticated user, if any, to the request. A
// token that fails validation is remembered so protected routes can
// answer 401 with the reason.
func (srv *Server) loadUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := bearerToken(c)
		if tok == "" {
			return next(c)
		}
		user, _, err := srv.svc.auth.Authenticate(c.Request().Context(), tok)
		if err != nil {
			c.Set("clipper.auth_err", err)
			return next(c)
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *models.User {
	u, _ := c.Get(userContextKey).(*models.User)
	return u
}

func viewerID(c echo.Context) *uuid.UUID {
	if u := currentUser(c); u != nil {
		return &u.ID
	}
	return nil
}

func requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if currentUser(c) != nil {
			return next(c)
		}
		if err, ok := c.Get("clipper.auth_err").(error); ok {
			if errors.Is(err, auth.ErrUserBanned) {
				return echo.NewHTTPError(http.StatusForbidden, "account is banned")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
}

func requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return requireAuth(func(c echo.Context) error {
			if !slices.Contains(roles, currentUser(c).Role) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		})
	}
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}
