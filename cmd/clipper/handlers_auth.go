package main

import (
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/auth"
	"github.com/subculture-collective/clipper/csrf"

	"github.com/labstack/echo/v4"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/v1/auth"
)

func (srv *Server) registerAuthRoutes(g *echo.Group) {
	authLimit := srv.rateLimit("auth", 10, time.Minute)
	g.GET("/auth/login", srv.HandleLogin, authLimit)
	g.GET("/auth/callback", srv.HandleCallback, authLimit)
	g.POST("/auth/refresh", srv.HandleRefresh, authLimit)
	g.POST("/auth/logout", srv.HandleLogout, authLimit)
	g.GET("/auth/me", srv.HandleMe, requireAuth)
}

func (srv *Server) setSessionCookies(c echo.Context, sess *auth.Session) {
	c.SetCookie(&http.Cookie{
		Name:     csrf.AccessCookieName,
		Value:    sess.AccessToken,
		Path:     "/",
		MaxAge:   int(auth.AccessTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   srv.cookiesSecure,
		SameSite: http.SameSiteLaxMode,
	})
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    sess.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(auth.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   srv.cookiesSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (srv *Server) clearSessionCookies(c echo.Context) {
	for name, path := range map[string]string{csrf.AccessCookieName: "/", refreshCookieName: refreshCookiePath} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Path:     path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   srv.cookiesSecure,
		})
	}
}

// HandleLogin redirects to the identity provider. PKCE parameters are
// optional but must be given together.
func (srv *Server) HandleLogin(c echo.Context) error {
	url, _, err := srv.svc.auth.GenerateAuthURL(
		c.Request().Context(),
		c.QueryParam("code_challenge"),
		c.QueryParam("code_challenge_method"),
		c.QueryParam("state"),
	)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, url)
}

func (srv *Server) HandleCallback(c echo.Context) error {
	if e := c.QueryParam("error"); e != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "authorization denied: "+e)
	}
	sess, err := srv.svc.auth.HandleCallback(
		c.Request().Context(),
		c.QueryParam("code"),
		c.QueryParam("state"),
		c.QueryParam("code_verifier"),
	)
	if err != nil {
		return err
	}
	srv.setSessionCookies(c, sess)
	return c.JSON(http.StatusOK, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func refreshTokenFrom(c echo.Context) string {
	if ck, err := c.Cookie(refreshCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	var body refreshRequest
	if err := c.Bind(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (srv *Server) HandleRefresh(c echo.Context) error {
	tok := refreshTokenFrom(c)
	if tok == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token required")
	}
	sess, err := srv.svc.auth.Refresh(c.Request().Context(), tok)
	if err != nil {
		srv.clearSessionCookies(c)
		return err
	}
	srv.setSessionCookies(c, sess)
	return c.JSON(http.StatusOK, sess)
}

func (srv *Server) HandleLogout(c echo.Context) error {
	if tok := refreshTokenFrom(c); tok != "" {
		if err := srv.svc.auth.Logout(c.Request().Context(), tok); err != nil {
			return err
		}
	}
	srv.clearSessionCookies(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (srv *Server) HandleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, currentUser(c))
}
