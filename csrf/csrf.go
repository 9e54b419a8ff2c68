// Package csrf implements double-submit cookie protection for browser
// sessions authenticated by the access_token cookie.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	TokenLength      = 32
	HeaderName       = "X-CSRF-Token"
	CookieName       = "csrf_token"
	TokenTTL         = 24 * time.Hour
	AccessCookieName = "access_token"
)

type Config struct {
	Store Store
	// marks the token cookie Secure
	SecureCookie bool
	Logger       *slog.Logger
}

func generateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Middleware issues tokens on safe requests and checks them on unsafe ones.
// Requests that carry no access_token cookie are not cookie-authenticated
// and pass unchecked.
func Middleware(cfg Config) echo.MiddlewareFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "csrf")
	store := cfg.Store
	if store == nil {
		store = NewMemStore(100_000, TokenTTL)
	}

	ensure := func(c echo.Context) {
		ctx := c.Request().Context()
		if ck, err := c.Cookie(CookieName); err == nil && ck.Value != "" {
			ok, err := store.Exists(ctx, ck.Value)
			if err == nil && ok {
				c.Response().Header().Set(HeaderName, ck.Value)
				return
			}
		}
		token, err := generateToken()
		if err != nil {
			logger.Error("generating csrf token", "err", err)
			return
		}
		if err := store.Save(ctx, token, TokenTTL); err != nil {
			logger.Error("storing csrf token", "err", err)
			return
		}
		tokensIssued.Inc()
		c.SetCookie(&http.Cookie{
			Name:     CookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(TokenTTL.Seconds()),
			Secure:   cfg.SecureCookie,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		c.Response().Header().Set(HeaderName, token)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				ensure(c)
				return next(c)
			}

			if _, err := c.Cookie(AccessCookieName); err != nil {
				return next(c)
			}

			header := c.Request().Header.Get(HeaderName)
			var cookie string
			if ck, err := c.Cookie(CookieName); err == nil {
				cookie = ck.Value
			}
			if header == "" || cookie == "" {
				rejections.WithLabelValues("missing").Inc()
				return echo.NewHTTPError(http.StatusForbidden, "CSRF token missing")
			}
			if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
				rejections.WithLabelValues("mismatch").Inc()
				return echo.NewHTTPError(http.StatusForbidden, "CSRF token invalid")
			}
			ok, err := store.Exists(c.Request().Context(), cookie)
			if err != nil {
				logger.Error("checking csrf token", "err", err)
			}
			if err != nil || !ok {
				rejections.WithLabelValues("unknown").Inc()
				return echo.NewHTTPError(http.StatusForbidden, "CSRF token validation failed")
			}
			return next(c)
		}
	}
}
