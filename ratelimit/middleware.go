package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type MiddlewareConfig struct {
	Limiter *Limiter
	// separates the counters of limiters stacked on the same route
	Scope string
	// identifies the caller, defaults to the client IP
	KeyFunc func(c echo.Context) string
	// callers for which this returns true are never limited
	IsAdmin func(c echo.Context) bool
	// extra IPs that bypass limiting
	Whitelist []string
	// drops the implicit loopback whitelist
	DisableLoopbackWhitelist bool
}

// Middleware enforces the limiter per route and caller, keyed as
// ratelimit:<route>:<caller>, or ratelimit:<scope>:<route>:<caller> when a
// scope is set.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	whitelist := make(map[string]bool, len(cfg.Whitelist)+2)
	if !cfg.DisableLoopbackWhitelist {
		whitelist["127.0.0.1"] = true
		whitelist["::1"] = true
	}
	for _, ip := range cfg.Whitelist {
		whitelist[ip] = true
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	prefix := "ratelimit:"
	if cfg.Scope != "" {
		prefix += cfg.Scope + ":"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			if whitelist[c.RealIP()] {
				h.Set("X-RateLimit-Bypass", "whitelisted")
				return next(c)
			}
			if cfg.IsAdmin != nil && cfg.IsAdmin(c) {
				h.Set("X-RateLimit-Bypass", "admin")
				return next(c)
			}

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = c.Request().URL.Path
			}
			d := cfg.Limiter.Allow(c.Request().Context(), prefix+endpoint+":"+keyFunc(c))

			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			if d.Remaining >= 0 {
				h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			}
			if !d.Reset.IsZero() {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			}
			if d.Fallback {
				h.Set("X-RateLimit-Fallback", "true")
			}
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			}
			return next(c)
		}
	}
}
