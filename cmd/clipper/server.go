package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subculture-collective/clipper/csrf"
	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/query"
	"github.com/subculture-collective/clipper/ratelimit"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
)

type Server struct {
	svc    *services
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	cookiesSecure bool
	rateLimits    ratelimit.MiddlewareConfig
}

type Config struct {
	Bind        string
	CORSOrigins []string
	// marks auth and CSRF cookies Secure
	SecureCookies      bool
	RateLimitWhitelist []string
	// disables the implicit loopback rate limit bypass
	DisableLoopbackBypass bool
	// HTTP metrics are registered here; defaults to the global registry
	MetricsRegisterer prometheus.Registerer
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details query.ValidationErrors `json:"details,omitempty"`
}

func NewServer(svc *services, config Config) *Server {
	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		svc:    svc,
		echo:   e,
		logger: svc.logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(svc.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "clipper",
		Registerer: config.MetricsRegisterer,
	}))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	if len(config.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     config.CORSOrigins,
			AllowCredentials: true,
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, csrf.HeaderName},
			ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", csrf.HeaderName},
		}))
	}

	api := e.Group("/api/v1")
	api.Use(srv.loadUser)
	srv.rateLimits = ratelimit.MiddlewareConfig{
		Limiter: svc.limiter,
		KeyFunc: func(c echo.Context) string {
			if u := currentUser(c); u != nil {
				return "user:" + u.ID.String()
			}
			return "ip:" + c.RealIP()
		},
		IsAdmin: func(c echo.Context) bool {
			u := currentUser(c)
			return u != nil && u.Role == models.RoleAdmin
		},
		Whitelist:                config.RateLimitWhitelist,
		DisableLoopbackWhitelist: config.DisableLoopbackBypass,
	}
	api.Use(ratelimit.Middleware(srv.rateLimits))
	api.Use(csrf.Middleware(csrf.Config{
		Store:        svc.csrfStore,
		SecureCookie: config.SecureCookies,
		Logger:       svc.logger,
	}))
	srv.cookiesSecure = config.SecureCookies

	e.GET("/_health", srv.HandleHealthCheck)
	api.GET("/_health", srv.HandleHealthCheck)
	api.GET("/version", srv.HandleVersion)
	srv.registerAuthRoutes(api)
	srv.registerClipRoutes(api)
	srv.registerUserRoutes(api)
	srv.registerWatchHistoryRoutes(api)
	srv.registerFeedRoutes(api)
	srv.registerWebhookRoutes(api)
	srv.registerModerationRoutes(api)
	srv.registerAdminRoutes(api)

	return srv
}

// rateLimit adds a stricter limit on top of the API-wide one. Routes sharing
// a scope share its limit, each route with its own count.
func (srv *Server) rateLimit(scope string, limit int64, window time.Duration) echo.MiddlewareFunc {
	cfg := srv.rateLimits
	cfg.Limiter = srv.svc.limiter.WithLimit(limit, window)
	cfg.Scope = scope
	return ratelimit.Middleware(cfg)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if sqldb, err := srv.svc.db.DB(); err != nil || sqldb.PingContext(c.Request().Context()) != nil {
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "clipper", Message: "database unavailable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "clipper"})
}

func (srv *Server) HandleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version":  versioninfo.Short(),
		"revision": versioninfo.Revision,
	})
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	// the request logger reports errors it has already handed to us
	if c.Response().Committed {
		return
	}
	code, msg := errorStatus(err)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("clipper-http-internal-error", "err", err, "path", c.Path())
		msg = http.StatusText(code)
	}
	resp := ErrorResponse{Error: msg}
	var verrs query.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Details = verrs
	}
	if c.Request().Method == http.MethodHead {
		c.NoContent(code)
		return
	}
	c.JSON(code, resp)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for a signal to exit.
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exitSignals:
		srv.logger.Info("received OS exit signal", "signal", sig)
	case err := <-errCh:
		return err
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
		return err
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
