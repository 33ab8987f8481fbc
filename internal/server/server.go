// Package server exposes the mailroom over HTTP with echo: the message API
// under /api/messages, accounts under /api/auth and /api/users, the push
// websocket at /ws, and health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/auth"
	"github.com/rbaliyan/mailroom/push"
	"github.com/rs/zerolog"
)

// Banner is served at GET /.
const Banner = "Mailroom API Running"

// Options configures a Server.
type Options struct {
	// CORSOrigins are the allowed origins; "*" allows any.
	CORSOrigins []string
	// ExposeErrors passes internal error text to clients. Development only.
	ExposeErrors bool
	Logger       zerolog.Logger
	// Registry receives the HTTP metrics and backs /metrics. A fresh
	// registry is created when nil.
	Registry *prometheus.Registry
}

// Server is the HTTP front end.
type Server struct {
	echo     *echo.Echo
	svc      mailroom.Service
	auth     *auth.Service
	hub      *push.Hub
	opts     Options
	logger   zerolog.Logger
	metrics  *metrics
	upgrader websocket.Upgrader
}

// New wires routes and middleware. hub may be nil, in which case /ws is
// not served.
func New(svc mailroom.Service, authSvc *auth.Service, hub *push.Hub, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		auth:    authSvc,
		hub:     hub,
		opts:    opts,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registry, hub),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.CORSOrigins}))
	e.Use(s.requestLogger())
	e.Use(s.metrics.middleware)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, Banner)
	})
	s.echo.GET("/health", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))

	authGroup := s.echo.Group("/api/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)
	authGroup.GET("/me", s.me, s.requireAuth)

	users := s.echo.Group("/api/users", s.requireAuth)
	users.GET("/search", s.searchUsers)

	// Static segments must come before /:id.
	m := s.echo.Group("/api/messages", s.requireAuth)
	m.POST("/send", s.sendMessage)
	m.GET("/inbox", s.inbox)
	m.GET("/search/query", s.searchMessages)
	m.GET("/trash/all", s.trash)
	m.POST("/draft", s.saveDraft)
	m.GET("/drafts", s.drafts)
	m.PUT("/draft/:id", s.updateDraft)
	m.POST("/draft/:id/send", s.sendDraft)
	m.GET("/thread/:threadId", s.thread)
	m.PUT("/:id/read", s.markRead)
	m.POST("/:id/reply", s.reply)
	m.POST("/:id/forward", s.forward)
	m.PUT("/:id/trash", s.moveToTrash)
	m.PUT("/:id/restore", s.restore)
	m.DELETE("/:id", s.deleteMessage)
	m.GET("/:id", s.getMessage)

	if s.hub != nil {
		s.echo.GET("/ws", s.serveWS, s.requireAuthOrQuery)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	if !s.svc.IsConnected() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.CORSOrigins, "*") {
		return true
	}
	return slices.Contains(s.opts.CORSOrigins, origin)
}
