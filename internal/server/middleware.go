package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const userIDKey = "user_id"

// userID returns the authenticated user set by requireAuth.
func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// requireAuth accepts "Authorization: Bearer <token>".
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.authenticate(c, bearerToken(c.Request()), next)
	}
}

// requireAuthOrQuery also accepts ?token=, since browsers cannot set
// headers on a websocket handshake.
func (s *Server) requireAuthOrQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			token = c.QueryParam("token")
		}
		return s.authenticate(c, token, next)
	}
}

func (s *Server) authenticate(c echo.Context, token string, next echo.HandlerFunc) error {
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "No token, authorization denied")
	}
	id, err := s.auth.Authenticate(token)
	if err != nil {
		return err
	}
	c.Set(userIDKey, id)
	return next(c)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requestLogger logs one line per request through zerolog.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = s.logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("route", v.RoutePath).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("user_id", userID(c)).
				Msg("request")
			return nil
		},
	})
}
