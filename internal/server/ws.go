package server

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/rbaliyan/mailroom/push"
)

// serveWS upgrades to a websocket and hands the socket to the push hub,
// which expects a join frame for the authenticated user.
func (s *Server) serveWS(c echo.Context) error {
	id := userID(c)
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	err = push.Serve(s.hub, ws, id)
	switch {
	case errors.Is(err, push.ErrJoinRejected):
		s.logger.Warn().Err(err).Str("user_id", id).Msg("push join rejected")
	case err != nil:
		s.logger.Error().Err(err).Str("user_id", id).Msg("push connection failed")
	}
	return nil
}
