package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/auth"
)

const internalErrorMessage = "Internal server error"

// errorResponse is the body of every error: {"message": "..."}.
type errorResponse struct {
	Message string `json:"message"`
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := s.classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("route", c.Path()).
			Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Message: msg})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("write error response")
	}
}

func (s *Server) classify(err error) (int, string) {
	var (
		he *echo.HTTPError
		ve *mailroom.ValidationError
		nf *mailroom.NotFoundError
	)
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return he.Code, msg

	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.As(err, &nf):
		return http.StatusNotFound, nf.Message()
	case errors.Is(err, mailroom.ErrInvalidMessage):
		return http.StatusBadRequest, contentMessage(err)
	case errors.Is(err, mailroom.ErrNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, mailroom.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many messages, slow down"
	case errors.Is(err, mailroom.ErrInvalidUserID):
		return http.StatusUnauthorized, "Invalid user"

	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, auth.Message(err)
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, auth.Message(err)
	case auth.Message(err) != "":
		return http.StatusBadRequest, auth.Message(err)

	case errors.Is(err, mailroom.ErrNotConnected):
		return http.StatusServiceUnavailable, "Service unavailable"
	}

	if s.opts.ExposeErrors {
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, internalErrorMessage
}

// contentMessage strips the package prefix from a content error, leaving
// e.g. "subject too long: subject length 300 exceeds max 255".
func contentMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), mailroom.ErrInvalidMessage.Error()+": ")
	if msg == "" {
		return "Invalid message"
	}
	return msg
}
