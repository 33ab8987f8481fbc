package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rbaliyan/mailroom"
)

type replyRequest struct {
	Body string `json:"body"`
}

type forwardRequest struct {
	Receiver string `json:"receiver"`
}

// messageResponse is {message, data} for updates that confirm in words.
type messageResponse struct {
	Message string            `json:"message"`
	Data    *mailroom.Message `json:"data,omitempty"`
}

func (s *Server) mailbox(c echo.Context) mailroom.Mailbox {
	return s.svc.Client(userID(c))
}

func (s *Server) sendMessage(c echo.Context) error {
	var req mailroom.SendRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := s.mailbox(c).Send(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) inbox(c echo.Context) error {
	// Unparseable values fall back to the defaults.
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx := c.Request().Context()
	res, err := s.mailbox(c).Inbox(ctx, mailroom.PageRequest{Page: page, Limit: limit})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.pageWithParticipants(ctx, res))
}

func (s *Server) searchMessages(c echo.Context) error {
	msgs, err := s.mailbox(c).Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) trash(c echo.Context) error {
	ctx := c.Request().Context()
	msgs, err := s.mailbox(c).Trash(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.withParticipants(ctx, msgs))
}

func (s *Server) saveDraft(c echo.Context) error {
	var req mailroom.DraftRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := s.mailbox(c).SaveDraft(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) drafts(c echo.Context) error {
	msgs, err := s.mailbox(c).Drafts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) updateDraft(c echo.Context) error {
	var upd mailroom.DraftUpdate
	if err := c.Bind(&upd); err != nil {
		return err
	}
	msg, err := s.mailbox(c).UpdateDraft(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Draft updated", Data: msg})
}

func (s *Server) sendDraft(c echo.Context) error {
	msg, err := s.mailbox(c).SendDraft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) thread(c echo.Context) error {
	ctx := c.Request().Context()
	msgs, err := s.mailbox(c).Thread(ctx, c.Param("threadId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.withParticipants(ctx, msgs))
}

func (s *Server) markRead(c echo.Context) error {
	msg, err := s.mailbox(c).MarkRead(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) reply(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := s.mailbox(c).Reply(c.Request().Context(), c.Param("id"), req.Body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) forward(c echo.Context) error {
	var req forwardRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := s.mailbox(c).Forward(c.Request().Context(), c.Param("id"), req.Receiver)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) moveToTrash(c echo.Context) error {
	msg, err := s.mailbox(c).MoveToTrash(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) restore(c echo.Context) error {
	msg, err := s.mailbox(c).Restore(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Message restored", Data: msg})
}

func (s *Server) deleteMessage(c echo.Context) error {
	if err := s.mailbox(c).Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Message permanently deleted"})
}

func (s *Server) getMessage(c echo.Context) error {
	ctx := c.Request().Context()
	msg, err := s.mailbox(c).Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.withParticipants(ctx, []*mailroom.Message{msg})[0])
}
