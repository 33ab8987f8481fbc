package server

import (
	"context"

	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/auth"
)

// messageView is a message with the public details of its sender and
// receiver. sender and receiver stay plain user ids.
type messageView struct {
	*mailroom.Message
	SenderInfo   *auth.UserSummary `json:"senderInfo,omitempty"`
	ReceiverInfo *auth.UserSummary `json:"receiverInfo,omitempty"`
}

type pageView struct {
	Messages   []messageView `json:"messages"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
	Total      int64         `json:"total"`
}

// withParticipants resolves every participant of msgs in one directory
// call. A failed lookup is logged and the messages go out without details.
func (s *Server) withParticipants(ctx context.Context, msgs []*mailroom.Message) []messageView {
	views := make([]messageView, len(msgs))
	ids := make([]string, 0, 2*len(msgs))
	for i, m := range msgs {
		views[i].Message = m
		ids = append(ids, m.SenderID, m.ReceiverID)
	}
	if len(msgs) == 0 {
		return views
	}

	users, err := s.auth.Summaries(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("messages", len(msgs)).Msg("participant lookup failed")
		return views
	}
	for i, m := range msgs {
		if u, ok := users[m.SenderID]; ok {
			views[i].SenderInfo = &u
		}
		if u, ok := users[m.ReceiverID]; ok {
			views[i].ReceiverInfo = &u
		}
	}
	return views
}

func (s *Server) pageWithParticipants(ctx context.Context, p *mailroom.Page) pageView {
	return pageView{
		Messages:   s.withParticipants(ctx, p.Messages),
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages,
		Total:      p.Total,
	}
}
