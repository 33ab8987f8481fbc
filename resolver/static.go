// Package resolver provides RecipientResolver implementations.
package resolver

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroom"
)

// Compile-time check
var _ mailroom.RecipientResolver = (*Static)(nil)

// Static is a map-based RecipientResolver for testing and simple deployments.
// Each recipient is reachable by its email and by its user ID.
// Safe for concurrent use (read-only after creation).
type Static struct {
	recipients map[string]*mailroom.Recipient
}

// NewStatic creates a Static resolver from a list of recipients.
func NewStatic(recipients ...*mailroom.Recipient) *Static {
	m := make(map[string]*mailroom.Recipient, 2*len(recipients))
	for _, r := range recipients {
		if r == nil || r.UserID == "" {
			continue
		}
		c := *r
		m[c.UserID] = &c
		if c.Email != "" {
			m[c.Email] = &c
		}
	}
	return &Static{recipients: m}
}

// Resolve returns the recipient registered under identifier.
func (s *Static) Resolve(_ context.Context, identifier string) (*mailroom.Recipient, error) {
	r, ok := s.recipients[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mailroom.ErrRecipientNotFound, identifier)
	}
	c := *r
	return &c, nil
}
