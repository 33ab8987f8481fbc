package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/directory"
)

// Compile-time check
var _ mailroom.RecipientResolver = (*Directory)(nil)

// Directory resolves recipients by email or username through a user
// directory.
type Directory struct {
	users directory.Directory
}

// NewDirectory returns a resolver backed by users.
func NewDirectory(users directory.Directory) *Directory {
	return &Directory{users: users}
}

// Resolve looks identifier up as an email or username.
func (d *Directory) Resolve(ctx context.Context, identifier string) (*mailroom.Recipient, error) {
	u, err := d.users.ByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", mailroom.ErrRecipientNotFound, identifier)
		}
		return nil, fmt.Errorf("resolve %s: %w", identifier, err)
	}
	return &mailroom.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email}, nil
}
