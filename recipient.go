package mailroom

import "context"

// Recipient contains resolved information about a user.
type Recipient struct {
	// UserID is the unique user identifier.
	UserID string
	// Name is the display name of the user.
	Name string
	// Email is the user's email address (optional).
	Email string
}

// RecipientResolver maps an identifier typed by a user (email or username)
// to the user it names. Implementations should be safe for concurrent use.
type RecipientResolver interface {
	// Resolve returns the recipient for identifier.
	// Returns ErrRecipientNotFound if the identifier is unknown.
	Resolve(ctx context.Context, identifier string) (*Recipient, error)
}

// RecipientResolverFunc adapts a function to RecipientResolver.
type RecipientResolverFunc func(ctx context.Context, identifier string) (*Recipient, error)

// Resolve calls f(ctx, identifier).
func (f RecipientResolverFunc) Resolve(ctx context.Context, identifier string) (*Recipient, error) {
	return f(ctx, identifier)
}
