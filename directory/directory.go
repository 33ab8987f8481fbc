// Package directory stores user accounts and looks them up by id, email or
// username. It backs both authentication and recipient resolution.
//
// Backends:
//   - Memory: in-process, for tests and single-instance demos
//   - Mongo: a "users" collection with unique email and username indexes
//   - Gorm: any GORM dialect; OpenSQLite opens the default SQLite database
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for the directory package.
var (
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("directory: user not found")

	// ErrUserExists is returned when the email or username is taken.
	ErrUserExists = errors.New("directory: user already exists")

	// ErrInvalidUser is returned when required fields are missing.
	ErrInvalidUser = errors.New("directory: invalid user")
)

// DefaultSearchLimit caps Search when no limit is given.
const DefaultSearchLimit = 5

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Directory is the user store. Implementations must be safe for
// concurrent use.
type Directory interface {
	// Create stores a new user and assigns its ID and CreatedAt.
	// Returns ErrUserExists if the email or username is taken.
	Create(ctx context.Context, u *User) (*User, error)

	// ByID returns the user with the given id.
	ByID(ctx context.Context, id string) (*User, error)

	// ByIDs returns the users with the given ids, keyed by id. Unknown ids
	// are left out of the map.
	ByIDs(ctx context.Context, ids []string) (map[string]*User, error)

	// ByIdentifier returns the user whose email or username equals
	// identifier exactly.
	ByIdentifier(ctx context.Context, identifier string) (*User, error)

	// Search returns at most limit users whose email or username contains
	// q, ignoring case. An empty q returns no users.
	Search(ctx context.Context, q string, limit int) ([]*User, error)
}

// normalize trims the user's fields and validates them.
func normalize(u *User) (*User, error) {
	if u == nil {
		return nil, ErrInvalidUser
	}
	c := *u
	c.Name = strings.TrimSpace(c.Name)
	c.Username = strings.TrimSpace(c.Username)
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || c.PasswordHash == "" {
		return nil, ErrInvalidUser
	}
	return &c, nil
}

// uniqueIDs drops empty and repeated ids.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func searchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}
