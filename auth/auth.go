// Package auth registers users, checks their passwords and issues the
// session tokens the HTTP API and push endpoint accept.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbaliyan/mailroom/directory"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for password hashes.
const BcryptCost = 10

// Sentinel errors for the auth package. The HTTP layer maps them to
// user-facing messages with Message.
var (
	// ErrInvalidCredentials is returned by Login for an unknown user or a
	// wrong password. The two cases are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrMissingFields is returned by Register when name, email or
	// password is empty.
	ErrMissingFields = errors.New("auth: all fields required")

	// ErrUserExists is returned by Register when the email or username
	// is taken.
	ErrUserExists = errors.New("auth: user already exists")

	// ErrInvalidToken is returned for a missing, malformed or expired token.
	ErrInvalidToken = errors.New("auth: invalid or expired token")

	// ErrUserNotFound is returned by Me when the token's user is gone.
	ErrUserNotFound = errors.New("auth: user not found")
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login. Email may also hold a
// username.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token string `json:"token"`
}

// UserSummary is the public projection of an account, returned by
// SearchUsers and Summaries.
type UserSummary struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Service implements the account operations.
type Service struct {
	users  directory.Directory
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewService returns an auth service over users.
func NewService(users directory.Directory, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Tokens returns the issuer used to sign and validate session tokens.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*directory.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	u, err := s.users.Create(ctx, &directory.User{
		Name:         req.Name,
		Username:     strings.TrimSpace(req.Username),
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, directory.ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login checks the password and returns a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	ident := strings.TrimSpace(req.Email)
	if ident == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.ByIdentifier(ctx, ident)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token}, nil
}

// Me returns the account for userID.
func (s *Service) Me(ctx context.Context, userID string) (*directory.User, error) {
	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	return u, nil
}

// SearchUsers returns up to five accounts whose email or username contains
// q. An empty q returns an empty list.
func (s *Service) SearchUsers(ctx context.Context, q string) ([]UserSummary, error) {
	out := []UserSummary{}
	if strings.TrimSpace(q) == "" {
		return out, nil
	}
	users, err := s.users.Search(ctx, q, directory.DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("auth: search users: %w", err)
	}
	for _, u := range users {
		out = append(out, UserSummary{ID: u.ID, Email: u.Email, Username: u.Username})
	}
	return out, nil
}

// Summaries looks up the given accounts in one directory call, keyed by
// user id. Unknown ids are left out.
func (s *Service) Summaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	users, err := s.users.ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("auth: load users: %w", err)
	}
	out := make(map[string]UserSummary, len(users))
	for id, u := range users {
		out[id] = UserSummary{ID: u.ID, Email: u.Email, Username: u.Username}
	}
	return out, nil
}

// Authenticate validates a bearer token and returns its user id.
func (s *Service) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	return s.tokens.Validate(token)
}

// Message returns the user-facing text for an auth error, or "" if err is
// not one of the package's sentinels.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, ErrMissingFields):
		return "All fields required"
	case errors.Is(err, ErrUserExists):
		return "User already exists"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	}
	return ""
}
