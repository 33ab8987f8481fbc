package mailroom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailroom/store"
)

// Sentinel errors for the mailroom package.
// Use errors.Is() to check for these errors.
var (
	// ErrNotFound is returned when a message cannot be found or is not
	// visible to the caller. Wraps store.ErrNotFound.
	ErrNotFound = fmt.Errorf("mailroom: %w", store.ErrNotFound)

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("mailroom: invalid message")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mailroom: store is required")

	// ErrResolverRequired is returned when no recipient resolver is configured.
	ErrResolverRequired = errors.New("mailroom: recipient resolver is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("mailroom: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("mailroom: %w", store.ErrAlreadyConnected)

	// ErrRecipientNotFound is returned by resolvers for unknown identifiers.
	ErrRecipientNotFound = errors.New("mailroom: recipient not found")

	// ErrRateLimited is returned when a user exceeds their send rate.
	ErrRateLimited = errors.New("mailroom: rate limited")

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("mailroom: invalid user id")

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = fmt.Errorf("%w: subject too long", ErrInvalidMessage)

	// ErrBodyTooLarge is returned when body exceeds maximum size.
	ErrBodyTooLarge = fmt.Errorf("%w: body too large", ErrInvalidMessage)

	// ErrInvalidContent is returned when message content contains invalid characters.
	ErrInvalidContent = fmt.Errorf("%w: invalid content", ErrInvalidMessage)
)

// ValidationError provides details about a validation failure.
// Message is safe to show to end users.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailroom: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// NotFoundError names the resource that could not be found.
// A resource the caller may not touch is reported the same way as a
// missing one.
type NotFoundError struct {
	Resource string // e.g. "Receiver", "Original message", "Draft", "Message"
}

func (e *NotFoundError) Error() string {
	return "mailroom: " + strings.ToLower(e.Resource) + " not found"
}

// Message returns the user-facing text, e.g. "Draft not found".
func (e *NotFoundError) Message() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// Only returned when WithEventErrorsFatal(true) is set.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageSent", "MessageRead")
	MessageID string // The message ID the event was for
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mailroom: event %s publish failed for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the operation succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found error of any layer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidMessage)
}

// notFound maps a store miss (or an id the store cannot parse) to a
// NotFoundError for resource. Other errors are wrapped with op.
func notFound(err error, resource, op string) error {
	if store.IsNotFound(err) || store.IsInvalidID(err) {
		return &NotFoundError{Resource: resource}
	}
	return fmt.Errorf("%s: %w", op, err)
}
