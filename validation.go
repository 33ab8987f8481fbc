package mailroom

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageLimits holds all message validation limits.
type MessageLimits struct {
	MaxSubjectLength int
	MaxBodySize      int
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength: DefaultMaxSubjectLength,
		MaxBodySize:      DefaultMaxBodySize,
	}
}

// ValidateSubject validates a message subject using default limits.
func ValidateSubject(subject string) error {
	return ValidateSubjectWithLimits(subject, DefaultLimits())
}

// ValidateSubjectWithLimits validates a message subject against configurable
// limits. An empty subject is valid here; required-field checks happen in
// the operations that need them.
func ValidateSubjectWithLimits(subject string, limits MessageLimits) error {
	if len(subject) > limits.MaxSubjectLength {
		return fmt.Errorf("%w: subject length %d exceeds max %d", ErrSubjectTooLong, len(subject), limits.MaxSubjectLength)
	}

	// Check for valid UTF-8 and no control characters (except newline/tab)
	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: subject contains invalid UTF-8", ErrInvalidContent)
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("%w: subject contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateBody validates a message body using default limits.
func ValidateBody(body string) error {
	return ValidateBodyWithLimits(body, DefaultLimits())
}

// ValidateBodyWithLimits validates a message body against configurable limits.
func ValidateBodyWithLimits(body string, limits MessageLimits) error {
	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: body size %d exceeds max %d bytes", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}

	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body contains invalid UTF-8", ErrInvalidContent)
	}

	// Null bytes are never legitimate text
	if strings.ContainsRune(body, '\x00') {
		return fmt.Errorf("%w: body contains null bytes", ErrInvalidContent)
	}

	return nil
}

// ValidateContentWithLimits validates subject and body together.
func ValidateContentWithLimits(subject, body string, limits MessageLimits) error {
	if err := ValidateSubjectWithLimits(subject, limits); err != nil {
		return err
	}
	return ValidateBodyWithLimits(body, limits)
}

// requireFields returns a ValidationError naming the first blank field.
// Fields are given as name/value pairs.
func requireFields(message string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &ValidationError{Field: pairs[i], Message: message}
		}
	}
	return nil
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}
