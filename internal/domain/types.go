package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// SessionKey groups a sequence of chat turns. It doubles as a storage object
// name, so it must pass ValidateSessionKey before reaching a backend.
type SessionKey string

// MaxSessionKeyLen bounds keys so they fit every backend's object naming rules.
const MaxSessionKeyLen = 128

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// TimestampLayout is ISO-8601 with fixed microsecond precision. Stamps are
// always rendered in UTC, so lexical order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t the way persisted messages carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout and any RFC 3339 variant.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ValidateSessionKey rejects keys that are unsafe as storage object names.
func ValidateSessionKey(key SessionKey) error {
	s := string(key)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionKey)
	case len(s) > MaxSessionKeyLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionKey, MaxSessionKeyLen)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSessionKey, s)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidSessionKey)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: contains a path separator", ErrInvalidSessionKey)
	}

	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains a control character", ErrInvalidSessionKey)
		}
	}
	return nil
}
