package domain

import "errors"

var (
	// ErrInvalidSessionKey rejects keys that cannot be used as storage names.
	ErrInvalidSessionKey = errors.New("invalid session key")

	// ErrEmptyMessage rejects a turn with no user text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrInvalidMessage rejects a message that no backend could store
	// faithfully: invalid UTF-8, an unknown role or a malformed timestamp.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrStorageUnavailable covers connectivity and permission failures.
	// It is distinct from "not found", which is an empty history.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageCorrupt means a stored record exists but cannot be parsed.
	ErrStorageCorrupt = errors.New("storage record corrupt")

	// ErrCompletionService means the model call failed or returned nothing usable.
	ErrCompletionService = errors.New("completion service error")
)
