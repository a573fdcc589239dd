package session

import "errors"

// Sentinel errors for session operations, checked with errors.Is().
var (
	// ErrCreationFailed indicates session bootstrap aborted. No partial-state
	// cleanup is attempted; the caller simply retries, creating a new session.
	ErrCreationFailed = errors.New("session creation failed")
)
