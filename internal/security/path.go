// Package security provides validation of client-supplied object paths.
//
// Every storage path a client submits is checked against its session's
// namespace before any signing call is made. This is the sole defense against
// one session reading or writing another session's objects, and against
// escaping the bucket's logical namespace via traversal segments (CWE-22).
package security

import (
	"errors"
	"fmt"
	"strings"
)

// SessionPrefixRoot is the top-level key segment all session objects live under.
const SessionPrefixRoot = "sessions/"

var (
	// ErrInvalidSession indicates the session identifier itself is unusable
	// as a namespace component.
	ErrInvalidSession = errors.New("invalid session ID")

	// ErrOutsidePrefix indicates the path does not lie inside the session's
	// storage namespace.
	ErrOutsidePrefix = errors.New("path outside session prefix")

	// ErrTraversal indicates the path contains a parent-directory segment.
	ErrTraversal = errors.New("path contains traversal segment")
)

// ValidateSessionPath checks that rawPath names an object inside the given
// session's namespace and returns the normalized object key.
//
// Normalization strips a single leading "/". The path must then start with
// "sessions/<sessionID>/" and no segment may equal "..". The check is a pure
// gate: no I/O, no side effects on failure.
//
// Object keys are opaque bucket strings, not filesystem paths — deliberately
// no filepath.Clean here, which would also rewrite "a/./b" and treat "\"
// per-OS.
func ValidateSessionPath(sessionID, rawPath string) (string, error) {
	// The session ID becomes part of the expected prefix; an ID containing a
	// separator or traversal segment could forge a different namespace.
	if sessionID == "" || strings.Contains(sessionID, "/") || sessionID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}

	path := strings.TrimPrefix(rawPath, "/")

	expectedPrefix := SessionPrefixRoot + sessionID + "/"
	if !strings.HasPrefix(path, expectedPrefix) {
		return "", fmt.Errorf("%w: %q must start with %q", ErrOutsidePrefix, path, expectedPrefix)
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrTraversal, path)
		}
	}

	return path, nil
}
