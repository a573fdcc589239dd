// Package storage defines the object-storage contract the session layer
// depends on. Backends live in subpackages; Google Cloud Storage is the only
// production backend.
package storage

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrUpload indicates a direct object write failed.
	ErrUpload = errors.New("storage: upload failed")

	// ErrSigning indicates a signed URL could not be produced, either because
	// no credential could be obtained or because the signing call failed.
	ErrSigning = errors.New("storage: signing failed")

	// ErrUnsupportedMethod indicates a SignRequest named an HTTP method other
	// than PUT or GET.
	ErrUnsupportedMethod = errors.New("storage: unsupported method")
)

// SignRequest describes one signed URL grant: a single HTTP method against a
// single object, valid for TTL from now. ContentType applies to PUT only.
type SignRequest struct {
	Path        string
	Method      string // http.MethodPut or http.MethodGet
	ContentType string
	TTL         time.Duration
}

// Validate checks the request names a supported method.
func (r SignRequest) Validate() error {
	if r.Method != http.MethodPut && r.Method != http.MethodGet {
		return ErrUnsupportedMethod
	}
	return nil
}

// Store is the interface the session layer uses to talk to the object store.
// Implementations must not retry; callers own retry policy.
type Store interface {
	// Upload writes a small object directly. Used only for bootstrap
	// artifacts (session metadata, empty transcript index).
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// SignURL returns an absolute URL that performs exactly req.Method against
	// exactly req.Path until the TTL lapses.
	SignURL(ctx context.Context, req SignRequest) (string, error)
}
