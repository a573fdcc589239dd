package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vivleap/talky-server/internal/security"
	"github.com/vivleap/talky-server/internal/storage"
)

// DefaultContentType is used for upload grants when the client names none.
const DefaultContentType = "application/octet-stream"

// manifestContentType is bound into the manifest PUT signature; the client
// must upload the manifest with this Content-Type header.
const manifestContentType = "application/json"

// emptyTranscriptIndex is the initial transcript index object.
var emptyTranscriptIndex = []byte(`{"items": []}`)

// Service orchestrates session bootstrap and per-path URL signing.
// Stateless between requests; safe for concurrent use.
type Service struct {
	store  storage.Store
	bucket string
	ttl    time.Duration
	logger *slog.Logger

	// Injected for tests.
	now   func() time.Time
	newID func() string
}

// NewService creates a session Service issuing grants with the given TTL.
func NewService(store storage.Store, bucket string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bucket: bucket,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		newID:  NewID,
	}
}

// Create materializes a new session: generates its identity, writes the
// bootstrap objects, and signs manifest upload/read URLs.
//
// Any step failure aborts the whole operation as ErrCreationFailed. No
// cleanup of already-written objects is attempted — a retry creates a fresh
// session and at most two small JSON objects are orphaned under a prefix
// that was never returned to any client.
func (s *Service) Create(ctx context.Context, modelID string) (*Descriptor, error) {
	id := s.newID()
	createdAt := s.now().UTC().Format(time.RFC3339)

	meta, err := json.Marshal(metadata{
		SessionID: id,
		ModelID:   modelID,
		CreatedAt: createdAt,
		Bucket:    s.bucket,
		Prefix:    Prefix(id),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding metadata: %v", ErrCreationFailed, err)
	}

	if err := s.store.Upload(ctx, MetadataPath(id), meta, manifestContentType); err != nil {
		return nil, fmt.Errorf("%w: writing metadata: %v", ErrCreationFailed, err)
	}
	if err := s.store.Upload(ctx, TranscriptIndexPath(id), emptyTranscriptIndex, manifestContentType); err != nil {
		return nil, fmt.Errorf("%w: writing transcript index: %v", ErrCreationFailed, err)
	}

	uploadURL, err := s.store.SignURL(ctx, storage.SignRequest{
		Path:        ManifestPath(id),
		Method:      http.MethodPut,
		ContentType: manifestContentType,
		TTL:         s.ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: signing manifest upload: %v", ErrCreationFailed, err)
	}

	readURL, err := s.store.SignURL(ctx, storage.SignRequest{
		Path:   ManifestPath(id),
		Method: http.MethodGet,
		TTL:    s.ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: signing manifest read: %v", ErrCreationFailed, err)
	}

	s.logger.Info("session created", "session_id", id, "model_id", modelID)

	return &Descriptor{
		SessionID:         id,
		Bucket:            s.bucket,
		Prefix:            Prefix(id),
		ManifestPath:      ManifestPath(id),
		ManifestUploadURL: uploadURL,
		ManifestReadURL:   readURL,
		UploadURLEndpoint: "/api/session/" + id + "/upload-url",
		ReadURLEndpoint:   "/api/session/" + id + "/read-url",
		CreatedAt:         createdAt,
	}, nil
}

// UploadURL validates path against the session's namespace and signs a PUT
// grant for it. Policy failures return before any signing call is made.
func (s *Service) UploadURL(ctx context.Context, sessionID, path, contentType string) (url, cleanPath string, err error) {
	cleanPath, err = security.ValidateSessionPath(sessionID, path)
	if err != nil {
		return "", "", err
	}

	if contentType == "" {
		contentType = DefaultContentType
	}

	url, err = s.store.SignURL(ctx, storage.SignRequest{
		Path:        cleanPath,
		Method:      http.MethodPut,
		ContentType: contentType,
		TTL:         s.ttl,
	})
	if err != nil {
		return "", "", err
	}
	return url, cleanPath, nil
}

// ReadURL validates path against the session's namespace and signs a GET
// grant for it. Policy failures return before any signing call is made.
func (s *Service) ReadURL(ctx context.Context, sessionID, path string) (url, cleanPath string, err error) {
	cleanPath, err = security.ValidateSessionPath(sessionID, path)
	if err != nil {
		return "", "", err
	}

	url, err = s.store.SignURL(ctx, storage.SignRequest{
		Path:   cleanPath,
		Method: http.MethodGet,
		TTL:    s.ttl,
	})
	if err != nil {
		return "", "", err
	}
	return url, cleanPath, nil
}
