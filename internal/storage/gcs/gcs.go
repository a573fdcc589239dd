// Package gcs implements the storage.Store interface on Google Cloud Storage.
//
// Signed URLs use V4 signing with the signature produced by the IAM
// Credentials API (signBlob), so the process never holds a service-account
// private key. The signing identity is a configured service account distinct
// from the ambient runtime identity; the bearer credential authorizing the
// signBlob call is obtained fresh on every signing request and never cached.
package gcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gstorage "cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	iamcredentials "google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"github.com/vivleap/talky-server/internal/storage"
)

// scopeCloudPlatform is the management scope the signing credential is
// requested under.
const scopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"

// Store talks to a single GCS bucket.
type Store struct {
	client      *gstorage.Client
	bucket      string
	signerEmail string
	logger      *slog.Logger

	// credentials returns a fresh token source for the signing scope.
	// Replaceable in tests; defaults to Application Default Credentials.
	credentials func(ctx context.Context) (oauth2.TokenSource, error)

	// signBlob produces a signature over the payload with the signer
	// identity. Replaceable in tests; defaults to the IAM Credentials API.
	signBlob func(ctx context.Context, tok *oauth2.Token, payload []byte) ([]byte, error)
}

// New creates a Store for the given bucket and signing identity.
func New(ctx context.Context, bucket, signerEmail string, logger *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	if signerEmail == "" {
		return nil, fmt.Errorf("storage: signer email is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: creating GCS client: %w", err)
	}

	s := &Store{
		client:      client,
		bucket:      bucket,
		signerEmail: signerEmail,
		logger:      logger,
	}
	s.credentials = defaultCredentials
	s.signBlob = s.iamSignBlob
	return s, nil
}

// Close releases the underlying GCS client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("storage: closing GCS client: %w", err)
	}
	return nil
}

// Upload writes a small object directly through the ambient client identity.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: writing %s: %v", storage.ErrUpload, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: writing %s: %v", storage.ErrUpload, path, err)
	}

	s.logger.Debug("object written", "bucket", s.bucket, "path", path, "bytes", len(data))
	return nil
}

// SignURL mints a V4 signed URL for one (path, method, content-type, TTL)
// tuple. A fresh bearer credential is obtained for every call — a deliberate
// latency-for-simplicity tradeoff that guarantees the signing request never
// rides on an expired credential. No retries; callers own retry policy.
func (s *Store) SignURL(ctx context.Context, req storage.SignRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ts, err := s.credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: obtaining credentials: %v", storage.ErrSigning, err)
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: fetching bearer token: %v", storage.ErrSigning, err)
	}

	opts := signedURLOptions(req, s.signerEmail, func(payload []byte) ([]byte, error) {
		return s.signBlob(ctx, tok, payload)
	})

	url, err := s.client.Bucket(s.bucket).SignedURL(req.Path, opts)
	if err != nil {
		return "", fmt.Errorf("%w: signing %s %s: %v", storage.ErrSigning, req.Method, req.Path, err)
	}

	s.logger.Debug("signed URL issued",
		"bucket", s.bucket,
		"path", req.Path,
		"method", req.Method,
		"ttl", req.TTL,
	)
	return url, nil
}

// signedURLOptions assembles the V4 signing options for a request.
// ContentType is only bound into the signature for PUT; binding it on GET
// would force the client to send a matching header on download.
func signedURLOptions(req storage.SignRequest, signerEmail string, signBytes func([]byte) ([]byte, error)) *gstorage.SignedURLOptions {
	opts := &gstorage.SignedURLOptions{
		Scheme:         gstorage.SigningSchemeV4,
		Method:         req.Method,
		Expires:        time.Now().Add(req.TTL),
		GoogleAccessID: signerEmail,
		SignBytes:      signBytes,
	}
	if req.Method == http.MethodPut && req.ContentType != "" {
		opts.ContentType = req.ContentType
	}
	return opts
}

// defaultCredentials resolves Application Default Credentials for the
// management scope.
func defaultCredentials(ctx context.Context) (oauth2.TokenSource, error) {
	ts, err := google.DefaultTokenSource(ctx, scopeCloudPlatform)
	if err != nil {
		return nil, fmt.Errorf("resolving default credentials: %w", err)
	}
	return ts, nil
}

// iamSignBlob signs the payload with the configured service account via the
// IAM Credentials API, authorized by the freshly obtained bearer token.
func (s *Store) iamSignBlob(ctx context.Context, tok *oauth2.Token, payload []byte) ([]byte, error) {
	svc, err := iamcredentials.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
	if err != nil {
		return nil, fmt.Errorf("creating iamcredentials service: %w", err)
	}

	name := "projects/-/serviceAccounts/" + s.signerEmail
	resp, err := svc.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("signBlob for %s: %w", s.signerEmail, err)
	}

	sig, err := base64.StdEncoding.DecodeString(resp.SignedBlob)
	if err != nil {
		return nil, fmt.Errorf("decoding signBlob response: %w", err)
	}
	if len(bytes.TrimSpace(sig)) == 0 {
		return nil, fmt.Errorf("signBlob returned empty signature")
	}
	return sig, nil
}
