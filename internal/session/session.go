// Package session implements session identity and the storage-side session
// lifecycle: creating a session namespace, writing its bootstrap objects, and
// issuing signed URLs scoped to it.
//
// A session is identified by a random 128-bit UUID. Its storage prefix and
// well-known object paths are pure functions of that identifier — they are
// derived on every use and never stored independently.
package session

import (
	"github.com/google/uuid"

	"github.com/vivleap/talky-server/internal/security"
)

// NewID returns a new session identifier.
//
// IDs are cryptographically random UUIDs, not counters: a guessable ID would
// let one session locate another's prefix, so unguessability is defense in
// depth on top of the path policy.
func NewID() string {
	return uuid.NewString()
}

// Prefix returns the storage prefix all of a session's objects live under.
func Prefix(sessionID string) string {
	return security.SessionPrefixRoot + sessionID
}

// MetadataPath returns the path of the session's bootstrap metadata object.
func MetadataPath(sessionID string) string {
	return Prefix(sessionID) + "/session.json"
}

// ManifestPath returns the path of the session's manifest object.
func ManifestPath(sessionID string) string {
	return Prefix(sessionID) + "/manifest.json"
}

// TranscriptIndexPath returns the path of the session's transcript index.
func TranscriptIndexPath(sessionID string) string {
	return Prefix(sessionID) + "/transcript/index.json"
}

// Descriptor is returned to the client after a successful bootstrap.
// The endpoint fields are relative URL templates for later per-path signing
// calls against this session.
type Descriptor struct {
	SessionID         string `json:"sessionId"`
	Bucket            string `json:"bucket"`
	Prefix            string `json:"prefix"`
	ManifestPath      string `json:"manifestPath"`
	ManifestUploadURL string `json:"manifestUploadUrl"`
	ManifestReadURL   string `json:"manifestReadUrl"`
	UploadURLEndpoint string `json:"uploadUrlEndpoint"`
	ReadURLEndpoint   string `json:"readUrlEndpoint"`
	CreatedAt         string `json:"createdAt"`
}

// metadata is the bootstrap artifact written to session.json. It exists for
// operator troubleshooting and is never read back by the server.
type metadata struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
	CreatedAt string `json:"createdAt"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
}
