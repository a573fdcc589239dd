package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vivleap/talky-server/internal/security"
	"github.com/vivleap/talky-server/internal/session"
)

// maxBodyBytes limits request body size (CWE-400).
const maxBodyBytes = 1 << 20 // 1MB

// SessionService is what the handlers need from the session layer.
// Interface defined here, by the consumer; *session.Service implements it.
type SessionService interface {
	Create(ctx context.Context, modelID string) (*session.Descriptor, error)
	UploadURL(ctx context.Context, sessionID, path, contentType string) (url, cleanPath string, err error)
	ReadURL(ctx context.Context, sessionID, path string) (url, cleanPath string, err error)
}

// sessionHandler serves session bootstrap and per-path URL signing.
type sessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

type createSessionRequest struct {
	ModelID string `json:"modelId"`
}

type signURLRequest struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

type signURLResponse struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// create serves POST /api/session/create.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	desc, err := h.sessions.Create(r.Context(), req.ModelID)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, desc)
}

// uploadURL serves POST /api/session/{sessionId}/upload-url.
func (h *sessionHandler) uploadURL(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req signURLRequest
	if !decodeBody(w, r, &req) {
		return
	}

	url, path, err := h.sessions.UploadURL(r.Context(), sessionID, req.Path, req.ContentType)
	if err != nil {
		h.writeSignError(w, sessionID, req.Path, err)
		return
	}

	writeJSON(w, http.StatusOK, signURLResponse{URL: url, Path: path})
}

// readURL serves POST /api/session/{sessionId}/read-url.
func (h *sessionHandler) readURL(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req signURLRequest
	if !decodeBody(w, r, &req) {
		return
	}

	url, path, err := h.sessions.ReadURL(r.Context(), sessionID, req.Path)
	if err != nil {
		h.writeSignError(w, sessionID, req.Path, err)
		return
	}

	writeJSON(w, http.StatusOK, signURLResponse{URL: url, Path: path})
}

// writeSignError distinguishes "your path was rejected" (400, detected before
// any provider call) from "the provider failed" (500). Policy rejections keep
// a specific client-facing message; provider detail stays in the log.
func (h *sessionHandler) writeSignError(w http.ResponseWriter, sessionID, path string, err error) {
	if isPolicyError(err) {
		h.logger.Warn("path rejected", "session_id", sessionID, "path", path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_path", "path is invalid or outside the session namespace")
		return
	}

	h.logger.Error("signing URL", "session_id", sessionID, "error", err)
	writeError(w, http.StatusInternalServerError, "sign_failed", "failed to sign URL")
}

// isPolicyError reports whether err is a path-policy rejection.
func isPolicyError(err error) bool {
	return errors.Is(err, security.ErrOutsidePrefix) ||
		errors.Is(err, security.ErrTraversal) ||
		errors.Is(err, security.ErrInvalidSession)
}

// decodeBody decodes a size-limited JSON request body into dst.
// On failure it writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}
