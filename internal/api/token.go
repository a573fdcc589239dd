package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vivleap/talky-server/internal/gemini"
)

// TokenIssuer requests single-use realtime tokens from the AI provider.
// Interface defined here, by the consumer; *gemini.Client implements it.
type TokenIssuer interface {
	CreateEphemeralToken(ctx context.Context) (string, error)
}

// tokenHandler serves POST /api/ephemeral-token.
type tokenHandler struct {
	issuer TokenIssuer
	logger *slog.Logger
}

type tokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// issue requests a fresh ephemeral token and relays only its opaque name.
// The reported expiry is the fixed start window: the client must open its
// realtime session within that many seconds.
func (h *tokenHandler) issue(w http.ResponseWriter, r *http.Request) {
	token, err := h.issuer.CreateEphemeralToken(r.Context())
	if err != nil {
		h.logger.Error("creating ephemeral token", "error", err)
		writeError(w, http.StatusInternalServerError, "token_failed", "failed to create ephemeral token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:            token,
		ExpiresInSeconds: gemini.TokenExpirySeconds,
	})
}
