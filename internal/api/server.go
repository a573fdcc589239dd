package api

import (
	"errors"
	"log/slog"
	"net/http"
)

// Default refill rate for the per-IP limiter, in requests per second.
// Signed-URL issuance is cheap; the limiter exists to keep a single client
// from monopolizing the upstream quota.
const defaultRateLimit = 5.0

// ServerConfig holds the dependencies for the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Sessions    SessionService
	Tokens      TokenIssuer
	Lessons     LessonGenerator
	CORSOrigins []string
	TrustProxy  bool
	RateBurst   int
	IsDev       bool
}

// Server owns the HTTP routing and middleware stack for the API.
type Server struct {
	handler http.Handler
}

// NewServer wires handlers and middleware into a ready-to-serve Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("api: session service is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("api: token issuer is required")
	}
	if cfg.Lessons == nil {
		return nil, errors.New("api: lesson generator is required")
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}

	tokens := &tokenHandler{issuer: cfg.Tokens, logger: cfg.Logger}
	sessions := &sessionHandler{sessions: cfg.Sessions, logger: cfg.Logger}
	lessons := &lessonHandler{generator: cfg.Lessons, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ephemeral-token", tokens.issue)
	mux.HandleFunc("POST /api/session/create", sessions.create)
	mux.HandleFunc("POST /api/session/{sessionId}/upload-url", sessions.uploadURL)
	mux.HandleFunc("POST /api/session/{sessionId}/read-url", sessions.readURL)
	mux.HandleFunc("POST /api/generate-lesson", lessons.generate)

	rl := newRateLimiter(defaultRateLimit, burst)

	// Middleware applies outermost-first: recovery wraps everything so a
	// panic in any later stage still produces a response.
	var handler http.Handler = mux
	for _, mw := range []func(http.Handler) http.Handler{
		rateLimitMiddleware(rl, cfg.TrustProxy, cfg.Logger),
		corsMiddleware(cfg.CORSOrigins),
		loggingMiddleware(cfg.Logger),
		requestIDMiddleware(),
		recoveryMiddleware(cfg.Logger),
	} {
		handler = mw(handler)
	}

	api := handler
	isDev := cfg.IsDev

	// Health probes bypass the API middleware stack so load balancers are
	// never rate limited or CORS filtered.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", healthz)
	root.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		api.ServeHTTP(w, r)
	}))

	return &Server{handler: root}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
