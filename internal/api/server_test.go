package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/vivleap/talky-server/internal/gemini"
	"github.com/vivleap/talky-server/internal/security"
	"github.com/vivleap/talky-server/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTokens implements TokenIssuer, counting calls.
type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) CreateEphemeralToken(_ context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

// fakeSessions implements SessionService, counting sign calls.
type fakeSessions struct {
	desc      *session.Descriptor
	createErr error
	signErr   error
	signCalls int
}

func (f *fakeSessions) Create(_ context.Context, _ string) (*session.Descriptor, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.desc, nil
}

func (f *fakeSessions) UploadURL(_ context.Context, sessionID, path, _ string) (string, string, error) {
	return f.sign(sessionID, path)
}

func (f *fakeSessions) ReadURL(_ context.Context, sessionID, path string) (string, string, error) {
	return f.sign(sessionID, path)
}

func (f *fakeSessions) sign(sessionID, path string) (string, string, error) {
	// Enforce the real path policy so handler tests exercise the same
	// classification the service applies.
	clean, err := security.ValidateSessionPath(sessionID, path)
	if err != nil {
		return "", "", err
	}
	f.signCalls++
	if f.signErr != nil {
		return "", "", f.signErr
	}
	return "https://storage.example.com/" + clean, clean, nil
}

// fakeLessons implements LessonGenerator, counting calls.
type fakeLessons struct {
	material string
	err      error
	calls    int
}

func (f *fakeLessons) GenerateLesson(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.material, nil
}

type fakes struct {
	tokens   *fakeTokens
	sessions *fakeSessions
	lessons  *fakeLessons
}

func newTestServer(t *testing.T) (*Server, *fakes) {
	t.Helper()

	f := &fakes{
		tokens: &fakeTokens{token: "auth_tokens/abc123"},
		sessions: &fakeSessions{
			desc: &session.Descriptor{
				SessionID: "11111111-1111-4111-8111-111111111111",
				Bucket:    "talky-test",
				Prefix:    "sessions/11111111-1111-4111-8111-111111111111",
			},
		},
		lessons: &fakeLessons{material: "A short lesson about tea."},
	}

	srv, err := NewServer(ServerConfig{
		Logger:   slog.New(slog.DiscardHandler),
		Sessions: f.sessions,
		Tokens:   f.tokens,
		Lessons:  f.lessons,
		IsDev:    true,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv, f
}

func doJSON(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("{}")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v (body %q)", err, rec.Body.String())
	}
	return body.Error.Code
}

func TestNewServerMissingDeps(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	f := &fakes{tokens: &fakeTokens{}, sessions: &fakeSessions{}, lessons: &fakeLessons{}}

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"no logger", ServerConfig{Sessions: f.sessions, Tokens: f.tokens, Lessons: f.lessons}},
		{"no sessions", ServerConfig{Logger: logger, Tokens: f.tokens, Lessons: f.lessons}},
		{"no tokens", ServerConfig{Logger: logger, Sessions: f.sessions, Lessons: f.lessons}},
		{"no lessons", ServerConfig{Logger: logger, Sessions: f.sessions, Tokens: f.tokens}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg); err == nil {
				t.Error("NewServer() error = nil, want error")
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !body["ok"] {
		t.Errorf("body = %v, want ok=true", body)
	}
}

func TestEphemeralToken(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, f := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/api/ephemeral-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var body tokenResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Token != "auth_tokens/abc123" {
			t.Errorf("token = %q, want %q", body.Token, "auth_tokens/abc123")
		}
		if body.ExpiresInSeconds != gemini.TokenExpirySeconds {
			t.Errorf("expiresInSeconds = %d, want %d", body.ExpiresInSeconds, gemini.TokenExpirySeconds)
		}
		if f.tokens.calls != 1 {
			t.Errorf("issuer calls = %d, want 1", f.tokens.calls)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		srv, f := newTestServer(t)
		f.tokens.err = errors.New("upstream unavailable")

		rec := doJSON(t, srv, http.MethodPost, "/api/ephemeral-token", "")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
		if code := errorCode(t, rec); code != "token_failed" {
			t.Errorf("error code = %q, want %q", code, "token_failed")
		}
		// The provider's error text must not leak to the client.
		if strings.Contains(rec.Body.String(), "upstream unavailable") {
			t.Errorf("response leaks provider error: %q", rec.Body.String())
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/api/ephemeral-token", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestSessionCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, f := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/api/session/create", `{"modelId":"gemini-2.5-flash"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var desc session.Descriptor
		if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if desc.SessionID != f.sessions.desc.SessionID {
			t.Errorf("sessionId = %q, want %q", desc.SessionID, f.sessions.desc.SessionID)
		}
	})

	t.Run("bootstrap failure", func(t *testing.T) {
		srv, f := newTestServer(t)
		f.sessions.createErr = errors.New("bucket write denied")

		rec := doJSON(t, srv, http.MethodPost, "/api/session/create", `{"modelId":"m"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
		if code := errorCode(t, rec); code != "session_failed" {
			t.Errorf("error code = %q, want %q", code, "session_failed")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/api/session/create", `{"modelId":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestRequestBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"modelId":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := doJSON(t, srv, http.MethodPost, "/api/session/create", body)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if code := errorCode(t, rec); code != "body_too_large" {
		t.Errorf("error code = %q, want %q", code, "body_too_large")
	}
}

func TestSignURLEndpoints(t *testing.T) {
	const sid = "11111111-1111-4111-8111-111111111111"

	endpoints := []struct {
		name   string
		target string
	}{
		{"upload", "/api/session/" + sid + "/upload-url"},
		{"read", "/api/session/" + sid + "/read-url"},
	}

	for _, ep := range endpoints {
		t.Run(ep.name+" success", func(t *testing.T) {
			srv, f := newTestServer(t)

			body := `{"path":"sessions/` + sid + `/audio/0001.webm"}`
			rec := doJSON(t, srv, http.MethodPost, ep.target, body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
			}

			var resp signURLResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			wantPath := "sessions/" + sid + "/audio/0001.webm"
			if resp.Path != wantPath {
				t.Errorf("path = %q, want %q", resp.Path, wantPath)
			}
			if resp.URL == "" {
				t.Error("url is empty")
			}
			if f.sessions.signCalls != 1 {
				t.Errorf("sign calls = %d, want 1", f.sessions.signCalls)
			}
		})

		t.Run(ep.name+" rejects foreign prefix without signing", func(t *testing.T) {
			srv, f := newTestServer(t)

			body := `{"path":"sessions/other-session/audio/0001.webm"}`
			rec := doJSON(t, srv, http.MethodPost, ep.target, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			if code := errorCode(t, rec); code != "invalid_path" {
				t.Errorf("error code = %q, want %q", code, "invalid_path")
			}
			if f.sessions.signCalls != 0 {
				t.Errorf("sign calls = %d, want 0 (policy must reject before signing)", f.sessions.signCalls)
			}
		})

		t.Run(ep.name+" rejects traversal without signing", func(t *testing.T) {
			srv, f := newTestServer(t)

			body := `{"path":"sessions/` + sid + `/../` + sid + `/x"}`
			rec := doJSON(t, srv, http.MethodPost, ep.target, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if code := errorCode(t, rec); code != "invalid_path" {
				t.Errorf("error code = %q, want %q", code, "invalid_path")
			}
			if f.sessions.signCalls != 0 {
				t.Errorf("sign calls = %d, want 0", f.sessions.signCalls)
			}
		})

		t.Run(ep.name+" broker failure", func(t *testing.T) {
			srv, f := newTestServer(t)
			f.sessions.signErr = errors.New("iam: permission denied")

			body := `{"path":"sessions/` + sid + `/audio/0001.webm"}`
			rec := doJSON(t, srv, http.MethodPost, ep.target, body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if code := errorCode(t, rec); code != "sign_failed" {
				t.Errorf("error code = %q, want %q", code, "sign_failed")
			}
		})
	}
}

func TestGenerateLesson(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, f := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/api/generate-lesson", `{"interest":"space travel"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var resp lessonResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if resp.LessonMaterial != f.lessons.material {
			t.Errorf("lessonMaterial = %q, want %q", resp.LessonMaterial, f.lessons.material)
		}
	})

	t.Run("interest validation skips provider", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"empty", `{"interest":""}`},
			{"whitespace only", `{"interest":"   "}`},
			{"single rune", `{"interest":"a"}`},
			{"too long", `{"interest":"` + strings.Repeat("x", 121) + `"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				srv, f := newTestServer(t)

				rec := doJSON(t, srv, http.MethodPost, "/api/generate-lesson", tt.body)
				if rec.Code != http.StatusBadRequest {
					t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
				}
				if code := errorCode(t, rec); code != "invalid_interest" {
					t.Errorf("error code = %q, want %q", code, "invalid_interest")
				}
				if f.lessons.calls != 0 {
					t.Errorf("generator calls = %d, want 0", f.lessons.calls)
				}
			})
		}
	})

	t.Run("two runes accepted", func(t *testing.T) {
		srv, f := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/api/generate-lesson", `{"interest":"go"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if f.lessons.calls != 1 {
			t.Errorf("generator calls = %d, want 1", f.lessons.calls)
		}
	})

	t.Run("empty model response", func(t *testing.T) {
		srv, f := newTestServer(t)
		f.lessons.err = gemini.ErrEmptyResponse

		rec := doJSON(t, srv, http.MethodPost, "/api/generate-lesson", `{"interest":"history"}`)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
		}
		if code := errorCode(t, rec); code != "empty_response" {
			t.Errorf("error code = %q, want %q", code, "empty_response")
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		srv, f := newTestServer(t)
		f.lessons.err = errors.New("deadline exceeded")

		rec := doJSON(t, srv, http.MethodPost, "/api/generate-lesson", `{"interest":"history"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
		if code := errorCode(t, rec); code != "lesson_failed" {
			t.Errorf("error code = %q, want %q", code, "lesson_failed")
		}
	})
}

func TestSecurityHeadersOnAPIRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/ephemeral-token", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
}
