// Package gemini wraps the Gemini API for the two server-side uses:
// issuing ephemeral realtime tokens and generating lesson material.
//
// Ephemeral tokens carry two independent clocks: a short window in which the
// client must start a realtime session, and a longer window bounding how long
// a started session may stay connected. The server never inspects or extends
// either window; it relays only the opaque token name.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Token windows, measured from issuance.
const (
	// tokenConnectWindow bounds how long an already-started realtime session
	// may remain connected.
	tokenConnectWindow = 30 * time.Minute

	// tokenStartWindow bounds how long after issuance a new realtime session
	// may be started with the token.
	tokenStartWindow = time.Minute

	// TokenExpirySeconds is what clients are told: the start window. A client
	// that waits longer than this holds a dead token even though the connect
	// window is still open.
	TokenExpirySeconds = 60

	// authTokenAPIVersion selects the API revision that carries the
	// ephemeral-token feature.
	authTokenAPIVersion = "v1alpha"
)

// Lesson generation parameters.
const (
	lessonTemperature     float32 = 0.8
	lessonMaxOutputTokens int32   = 1024
)

// ErrEmptyResponse indicates the provider was reachable but returned no
// usable text content.
var ErrEmptyResponse = errors.New("gemini: empty generation response")

// Client is the process-wide Gemini client. Safe for concurrent use.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New creates a Client using API-key auth against the Gemini API backend.
func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &Client{client: c, model: model, logger: logger}, nil
}

// CreateEphemeralToken requests a single-use realtime token and returns its
// opaque name. No retries; any provider failure propagates to the caller.
func (c *Client) CreateEphemeralToken(ctx context.Context) (string, error) {
	now := time.Now().UTC()

	tok, err := c.client.AuthTokens.Create(ctx, &genai.CreateAuthTokenConfig{
		Uses:                 genai.Ptr[int32](1),
		ExpireTime:           now.Add(tokenConnectWindow),
		NewSessionExpireTime: now.Add(tokenStartWindow),
		HTTPOptions:          &genai.HTTPOptions{APIVersion: authTokenAPIVersion},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: creating ephemeral token: %w", err)
	}
	if tok == nil || tok.Name == "" {
		return "", fmt.Errorf("gemini: token response missing name")
	}

	c.logger.Debug("ephemeral token issued", "start_window", tokenStartWindow, "connect_window", tokenConnectWindow)
	return tok.Name, nil
}

// GenerateLesson produces short lesson material for the given interest.
// An empty provider response is reported as ErrEmptyResponse so callers can
// distinguish "reachable but useless" from transport failures.
func (c *Client) GenerateLesson(ctx context.Context, interest string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(lessonPrompt(interest)), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(lessonTemperature),
		MaxOutputTokens:  lessonMaxOutputTokens,
		ResponseMIMEType: "text/plain",
		// Lessons are short conversational material; reasoning budget adds
		// latency without improving them.
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: generating lesson: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}

	if resp.UsageMetadata != nil {
		c.logger.Debug("lesson generated",
			"model", c.model,
			"total_tokens", resp.UsageMetadata.TotalTokenCount,
		)
	}
	return text, nil
}

// extractText pins the provider contract to the documented shape: first
// candidate, its content, the concatenation of its text parts. Anything else
// is an upstream failure, never a silent guess.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		b.WriteString(part.Text)
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// lessonPrompt builds the tutor prompt for one interest.
func lessonPrompt(interest string) string {
	return fmt.Sprintf(`You are a friendly English conversation tutor.
Create short lesson material for a speaking-practice session about: %s

Include:
1. Five useful vocabulary words with one-line definitions.
2. Three example sentences a learner can imitate.
3. Two open questions to get the learner talking.

Keep the whole lesson under 250 words and use plain text, no markdown.`, interest)
}
