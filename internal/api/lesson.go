package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/vivleap/talky-server/internal/gemini"
)

// Interest length bounds in runes, enforced before contacting the provider.
const (
	minInterestRunes = 2
	maxInterestRunes = 120
)

// LessonGenerator produces short reading material for a topic of interest.
// Interface defined here, by the consumer; *gemini.Client implements it.
type LessonGenerator interface {
	GenerateLesson(ctx context.Context, interest string) (string, error)
}

// lessonHandler serves POST /api/generate-lesson.
type lessonHandler struct {
	generator LessonGenerator
	logger    *slog.Logger
}

type lessonRequest struct {
	Interest string `json:"interest"`
}

type lessonResponse struct {
	LessonMaterial string `json:"lessonMaterial"`
}

func (h *lessonHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req lessonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	interest := strings.TrimSpace(req.Interest)
	if n := utf8.RuneCountInString(interest); n < minInterestRunes || n > maxInterestRunes {
		writeError(w, http.StatusBadRequest, "invalid_interest", "interest must be between 2 and 120 characters")
		return
	}

	material, err := h.generator.GenerateLesson(r.Context(), interest)
	if err != nil {
		if errors.Is(err, gemini.ErrEmptyResponse) {
			h.logger.Warn("lesson generation returned no text", "interest", interest)
			writeError(w, http.StatusBadGateway, "empty_response", "model returned no lesson text")
			return
		}
		h.logger.Error("generating lesson", "error", err)
		writeError(w, http.StatusInternalServerError, "lesson_failed", "failed to generate lesson")
		return
	}

	writeJSON(w, http.StatusOK, lessonResponse{LessonMaterial: material})
}
