// Package handler exposes the JSON API: authentication, exam creation and
// deletion, answer-sheet submission and grading, result export and the
// destructive admin actions.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajay-kaushal/examaii-main/internal/appstate"
	"github.com/ajay-kaushal/examaii-main/internal/auth"
	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/model"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

// Grader is the AI surface the handlers need. The calling user's API key is
// passed on every call.
type Grader interface {
	GenerateQuestions(ctx context.Context, apiKey, topic string, numQuestions, totalMarks int) ([]model.Question, error)
	ExtractQuestions(ctx context.Context, apiKey string, file []byte, mimeType, topic string) ([]model.Question, error)
	GenerateFromPattern(ctx context.Context, apiKey string, file []byte, mimeType, topic string, totalMarks int) ([]model.Question, error)
	GradeSubmission(ctx context.Context, apiKey string, questions []model.Question, totalMarks int, sheet []byte, mimeType string) (*model.GradedResult, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	state  *appstate.State
	store  store.Store
	auth   *auth.Service
	grader Grader
	now    func() time.Time
}

// New creates a new Handler.
func New(state *appstate.State, st store.Store, authSvc *auth.Service, grader Grader) *Handler {
	return &Handler{
		state:  state,
		store:  st,
		auth:   authSvc,
		grader: grader,
		now:    time.Now,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/auth/register", h.handleRegister)
	r.Post("/api/auth/login", h.handleLogin)
	r.Post("/api/auth/logout", h.handleLogout)
	r.Get("/auth/google/login", h.auth.GoogleLoginHandler)
	r.Get("/auth/google/callback", h.auth.GoogleCallbackHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireAuth)

		r.Get("/api/me", h.handleMe)
		r.Put("/api/me/gemini-key", h.handleUpdateGeminiKey)

		r.Get("/api/exams", h.handleListExams)
		r.Get("/api/exams/{examID}", h.handleGetExam)
		r.Post("/api/exams/{examID}/submissions", h.handleStudentSubmit)
		r.Get("/api/submissions/{submissionID}", h.handleGetSubmission)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireTeacher)

			r.Post("/api/exams", h.handleCreateExam)
			r.Delete("/api/exams/{examID}", h.handleDeleteExam)
			r.Get("/api/exams/{examID}/submissions", h.handleListSubmissions)
			r.Get("/api/exams/{examID}/export", h.handleExport)

			r.Post("/api/submissions", h.handleUploadSubmission)
			r.Post("/api/submissions/bulk", h.handleBulkUpload)
			r.Post("/api/submissions/{submissionID}/evaluate", h.handleEvaluate)
			r.Put("/api/submissions/{submissionID}/result", h.handleUpdateResult)

			r.Post("/api/admin/purge", h.handlePurge)
		})
	})

	// Anything else lands back on the dashboard.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps the error to a status code and a user-displayable
// message. Internal details stay in the log.
func writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	} else {
		slog.Warn("request rejected", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": errs.UserMessage(err)})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("The request body could not be read.")
	}
	return nil
}
