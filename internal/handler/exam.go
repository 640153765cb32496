package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/export"
	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// maxUploadBytes bounds a single uploaded paper or answer sheet.
const maxUploadBytes = 20 << 20

// Exam creation modes.
const (
	modeGenerate   = "generate"   // AI writes fresh questions for a topic
	modeReproduce  = "reproduce"  // verbatim digitization of an uploaded paper
	modeRegenerate = "regenerate" // new questions following an uploaded paper's pattern
)

type uploadedFile struct {
	data []byte
	mime string
	name string
}

// formFile pulls one uploaded file out of a multipart request. Returns nil
// when the field is absent.
func formFile(r *http.Request, field string) (*uploadedFile, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Validation("The uploaded file could not be read.")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, errs.Validation("The uploaded file could not be read.")
	}
	if len(data) > maxUploadBytes {
		return nil, errs.Validation("The uploaded file is too large.")
	}
	return &uploadedFile{data: data, mime: fileMime(header), name: header.Filename}, nil
}

func fileMime(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, errs.Validation("The request could not be read."))
		return
	}

	mode := r.FormValue("mode")
	topic := strings.TrimSpace(r.FormValue("topic"))
	numQuestions, _ := strconv.Atoi(r.FormValue("numQuestions"))
	totalMarks, _ := strconv.Atoi(r.FormValue("totalMarks"))

	if topic == "" {
		writeError(w, errs.Validation("Enter a topic for the exam."))
		return
	}

	info := model.AuthFromContext(r.Context())
	apiKey := info.Profile.GeminiAPIKey
	if apiKey == "" {
		writeError(w, errs.Validation("Gemini API key not configured. Add your key via the profile menu."))
		return
	}

	var questions []model.Question
	var err error
	switch mode {
	case modeGenerate, "":
		if numQuestions <= 0 || totalMarks <= 0 {
			writeError(w, errs.Validation("Enter the number of questions and the total marks."))
			return
		}
		questions, err = h.grader.GenerateQuestions(r.Context(), apiKey, topic, numQuestions, totalMarks)

	case modeReproduce:
		paper, ferr := formFile(r, "paper")
		if ferr != nil {
			writeError(w, ferr)
			return
		}
		if paper == nil {
			writeError(w, errs.Validation("Upload the question paper to reproduce."))
			return
		}
		questions, err = h.grader.ExtractQuestions(r.Context(), apiKey, paper.data, paper.mime, topic)
		if err == nil && len(questions) == 0 {
			writeError(w, errs.Validation("No questions with marks could be read from the paper. Make sure every question has its marks written next to it, or use pattern mode instead."))
			return
		}
		// Reproduced papers keep their own totals.
		totalMarks = model.SumMarks(questions)

	case modeRegenerate:
		paper, ferr := formFile(r, "paper")
		if ferr != nil {
			writeError(w, ferr)
			return
		}
		if paper == nil {
			writeError(w, errs.Validation("Upload a question paper to use as the pattern."))
			return
		}
		if totalMarks <= 0 {
			writeError(w, errs.Validation("Enter the total marks for the new paper."))
			return
		}
		questions, err = h.grader.GenerateFromPattern(r.Context(), apiKey, paper.data, paper.mime, topic, totalMarks)

	default:
		writeError(w, errs.Validation("Unknown exam creation mode."))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	exam := model.Exam{
		ID:         model.NewExamID(h.now()),
		Topic:      topic,
		TotalMarks: totalMarks,
		Questions:  questions,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.state.CreateExam(r.Context(), exam); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"exam":    exam,
		"message": appI18n.T(r.Context(), "ExamCreated"),
	})
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Exams())
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam := h.state.ExamByID(chi.URLParam(r, "examID"))
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

// deleteConfirmPhrase is what the teacher must type to delete an exam: the
// topic uppercased and then truncated to 15 characters, after "DELETE ".
// Uppercasing first matters for characters whose uppercase form expands.
func deleteConfirmPhrase(topic string) string {
	upper := []rune(strings.ToUpper(topic))
	if len(upper) > 15 {
		upper = upper[:15]
	}
	return "DELETE " + string(upper)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	exam := h.state.ExamByID(examID)
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	phrase := deleteConfirmPhrase(exam.Topic)
	if req.Confirm != phrase {
		writeError(w, errs.Validation(appI18n.Td(r.Context(), "DeleteExamPrompt", map[string]any{"Phrase": phrase})))
		return
	}

	cascade := r.URL.Query().Get("cascade") == "1"
	deleted, err := h.state.DeleteExam(r.Context(), examID, cascade)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":            appI18n.T(r.Context(), "ExamDeleted"),
		"deletedSubmissions": deleted,
	})
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.SubmissionsByExamID(chi.URLParam(r, "examID")))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exam := h.state.ExamByID(chi.URLParam(r, "examID"))
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}
	subs := h.state.SubmissionsByExamID(exam.ID)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(exam.Topic)))
	if err := export.Write(w, *exam, subs); err != nil {
		// Headers are already out; all we can do is log.
		slog.Error("export workbook", "exam", exam.ID, "error", err)
	}
}
