package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// Bulk upload per-file states, in progression order.
const (
	BulkPending    = "pending"
	BulkUploading  = "uploading"
	BulkEvaluating = "evaluating"
	BulkDone       = "done"
	BulkError      = "error"
)

// BulkFileStatus tracks one file through the bulk pipeline.
type BulkFileStatus struct {
	FileName     string `json:"fileName"`
	StudentName  string `json:"studentName"`
	Status       string `json:"status"`
	SubmissionID string `json:"submissionId,omitempty"`
	Error        string `json:"error,omitempty"`
}

var (
	fileExtension = regexp.MustCompile(`\.[^.]+$`)
	nameSeparator = regexp.MustCompile(`[_-]+`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// deriveStudentName turns an uploaded filename into a student name: drop the
// extension, turn separators into spaces, collapse runs.
func deriveStudentName(filename string) string {
	name := fileExtension.ReplaceAllString(filename, "")
	name = nameSeparator.ReplaceAllString(name, " ")
	name = spaceRun.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unnamed"
	}
	return name
}

func isPDF(f *uploadedFile) bool {
	return f.mime == "application/pdf" || strings.HasSuffix(strings.ToLower(f.name), ".pdf")
}

// processBulk runs the bulk pipeline strictly in order, one file at a time.
// Each file is uploaded, then optionally evaluated; a failure marks that
// file and moves on. Nothing already stored is rolled back. onStatus fires
// after every state change.
func (h *Handler) processBulk(ctx context.Context, exam model.Exam, files []*uploadedFile, autoEval bool, apiKey string, onStatus func(int, BulkFileStatus)) []BulkFileStatus {
	statuses := make([]BulkFileStatus, len(files))
	for i, f := range files {
		statuses[i] = BulkFileStatus{
			FileName:    f.name,
			StudentName: deriveStudentName(f.name),
			Status:      BulkPending,
		}
	}

	update := func(i int, mutate func(*BulkFileStatus)) {
		mutate(&statuses[i])
		if onStatus != nil {
			onStatus(i, statuses[i])
		}
	}

	for i, f := range files {
		if !isPDF(f) {
			update(i, func(s *BulkFileStatus) {
				s.Status = BulkError
				s.Error = "File is not a PDF."
			})
			continue
		}

		update(i, func(s *BulkFileStatus) { s.Status = BulkUploading })

		hash := sha256.Sum256(f.data)
		now := h.now()
		sub := model.Submission{
			ID:          model.NewSubmissionID(now, i),
			ExamID:      exam.ID,
			StudentName: statuses[i].StudentName,
			FileName:    f.name,
			FileSize:    int64(len(f.data)),
			FileMime:    f.mime,
			FileHash:    hex.EncodeToString(hash[:]),
			SubmittedAt: now.UTC(),
		}
		if err := h.state.CreateSubmission(ctx, sub); err != nil {
			update(i, func(s *BulkFileStatus) {
				s.Status = BulkError
				s.Error = errs.UserMessage(err)
			})
			continue
		}
		update(i, func(s *BulkFileStatus) { s.SubmissionID = sub.ID })

		if !autoEval {
			update(i, func(s *BulkFileStatus) { s.Status = BulkDone })
			continue
		}

		update(i, func(s *BulkFileStatus) { s.Status = BulkEvaluating })
		result, err := h.grader.GradeSubmission(ctx, apiKey, exam.Questions, exam.TotalMarks, f.data, "application/pdf")
		if err == nil {
			err = h.state.UpdateSubmissionResult(ctx, sub.ID, result)
		}
		if err != nil {
			// The submission stays stored ungraded.
			update(i, func(s *BulkFileStatus) {
				s.Status = BulkError
				s.Error = errs.UserMessage(err)
			})
			continue
		}
		update(i, func(s *BulkFileStatus) { s.Status = BulkDone })
	}
	return statuses
}

func (h *Handler) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes * 4); err != nil {
		writeError(w, errs.Validation("The request could not be read."))
		return
	}

	exam := h.state.ExamByID(r.FormValue("examId"))
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["sheets"]) == 0 {
		writeError(w, errs.Validation("Attach at least one answer sheet PDF."))
		return
	}

	var files []*uploadedFile
	for _, header := range r.MultipartForm.File["sheets"] {
		if header.Size > maxUploadBytes {
			writeError(w, errs.Validation("The uploaded file is too large."))
			return
		}
		file, err := header.Open()
		if err != nil {
			writeError(w, errs.Validation("The uploaded files could not be read."))
			return
		}
		data := make([]byte, header.Size)
		_, err = io.ReadFull(file, data)
		file.Close()
		if err != nil {
			writeError(w, errs.Validation("The uploaded files could not be read."))
			return
		}
		files = append(files, &uploadedFile{data: data, mime: fileMime(header), name: header.Filename})
	}

	autoEval := r.FormValue("autoEvaluate") == "1"
	apiKey := model.AuthFromContext(r.Context()).Profile.GeminiAPIKey
	if autoEval && apiKey == "" {
		writeError(w, errs.Validation("Gemini API key not configured. Add your key via the profile menu."))
		return
	}

	statuses := h.processBulk(r.Context(), *exam, files, autoEval, apiKey, nil)
	writeJSON(w, http.StatusOK, map[string]any{"files": statuses})
}
