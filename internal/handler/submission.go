package handler

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// handleStudentSubmit is the exam-taking flow: the sheet is graded first and
// only stored together with its result. A grading failure stores nothing.
func (h *Handler) handleStudentSubmit(w http.ResponseWriter, r *http.Request) {
	exam := h.state.ExamByID(chi.URLParam(r, "examID"))
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	var req struct {
		StudentName      string `json:"studentName"`
		AnswerSheetImage string `json:"answerSheetImage"`
		MimeType         string `json:"mimeType"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.StudentName = strings.TrimSpace(req.StudentName)
	if req.StudentName == "" {
		writeError(w, errs.Validation("Enter your name before submitting."))
		return
	}
	sheet, err := base64.StdEncoding.DecodeString(req.AnswerSheetImage)
	if err != nil || len(sheet) == 0 {
		writeError(w, errs.Validation("The answer sheet image could not be read."))
		return
	}
	if req.MimeType == "" {
		req.MimeType = "image/jpeg"
	}

	info := model.AuthFromContext(r.Context())
	result, err := h.grader.GradeSubmission(r.Context(), info.Profile.GeminiAPIKey,
		exam.Questions, exam.TotalMarks, sheet, req.MimeType)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	sub := model.Submission{
		ID:          model.NewSubmissionID(now, -1),
		ExamID:      exam.ID,
		StudentName: req.StudentName,
		AnswerSheet: req.AnswerSheetImage,
		SubmittedAt: now.UTC(),
		Result:      result,
	}
	if err := h.state.CreateSubmission(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submission": sub,
		"message":    appI18n.T(r.Context(), "SubmissionEvaluated"),
	})
}

// handleUploadSubmission is the teacher flow: the sheet's metadata is
// persisted first, then graded when asked. A grading failure leaves the
// submission stored ungraded and is reported alongside it.
func (h *Handler) handleUploadSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, errs.Validation("The request could not be read."))
		return
	}

	examID := r.FormValue("examId")
	exam := h.state.ExamByID(examID)
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	sheet, err := formFile(r, "sheet")
	if err != nil {
		writeError(w, err)
		return
	}
	if sheet == nil {
		writeError(w, errs.Validation("Upload the answer sheet file."))
		return
	}

	studentName := strings.TrimSpace(r.FormValue("studentName"))
	if studentName == "" {
		studentName = deriveStudentName(sheet.name)
	}

	hash := sha256.Sum256(sheet.data)
	now := h.now()
	sub := model.Submission{
		ID:          model.NewSubmissionID(now, -1),
		ExamID:      exam.ID,
		StudentName: studentName,
		FileName:    sheet.name,
		FileSize:    int64(len(sheet.data)),
		FileMime:    sheet.mime,
		FileHash:    hex.EncodeToString(hash[:]),
		SubmittedAt: now.UTC(),
	}
	if err := h.state.CreateSubmission(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"submission": sub,
		"message":    appI18n.T(r.Context(), "SubmissionReceived"),
	}

	if r.FormValue("autoGrade") == "1" {
		info := model.AuthFromContext(r.Context())
		result, gerr := h.grader.GradeSubmission(r.Context(), info.Profile.GeminiAPIKey,
			exam.Questions, exam.TotalMarks, sheet.data, sheet.mime)
		if gerr != nil {
			// The upload already succeeded; surface the grading failure
			// without undoing it.
			resp["gradingError"] = errs.UserMessage(gerr)
		} else if uerr := h.state.UpdateSubmissionResult(r.Context(), sub.ID, result); uerr != nil {
			writeError(w, uerr)
			return
		} else {
			sub.Result = result
			resp["submission"] = sub
			resp["message"] = appI18n.T(r.Context(), "SubmissionEvaluated")
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub := h.state.SubmissionByID(chi.URLParam(r, "submissionID"))
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Submission not found."})
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleEvaluate re-runs AI grading for one submission, overwriting any
// previous result. Submissions stored as lightweight metadata need the sheet
// re-uploaded; legacy inline sheets are reused.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	sub := h.state.SubmissionByID(chi.URLParam(r, "submissionID"))
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Submission not found."})
		return
	}
	exam := h.state.ExamByID(sub.ExamID)
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	var data []byte
	mimeType := sub.FileMime
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		if sheet, ferr := formFile(r, "sheet"); ferr != nil {
			writeError(w, ferr)
			return
		} else if sheet != nil {
			data = sheet.data
			mimeType = sheet.mime
		}
	}
	if data == nil && sub.AnswerSheet != "" {
		decoded, err := base64.StdEncoding.DecodeString(sub.AnswerSheet)
		if err != nil {
			writeError(w, errs.Validation("The stored answer sheet could not be read. Re-upload the file to evaluate."))
			return
		}
		data = decoded
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
	}
	if data == nil {
		writeError(w, errs.Validation("This submission only stores file details, not the sheet itself. Re-upload the file to evaluate."))
		return
	}

	info := model.AuthFromContext(r.Context())
	result, err := h.grader.GradeSubmission(r.Context(), info.Profile.GeminiAPIKey,
		exam.Questions, exam.TotalMarks, data, mimeType)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.state.UpdateSubmissionResult(r.Context(), sub.ID, result); err != nil {
		writeError(w, err)
		return
	}

	sub.Result = result
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"message":    appI18n.T(r.Context(), "SubmissionEvaluated"),
	})
}

// handleUpdateResult applies a teacher's manual edits. Scores are clamped
// into [0, marks] per question, the total is recomputed server-side and the
// whole result document is overwritten.
func (h *Handler) handleUpdateResult(w http.ResponseWriter, r *http.Request) {
	sub := h.state.SubmissionByID(chi.URLParam(r, "submissionID"))
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Submission not found."})
		return
	}
	exam := h.state.ExamByID(sub.ExamID)
	if exam == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exam not found."})
		return
	}

	var req struct {
		OverallFeedback string `json:"overallFeedback"`
		Answers         []struct {
			Score    float64 `json:"score"`
			Feedback string  `json:"feedback"`
		} `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Answers) != len(exam.Questions) {
		writeError(w, errs.Validation("The edited result does not match the exam's questions."))
		return
	}

	result := &model.GradedResult{OverallFeedback: req.OverallFeedback}
	if sub.Result != nil {
		result.DetectedStudentName = sub.Result.DetectedStudentName
		result.DetectedRollNumber = sub.Result.DetectedRollNumber
	}
	for i, q := range exam.Questions {
		score := model.ClampScore(req.Answers[i].Score, q.Marks)
		result.Answers = append(result.Answers, model.Answer{
			Question: q.Question,
			Score:    score,
			Feedback: req.Answers[i].Feedback,
		})
		result.TotalScore += score
	}

	if err := h.state.UpdateSubmissionResult(r.Context(), sub.ID, result); err != nil {
		writeError(w, err)
		return
	}

	sub.Result = result
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"message":    appI18n.T(r.Context(), "ResultUpdated"),
	})
}
