package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajay-kaushal/examaii-main/internal/appstate"
	"github.com/ajay-kaushal/examaii-main/internal/auth"
	"github.com/ajay-kaushal/examaii-main/internal/errs"
	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/model"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

// fakeGrader lets tests script the AI responses per operation.
type fakeGrader struct {
	generateFn func(topic string, numQuestions, totalMarks int) ([]model.Question, error)
	extractFn  func(topic string) ([]model.Question, error)
	patternFn  func(topic string, totalMarks int) ([]model.Question, error)
	gradeFn    func(questions []model.Question, totalMarks int) (*model.GradedResult, error)
}

func (f *fakeGrader) GenerateQuestions(_ context.Context, _, topic string, numQuestions, totalMarks int) ([]model.Question, error) {
	if f.generateFn != nil {
		return f.generateFn(topic, numQuestions, totalMarks)
	}
	qs := make([]model.Question, numQuestions)
	per := totalMarks / numQuestions
	for i := range qs {
		qs[i] = model.Question{Question: fmt.Sprintf("%s question %d", topic, i+1), Marks: per}
	}
	return qs, nil
}

func (f *fakeGrader) ExtractQuestions(_ context.Context, _ string, _ []byte, _, topic string) ([]model.Question, error) {
	if f.extractFn != nil {
		return f.extractFn(topic)
	}
	return []model.Question{{Question: "Extracted from " + topic, Marks: 10}}, nil
}

func (f *fakeGrader) GenerateFromPattern(_ context.Context, _ string, _ []byte, _, topic string, totalMarks int) ([]model.Question, error) {
	if f.patternFn != nil {
		return f.patternFn(topic, totalMarks)
	}
	return []model.Question{{Question: "Patterned " + topic, Marks: totalMarks}}, nil
}

func (f *fakeGrader) GradeSubmission(_ context.Context, _ string, questions []model.Question, totalMarks int, _ []byte, _ string) (*model.GradedResult, error) {
	if f.gradeFn != nil {
		return f.gradeFn(questions, totalMarks)
	}
	result := &model.GradedResult{OverallFeedback: "Good effort."}
	for _, q := range questions {
		result.Answers = append(result.Answers, model.Answer{
			Question: q.Question, Score: float64(q.Marks) / 2, Feedback: "Half marks.",
		})
		result.TotalScore += float64(q.Marks) / 2
	}
	return result, nil
}

type testEnv struct {
	router  http.Handler
	handler *Handler
	store   *store.SQLite
	state   *appstate.State
	grader  *fakeGrader
	cookie  *http.Cookie
	teacher *model.AuthInfo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	state, err := appstate.New(context.Background(), st)
	if err != nil {
		t.Fatalf("appstate: %v", err)
	}
	t.Cleanup(state.Close)

	authSvc := auth.NewService(st, "test-secret", auth.GoogleConfig{}, false)
	grader := &fakeGrader{}
	h := New(state, st, authSvc, grader)

	r := chi.NewRouter()
	h.Routes(r)

	teacher, err := authSvc.Register(context.Background(), "teacher@example.com", "secret123", model.RoleTeacher, "T")
	if err != nil {
		t.Fatalf("register teacher: %v", err)
	}
	if err := st.UpdateProfileGeminiKey(context.Background(), teacher.User.UID, "test-api-key"); err != nil {
		t.Fatalf("set api key: %v", err)
	}
	token, err := authSvc.IssueToken(teacher.User.UID, model.RoleTeacher)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testEnv{
		router:  r,
		handler: h,
		store:   st,
		state:   state,
		grader:  grader,
		cookie:  &http.Cookie{Name: auth.SessionCookieName, Value: token},
		teacher: teacher,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.AddCookie(e.cookie)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return e.do(t, method, path, bytes.NewReader(data), "application/json")
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for field, names := range files {
		for _, name := range names {
			fw, err := mw.CreateFormFile(field, name)
			if err != nil {
				t.Fatalf("create form file: %v", err)
			}
			if _, err := fw.Write([]byte("fake file contents for " + name)); err != nil {
				t.Fatalf("write form file: %v", err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) createExam(t *testing.T, topic string) model.Exam {
	t.Helper()
	exam := model.Exam{
		ID:         model.NewExamID(time.Now()),
		Topic:      topic,
		TotalMarks: 20,
		Questions: []model.Question{
			{Question: "First question", Marks: 8},
			{Question: "Second question", Marks: 12},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.state.CreateExam(context.Background(), exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}
	return exam
}

func TestCreateExamGenerate(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{
		"mode": "generate", "topic": "Thermodynamics",
		"numQuestions": "4", "totalMarks": "20",
	}, nil)
	rec := env.do(t, "POST", "/api/exams", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Exam model.Exam `json:"exam"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Exam.Topic != "Thermodynamics" || len(resp.Exam.Questions) != 4 {
		t.Errorf("unexpected exam: %+v", resp.Exam)
	}
	if resp.Exam.TotalMarks != 20 {
		t.Errorf("generate mode keeps requested total, got %d", resp.Exam.TotalMarks)
	}
	if env.state.ExamByID(resp.Exam.ID) == nil {
		t.Error("exam not visible through state")
	}
}

func TestCreateExamReproduceEmptyExtraction(t *testing.T) {
	env := newTestEnv(t)
	env.grader.extractFn = func(string) ([]model.Question, error) { return nil, nil }

	body, ct := multipartBody(t,
		map[string]string{"mode": "reproduce", "topic": "History"},
		map[string][]string{"paper": {"paper.pdf"}})
	rec := env.do(t, "POST", "/api/exams", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty extraction, got %d: %s", rec.Code, rec.Body)
	}
	if len(env.state.Exams()) != 0 {
		t.Error("no exam should be created on failed extraction")
	}
}

func TestCreateExamReproduceSumsMarks(t *testing.T) {
	env := newTestEnv(t)
	env.grader.extractFn = func(string) ([]model.Question, error) {
		return []model.Question{{Question: "Q1", Marks: 3}, {Question: "Q2", Marks: 7}}, nil
	}

	body, ct := multipartBody(t,
		map[string]string{"mode": "reproduce", "topic": "History", "totalMarks": "100"},
		map[string][]string{"paper": {"paper.pdf"}})
	rec := env.do(t, "POST", "/api/exams", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Exam model.Exam `json:"exam"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	// Reproduce mode ignores the requested total and uses the paper's own.
	if resp.Exam.TotalMarks != 10 {
		t.Errorf("expected total 10 from extracted marks, got %d", resp.Exam.TotalMarks)
	}
}

func TestCreateExamRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.UpdateProfileGeminiKey(context.Background(), env.teacher.User.UID, ""); err != nil {
		t.Fatalf("clear key: %v", err)
	}

	body, ct := multipartBody(t, map[string]string{
		"mode": "generate", "topic": "T", "numQuestions": "2", "totalMarks": "10",
	}, nil)
	rec := env.do(t, "POST", "/api/exams", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", rec.Code)
	}
}

func TestDeleteExamConfirmPhrase(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "Organic Chemistry Basics")

	// Wrong phrase rejected.
	rec := env.doJSON(t, "DELETE", "/api/exams/"+exam.ID, map[string]string{"confirm": "DELETE WRONG"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong phrase, got %d", rec.Code)
	}
	if env.state.ExamByID(exam.ID) == nil {
		t.Fatal("exam must survive a rejected delete")
	}

	// Correct phrase: the topic uppercased, truncated to 15 characters.
	phrase := deleteConfirmPhrase(exam.Topic)
	if phrase != "DELETE ORGANIC CHEMIST" {
		t.Fatalf("unexpected phrase %q", phrase)
	}
	sub := model.Submission{ID: "sub-1", ExamID: exam.ID, StudentName: "S", SubmittedAt: time.Now()}
	if err := env.state.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	rec = env.doJSON(t, "DELETE", "/api/exams/"+exam.ID+"?cascade=1", map[string]string{"confirm": phrase})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		DeletedSubmissions int `json:"deletedSubmissions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.DeletedSubmissions != 1 {
		t.Errorf("expected 1 cascaded submission, got %d", resp.DeletedSubmissions)
	}
	if env.state.ExamByID(exam.ID) != nil {
		t.Error("exam should be gone")
	}
}

func TestManualResultEditClamps(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "Algebra")
	sub := model.Submission{ID: "sub-1", ExamID: exam.ID, StudentName: "Asha", SubmittedAt: time.Now()}
	if err := env.state.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	// Q1 has 8 marks, Q2 has 12. Over- and under-range scores get clamped.
	edit := map[string]any{
		"overallFeedback": "Adjusted after review.",
		"answers": []map[string]any{
			{"score": 15.0, "feedback": "capped"},
			{"score": -3.0, "feedback": "floored"},
		},
	}
	rec := env.doJSON(t, "PUT", "/api/submissions/sub-1/result", edit)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Submission model.Submission `json:"submission"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	result := resp.Submission.Result
	if result == nil {
		t.Fatal("expected result")
	}
	if result.Answers[0].Score != 8 {
		t.Errorf("expected Q1 clamped to 8, got %f", result.Answers[0].Score)
	}
	if result.Answers[1].Score != 0 {
		t.Errorf("expected Q2 floored to 0, got %f", result.Answers[1].Score)
	}
	if result.TotalScore != 8 {
		t.Errorf("expected recomputed total 8, got %f", result.TotalScore)
	}
	if result.Answers[0].Question != "First question" {
		t.Errorf("expected question text filled from exam, got %q", result.Answers[0].Question)
	}

	// Applying an in-range edit twice is idempotent.
	edit["answers"] = []map[string]any{
		{"score": 5.0, "feedback": "ok"},
		{"score": 6.0, "feedback": "ok"},
	}
	for i := 0; i < 2; i++ {
		rec = env.doJSON(t, "PUT", "/api/submissions/sub-1/result", edit)
		if rec.Code != http.StatusOK {
			t.Fatalf("edit %d: expected 200, got %d", i, rec.Code)
		}
	}
	stored := env.state.SubmissionByID("sub-1")
	if stored.Result.TotalScore != 11 {
		t.Errorf("expected total 11 after repeated edit, got %f", stored.Result.TotalScore)
	}
}

func TestManualResultEditShapeMismatch(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "Algebra")
	sub := model.Submission{ID: "sub-1", ExamID: exam.ID, StudentName: "A", SubmittedAt: time.Now()}
	if err := env.state.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	edit := map[string]any{
		"answers": []map[string]any{{"score": 1.0, "feedback": "only one"}},
	}
	rec := env.doJSON(t, "PUT", "/api/submissions/sub-1/result", edit)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for answer count mismatch, got %d", rec.Code)
	}
}

func TestUploadSubmissionGradingFailureKeepsUpload(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "Physics")
	env.grader.gradeFn = func([]model.Question, int) (*model.GradedResult, error) {
		return nil, errs.Transport("AI grading failed. The submitted sheet might be unclear or there was an issue with the AI model.", errors.New("boom"))
	}

	body, ct := multipartBody(t,
		map[string]string{"examId": exam.ID, "autoGrade": "1"},
		map[string][]string{"sheet": {"ravi_kumar.pdf"}})
	rec := env.do(t, "POST", "/api/submissions", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 despite grading failure, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Submission   model.Submission `json:"submission"`
		GradingError string           `json:"gradingError"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.GradingError == "" {
		t.Error("expected grading error reported")
	}
	stored := env.state.SubmissionByID(resp.Submission.ID)
	if stored == nil {
		t.Fatal("submission must stay persisted")
	}
	if stored.Result != nil {
		t.Error("submission must stay ungraded")
	}
	if stored.StudentName != "ravi kumar" {
		t.Errorf("expected name derived from filename, got %q", stored.StudentName)
	}
	if stored.FileHash == "" || stored.FileSize == 0 {
		t.Error("expected file metadata recorded")
	}
}

func TestStudentSubmitGradesBeforeStoring(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "Physics")

	// Grading failure stores nothing.
	env.grader.gradeFn = func([]model.Question, int) (*model.GradedResult, error) {
		return nil, errs.Transport("AI grading failed. The submitted sheet might be unclear or there was an issue with the AI model.", errors.New("down"))
	}
	req := map[string]string{
		"studentName":      "Asha",
		"answerSheetImage": "aGVsbG8=",
		"mimeType":         "image/png",
	}
	rec := env.doJSON(t, "POST", "/api/exams/"+exam.ID+"/submissions", req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if len(env.state.SubmissionsByExamID(exam.ID)) != 0 {
		t.Error("failed grading must store nothing in the student flow")
	}

	// Success stores sheet and result together.
	env.grader.gradeFn = nil
	rec = env.doJSON(t, "POST", "/api/exams/"+exam.ID+"/submissions", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	subs := env.state.SubmissionsByExamID(exam.ID)
	if len(subs) != 1 || subs[0].Result == nil {
		t.Fatalf("expected one graded submission, got %+v", subs)
	}
	if subs[0].AnswerSheet != "aGVsbG8=" {
		t.Error("student flow keeps the inline sheet")
	}
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, "T")
	for _, id := range []string{"sub-1", "sub-2"} {
		if err := env.state.CreateSubmission(context.Background(), model.Submission{ID: id, ExamID: exam.ID, StudentName: "S", SubmittedAt: time.Now()}); err != nil {
			t.Fatalf("create submission: %v", err)
		}
	}

	// Wrong phrase.
	rec := env.doJSON(t, "POST", "/api/admin/purge", map[string]string{"target": "submissions", "phrase": "delete subs"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong phrase, got %d", rec.Code)
	}

	// Unknown target.
	rec = env.doJSON(t, "POST", "/api/admin/purge", map[string]string{"target": "users", "phrase": "DELETE ALL"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown target, got %d", rec.Code)
	}

	rec = env.doJSON(t, "POST", "/api/admin/purge", map[string]string{"target": "submissions", "phrase": "DELETE SUBS"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Deleted int `json:"deleted"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", resp.Deleted)
	}
	if env.state.ExamByID(exam.ID) == nil {
		t.Error("exams must survive a submissions-only purge")
	}
}

func TestStudentCannotReachTeacherRoutes(t *testing.T) {
	env := newTestEnv(t)

	authSvc := auth.NewService(env.store, "test-secret", auth.GoogleConfig{}, false)
	student, err := authSvc.Register(context.Background(), "s@example.com", "secret123", model.RoleStudent, "")
	if err != nil {
		t.Fatalf("register student: %v", err)
	}
	token, _ := authSvc.IssueToken(student.User.UID, model.RoleStudent)

	req := httptest.NewRequest("POST", "/api/admin/purge", bytes.NewReader([]byte(`{}`)))
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for student on admin route, got %d", rec.Code)
	}
}

func TestUnmatchedPathRedirects(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/some/unknown/page", nil, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
}
