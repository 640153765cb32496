package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ajay-kaushal/examaii-main/internal/model"
)

func testExam() model.Exam {
	return model.Exam{
		ID:         "exam-1",
		Topic:      "Cell Biology & Genetics!",
		TotalMarks: 20,
		Questions: []model.Question{
			{Question: "Describe mitosis", Marks: 8},
			{Question: "Define allele", Marks: 4},
			{Question: "Explain DNA replication", Marks: 8},
		},
		CreatedAt: time.Now(),
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{"plain", "Physics", "Physics"},
		{"spaces", "Cell Biology", "Cell_Biology"},
		{"punctuation run", "Maths: Algebra & Trig!", "Maths_Algebra_Trig_"},
		{"keeps dash underscore", "unit-1_review", "unit-1_review"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.topic); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("Cell Biology & Genetics!"); got != "Cell_Biology_Genetics__results.xlsx" {
		t.Errorf("unexpected filename: %q", got)
	}
}

func TestHeaderShape(t *testing.T) {
	exam := testExam()
	header := Header(exam)

	// 9 fixed columns plus 4 per question.
	want := 9 + 4*len(exam.Questions)
	if len(header) != want {
		t.Fatalf("expected %d header columns, got %d", want, len(header))
	}
	if header[0] != "SubmissionID" || header[8] != "OverallFeedback" {
		t.Errorf("unexpected fixed columns: %v", header[:9])
	}
	if header[9] != "Q1_Question" || header[12] != "Q1_Feedback" {
		t.Errorf("unexpected question columns: %v", header[9:13])
	}
	if header[len(header)-1] != "Q3_Feedback" {
		t.Errorf("unexpected last column: %v", header[len(header)-1])
	}
}

func TestRowGradedAndUngraded(t *testing.T) {
	exam := testExam()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	graded := model.Submission{
		ID: "sub-1", ExamID: exam.ID, StudentName: "Asha", SubmittedAt: now,
		Result: &model.GradedResult{
			TotalScore:          15,
			OverallFeedback:     "Good grasp of the material.",
			DetectedStudentName: "Asha R",
			DetectedRollNumber:  "42",
			Answers: []model.Answer{
				{Question: "Describe mitosis", Score: 6, Feedback: "Missed telophase."},
				{Question: "Define allele", Score: 4, Feedback: "Correct."},
				{Question: "Explain DNA replication", Score: 5, Feedback: "Partial."},
			},
		},
	}

	row := Row(exam, graded)
	if len(row) != len(Header(exam)) {
		t.Fatalf("row width %d does not match header width %d", len(row), len(Header(exam)))
	}
	if row[0] != "sub-1" || row[1] != "Asha" || row[2] != "Asha R" || row[3] != "42" {
		t.Errorf("unexpected identity columns: %v", row[:4])
	}
	if row[7] != "75.00%" {
		t.Errorf("expected percentage 75.00%%, got %v", row[7])
	}
	// Q2 block: question, marks, score, feedback.
	if row[13] != "Define allele" || row[14] != 4 || row[15] != 4.0 || row[16] != "Correct." {
		t.Errorf("unexpected Q2 block: %v", row[13:17])
	}

	ungraded := model.Submission{ID: "sub-2", ExamID: exam.ID, StudentName: "Vikram", SubmittedAt: now}
	row = Row(exam, ungraded)
	if row[6] != "" || row[7] != "" || row[8] != "" {
		t.Errorf("expected empty result columns for ungraded submission, got %v", row[6:9])
	}
	if row[11] != "" || row[12] != "" {
		t.Errorf("expected empty Q1 score/feedback, got %v", row[11:13])
	}
	// Question text and marks still present for ungraded rows.
	if row[9] != "Describe mitosis" || row[10] != 8 {
		t.Errorf("expected question columns regardless of grading, got %v", row[9:11])
	}
}

func TestWriteWorkbook(t *testing.T) {
	exam := testExam()
	now := time.Now()
	subs := []model.Submission{
		{ID: "sub-1", ExamID: exam.ID, StudentName: "A", SubmittedAt: now,
			Result: &model.GradedResult{TotalScore: 10, OverallFeedback: "ok",
				Answers: []model.Answer{{Question: "Q", Score: 10, Feedback: "f"}}}},
		{ID: "sub-2", ExamID: exam.ID, StudentName: "B", SubmittedAt: now},
	}

	var buf bytes.Buffer
	if err := Write(&buf, exam, subs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	if f.GetSheetName(0) != "Results" {
		t.Errorf("expected sheet Results, got %q", f.GetSheetName(0))
	}
	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	// Header plus one row per submission.
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1][0] != "sub-1" || rows[2][0] != "sub-2" {
		t.Errorf("unexpected row order: %v / %v", rows[1][0], rows[2][0])
	}
}
