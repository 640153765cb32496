// Package export flattens graded submissions into an xlsx workbook, one row
// per submission with the per-question breakdown spread across columns.
package export

import (
	"fmt"
	"io"
	"regexp"

	"github.com/xuri/excelize/v2"

	"github.com/ajay-kaushal/examaii-main/internal/model"
)

const sheetName = "Results"

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Filename builds the download name for an exam's results workbook.
func Filename(topic string) string {
	return SanitizeFilename(topic) + "_results.xlsx"
}

// SanitizeFilename collapses every run of characters outside [a-zA-Z0-9_-]
// into a single underscore.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Header returns the column header row for an exam with len(questions)
// questions.
func Header(exam model.Exam) []any {
	header := []any{
		"SubmissionID", "Student", "ScannedName", "ScannedRollNumber",
		"SubmittedAt", "TotalMarks", "AwardedScore", "Percentage", "OverallFeedback",
	}
	for i := range exam.Questions {
		n := i + 1
		header = append(header,
			fmt.Sprintf("Q%d_Question", n),
			fmt.Sprintf("Q%d_Marks", n),
			fmt.Sprintf("Q%d_Score", n),
			fmt.Sprintf("Q%d_Feedback", n),
		)
	}
	return header
}

// Row flattens one submission. Ungraded submissions leave every
// result-derived cell empty.
func Row(exam model.Exam, sub model.Submission) []any {
	var scannedName, scannedRoll, overallFeedback string
	var awarded, percentage any = "", ""
	if sub.Result != nil {
		scannedName = sub.Result.DetectedStudentName
		scannedRoll = sub.Result.DetectedRollNumber
		overallFeedback = sub.Result.OverallFeedback
		awarded = sub.Result.TotalScore
		if exam.TotalMarks > 0 {
			percentage = fmt.Sprintf("%.2f%%", sub.Result.TotalScore/float64(exam.TotalMarks)*100)
		}
	}

	row := []any{
		sub.ID, sub.StudentName, scannedName, scannedRoll,
		sub.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
		exam.TotalMarks, awarded, percentage, overallFeedback,
	}
	for i, q := range exam.Questions {
		var score any = ""
		feedback := ""
		if sub.Result != nil && i < len(sub.Result.Answers) {
			score = sub.Result.Answers[i].Score
			feedback = sub.Result.Answers[i].Feedback
		}
		row = append(row, q.Question, q.Marks, score, feedback)
	}
	return row
}

// Write renders the workbook for an exam and its submissions to w.
func Write(w io.Writer, exam model.Exam, submissions []model.Submission) error {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName(f.GetSheetName(0), sheetName)

	if err := f.SetSheetRow(sheetName, "A1", headerPtr(exam)); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	for i, sub := range submissions {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row coordinate: %w", err)
		}
		row := Row(exam, sub)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func headerPtr(exam model.Exam) *[]any {
	h := Header(exam)
	return &h
}
