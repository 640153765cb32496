package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ajay-kaushal/examaii-main/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded store. Exams and submissions keep their nested
// parts (questions, results) as JSON columns so both drivers share the same
// document shape.
type SQLite struct {
	db *sql.DB
	*notifier
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db, notifier: newNotifier()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		total_marks INTEGER NOT NULL,
		questions TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		answer_sheet TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		file_mime TEXT NOT NULL DEFAULT '',
		file_hash TEXT NOT NULL DEFAULT '',
		submitted_at DATETIME NOT NULL,
		result TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_exam_id ON submissions(exam_id);

	CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		uid TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		gemini_api_key TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam, replacing any existing document with the same id.
func (s *SQLite) CreateExam(ctx context.Context, exam model.Exam) error {
	questions, err := json.Marshal(exam.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (id, topic, total_marks, questions, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET topic = excluded.topic,
		   total_marks = excluded.total_marks,
		   questions = excluded.questions,
		   created_at = excluded.created_at`,
		exam.ID, exam.Topic, exam.TotalMarks, string(questions), exam.CreatedAt,
	)
	if err != nil {
		return err
	}
	s.publishExams(ctx, s.ListExams)
	return nil
}

// GetExam returns the exam or (nil, nil) when absent.
func (s *SQLite) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, total_marks, questions, created_at FROM exams WHERE id = ?`, id)
	exam, err := scanExam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exam, nil
}

// ListExams returns all exams sorted by createdAt descending.
func (s *SQLite) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, total_marks, questions, created_at FROM exams ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		exam, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *exam)
	}
	return exams, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(row scanner) (*model.Exam, error) {
	var e model.Exam
	var questions string
	if err := row.Scan(&e.ID, &e.Topic, &e.TotalMarks, &questions, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions for %s: %w", e.ID, err)
	}
	return &e, nil
}

// DeleteExam removes the exam document only.
func (s *SQLite) DeleteExam(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	s.publishExams(ctx, s.ListExams)
	return nil
}

// DeleteExamWithSubmissions removes the exam and its submissions in one
// transaction, returning the number of submissions deleted.
func (s *SQLite) DeleteExamWithSubmissions(ctx context.Context, examID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE exam_id = ?`, examID)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, examID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.publishSubmissions(ctx, s.ListSubmissions)
	s.publishExams(ctx, s.ListExams)
	return int(deleted), nil
}

// CreateSubmission stores a submission, replacing any existing document with
// the same id.
func (s *SQLite) CreateSubmission(ctx context.Context, sub model.Submission) error {
	result, err := marshalResult(sub.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, exam_id, student_name, answer_sheet, file_name, file_size, file_mime, file_hash, submitted_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET exam_id = excluded.exam_id,
		   student_name = excluded.student_name,
		   answer_sheet = excluded.answer_sheet,
		   file_name = excluded.file_name,
		   file_size = excluded.file_size,
		   file_mime = excluded.file_mime,
		   file_hash = excluded.file_hash,
		   submitted_at = excluded.submitted_at,
		   result = excluded.result`,
		sub.ID, sub.ExamID, sub.StudentName, sub.AnswerSheet, sub.FileName,
		sub.FileSize, sub.FileMime, sub.FileHash, sub.SubmittedAt, result,
	)
	if err != nil {
		return err
	}
	s.publishSubmissions(ctx, s.ListSubmissions)
	return nil
}

func marshalResult(r *model.GradedResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// GetSubmission returns the submission or (nil, nil) when absent.
func (s *SQLite) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, student_name, answer_sheet, file_name, file_size, file_mime, file_hash, submitted_at, result
		 FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns all submissions, unsorted.
func (s *SQLite) ListSubmissions(ctx context.Context) ([]model.Submission, error) {
	return s.querySubmissions(ctx,
		`SELECT id, exam_id, student_name, answer_sheet, file_name, file_size, file_mime, file_hash, submitted_at, result
		 FROM submissions`)
}

// ListSubmissionsByExam returns submissions matching examID, unsorted.
func (s *SQLite) ListSubmissionsByExam(ctx context.Context, examID string) ([]model.Submission, error) {
	return s.querySubmissions(ctx,
		`SELECT id, exam_id, student_name, answer_sheet, file_name, file_size, file_mime, file_hash, submitted_at, result
		 FROM submissions WHERE exam_id = ?`, examID)
}

func (s *SQLite) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var sub model.Submission
	var result sql.NullString
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentName, &sub.AnswerSheet,
		&sub.FileName, &sub.FileSize, &sub.FileMime, &sub.FileHash,
		&sub.SubmittedAt, &result)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		var r model.GradedResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal result for %s: %w", sub.ID, err)
		}
		sub.Result = &r
	}
	return &sub, nil
}

// UpdateSubmissionResult replaces the stored result wholesale. Silently a
// no-op when the submission does not exist.
func (s *SQLite) UpdateSubmissionResult(ctx context.Context, id string, result *model.GradedResult) error {
	data, err := marshalResult(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE submissions SET result = ? WHERE id = ?`, data, id)
	if err != nil {
		return err
	}
	s.publishSubmissions(ctx, s.ListSubmissions)
	return nil
}

// DeleteAllExams removes every exam in one statement and returns the count.
func (s *SQLite) DeleteAllExams(ctx context.Context) (int, error) {
	n, err := s.deleteAll(ctx, "exams")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishExams(ctx, s.ListExams)
	}
	return n, nil
}

// DeleteAllSubmissions removes every submission and returns the count.
func (s *SQLite) DeleteAllSubmissions(ctx context.Context) (int, error) {
	n, err := s.deleteAll(ctx, "submissions")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishSubmissions(ctx, s.ListSubmissions)
	}
	return n, nil
}

// DeleteAllUsers removes every user and profile document and returns the
// user count.
func (s *SQLite) DeleteAllUsers(ctx context.Context) (int, error) {
	n, err := s.deleteAll(ctx, "users")
	if err != nil {
		return 0, err
	}
	if _, err := s.deleteAll(ctx, "profiles"); err != nil {
		return n, err
	}
	return n, nil
}

func (s *SQLite) deleteAll(ctx context.Context, table string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return 0, err
	}
	return count, nil
}

// CreateUser inserts a new account.
func (s *SQLite) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.UID, u.Email, u.PasswordHash, u.CreatedAt,
	)
	return err
}

// GetUser returns the account by uid, or (nil, nil).
func (s *SQLite) GetUser(ctx context.Context, uid string) (*model.User, error) {
	return s.queryUser(ctx, `SELECT uid, email, password_hash, created_at FROM users WHERE uid = ?`, uid)
}

// GetUserByEmail returns the account by email, or (nil, nil).
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.queryUser(ctx, `SELECT uid, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (s *SQLite) queryUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.UID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the number of accounts.
func (s *SQLite) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// SaveProfile overwrites the profile document for its UID.
func (s *SQLite) SaveProfile(ctx context.Context, p model.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (uid, role, display_name, email, gemini_api_key)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET role = excluded.role,
		   display_name = excluded.display_name,
		   email = excluded.email,
		   gemini_api_key = excluded.gemini_api_key`,
		p.UID, p.Role, p.DisplayName, p.Email, p.GeminiAPIKey,
	)
	return err
}

// GetProfile returns the profile document, or (nil, nil).
func (s *SQLite) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, role, display_name, email, gemini_api_key FROM profiles WHERE uid = ?`, uid,
	).Scan(&p.UID, &p.Role, &p.DisplayName, &p.Email, &p.GeminiAPIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfileGeminiKey merge-writes only the AI key field.
func (s *SQLite) UpdateProfileGeminiKey(ctx context.Context, uid, apiKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET gemini_api_key = ? WHERE uid = ?`, apiKey, uid)
	return err
}

// SubscribeExams registers an exam snapshot subscriber.
func (s *SQLite) SubscribeExams(fn func([]model.Exam)) func() {
	return s.subscribeExams(fn)
}

// SubscribeSubmissions registers a submission snapshot subscriber.
func (s *SQLite) SubscribeSubmissions(fn func([]model.Submission)) func() {
	return s.subscribeSubmissions(fn)
}

var _ Store = (*SQLite)(nil)
