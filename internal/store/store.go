// Package store provides the persistence gateway over the exam, submission
// and user collections. Two implementations exist: an embedded SQLite store
// and a hosted MongoDB document store, selected by configuration. Both push
// full-collection snapshots to subscribers after every mutation.
package store

import (
	"context"
	"fmt"

	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// Store is the persistence gateway contract.
//
// Create operations are idempotent overwrites keyed by the caller-supplied
// id: a second call with the same id replaces the document rather than
// erroring. Get operations return (nil, nil) for missing documents.
type Store interface {
	// CreateExam stores (or replaces) an exam document.
	CreateExam(ctx context.Context, exam model.Exam) error
	// GetExam returns the exam or (nil, nil) when absent.
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	// ListExams returns all exams sorted by createdAt descending.
	ListExams(ctx context.Context) ([]model.Exam, error)
	// DeleteExam removes the exam document only. Submissions referencing it
	// are left orphaned.
	DeleteExam(ctx context.Context, id string) error
	// DeleteExamWithSubmissions batch-deletes all submissions referencing
	// examID, then the exam itself, returning the number of submissions
	// removed.
	DeleteExamWithSubmissions(ctx context.Context, examID string) (int, error)

	// CreateSubmission stores (or replaces) a submission document.
	CreateSubmission(ctx context.Context, sub model.Submission) error
	// GetSubmission returns the submission or (nil, nil) when absent.
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	// ListSubmissions returns all submissions in no particular order;
	// sorting by recency is the caller's responsibility.
	ListSubmissions(ctx context.Context) ([]model.Submission, error)
	// ListSubmissionsByExam returns submissions matching examID, unsorted.
	ListSubmissionsByExam(ctx context.Context, examID string) ([]model.Submission, error)
	// UpdateSubmissionResult replaces the stored result. It is a silent
	// no-op when the submission does not exist; callers must not assume the
	// write occurred.
	UpdateSubmissionResult(ctx context.Context, id string, result *model.GradedResult) error

	// Bulk destructive operations: read the full collection, apply one
	// batched delete, return the count. An empty collection commits nothing.
	DeleteAllExams(ctx context.Context) (int, error)
	DeleteAllSubmissions(ctx context.Context) (int, error)
	DeleteAllUsers(ctx context.Context) (int, error)

	// Users and profiles, used by the identity gateway.
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, uid string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UserCount(ctx context.Context) (int, error)
	// SaveProfile overwrites the profile document for its UID.
	SaveProfile(ctx context.Context, p model.Profile) error
	// GetProfile returns the profile or (nil, nil) when absent.
	GetProfile(ctx context.Context, uid string) (*model.Profile, error)
	// UpdateProfileGeminiKey merge-writes only the AI key field; an empty
	// key removes it.
	UpdateProfileGeminiKey(ctx context.Context, uid, apiKey string) error

	// SubscribeExams registers a callback receiving a fresh exam snapshot
	// (createdAt descending) after every change. The returned function
	// unsubscribes; the caller owns calling it exactly once.
	SubscribeExams(fn func([]model.Exam)) (unsubscribe func())
	// SubscribeSubmissions is the submission-collection counterpart;
	// snapshots are unsorted.
	SubscribeSubmissions(fn func([]model.Submission)) (unsubscribe func())

	Close() error
}

// Open creates a store for the configured driver: "sqlite" or "mongo".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "mongo":
		return NewMongo(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}
