// Package appstate keeps live in-memory snapshots of the exam and
// submission collections, fed by the store's subscription streams. Handlers
// read from it instead of hitting the database on every request.
package appstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ajay-kaushal/examaii-main/internal/model"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

// State mirrors the two collections. Reads are lock-guarded copies; writes
// delegate to the store and rely on the next pushed snapshot, never mutating
// local state directly.
type State struct {
	store store.Store

	mu          sync.RWMutex
	exams       []model.Exam
	submissions []model.Submission

	unsubOnce        sync.Once
	unsubExams       func()
	unsubSubmissions func()
}

// New subscribes to both streams and then loads the initial snapshots.
// Subscribing first closes the startup window: a mutation landing before the
// lists return arrives as a push, and the older list result must not clobber
// it.
func New(ctx context.Context, st store.Store) (*State, error) {
	s := &State{store: st}

	var examsPushed, subsPushed bool
	s.unsubExams = st.SubscribeExams(func(exams []model.Exam) {
		s.mu.Lock()
		s.exams = exams
		examsPushed = true
		s.mu.Unlock()
	})
	s.unsubSubmissions = st.SubscribeSubmissions(func(subs []model.Submission) {
		s.mu.Lock()
		s.submissions = subs
		subsPushed = true
		s.mu.Unlock()
	})

	exams, err := st.ListExams(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initial exam snapshot: %w", err)
	}
	subs, err := st.ListSubmissions(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initial submission snapshot: %w", err)
	}

	s.mu.Lock()
	if !examsPushed {
		s.exams = exams
	}
	if !subsPushed {
		s.submissions = subs
	}
	s.mu.Unlock()
	return s, nil
}

// Close unsubscribes from both streams. Safe to call more than once.
func (s *State) Close() {
	s.unsubOnce.Do(func() {
		s.unsubExams()
		s.unsubSubmissions()
	})
}

// Exams returns the current exam snapshot, newest first.
func (s *State) Exams() []model.Exam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Exam, len(s.exams))
	copy(out, s.exams)
	return out
}

// Submissions returns the current submission snapshot, unsorted.
func (s *State) Submissions() []model.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// ExamByID returns the exam from the snapshot, or nil.
func (s *State) ExamByID(id string) *model.Exam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.exams {
		if s.exams[i].ID == id {
			exam := s.exams[i]
			return &exam
		}
	}
	return nil
}

// SubmissionByID returns the submission from the snapshot, or nil.
func (s *State) SubmissionByID(id string) *model.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.submissions {
		if s.submissions[i].ID == id {
			sub := s.submissions[i]
			return &sub
		}
	}
	return nil
}

// SubmissionsByExamID filters and sorts fresh on every call, most recent
// submission first. An exam with no submissions yields an empty slice.
func (s *State) SubmissionsByExamID(examID string) []model.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, 0)
	for _, sub := range s.submissions {
		if sub.ExamID == examID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// CreateExam writes through to the store.
func (s *State) CreateExam(ctx context.Context, exam model.Exam) error {
	return s.store.CreateExam(ctx, exam)
}

// CreateSubmission writes through to the store.
func (s *State) CreateSubmission(ctx context.Context, sub model.Submission) error {
	return s.store.CreateSubmission(ctx, sub)
}

// UpdateSubmissionResult writes through to the store.
func (s *State) UpdateSubmissionResult(ctx context.Context, id string, result *model.GradedResult) error {
	return s.store.UpdateSubmissionResult(ctx, id, result)
}

// DeleteExam writes through to the store, cascading to submissions when
// asked. Returns the number of submissions removed.
func (s *State) DeleteExam(ctx context.Context, examID string, cascade bool) (int, error) {
	if cascade {
		return s.store.DeleteExamWithSubmissions(ctx, examID)
	}
	return 0, s.store.DeleteExam(ctx, examID)
}
