package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// notifier fans full-collection snapshots out to subscribers. Both store
// implementations embed one and publish after each local mutation; the mongo
// store additionally publishes from its change-stream loop so writes by
// other processes are observed too.
type notifier struct {
	mu      sync.Mutex
	nextID  int
	examFns map[int]func([]model.Exam)
	subFns  map[int]func([]model.Submission)
}

func newNotifier() *notifier {
	return &notifier{
		examFns: make(map[int]func([]model.Exam)),
		subFns:  make(map[int]func([]model.Submission)),
	}
}

func (n *notifier) subscribeExams(fn func([]model.Exam)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.examFns[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.examFns, id)
	}
}

func (n *notifier) subscribeSubmissions(fn func([]model.Submission)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subFns[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subFns, id)
	}
}

// publishExams snapshots the exam collection and delivers it to every
// subscriber. Listing errors are logged, not propagated: a failed snapshot
// push must not fail the mutation that triggered it.
func (n *notifier) publishExams(ctx context.Context, list func(context.Context) ([]model.Exam, error)) {
	n.mu.Lock()
	fns := make([]func([]model.Exam), 0, len(n.examFns))
	for _, fn := range n.examFns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	exams, err := list(ctx)
	if err != nil {
		slog.Warn("exam snapshot push failed", "error", err)
		return
	}
	for _, fn := range fns {
		fn(exams)
	}
}

func (n *notifier) publishSubmissions(ctx context.Context, list func(context.Context) ([]model.Submission, error)) {
	n.mu.Lock()
	fns := make([]func([]model.Submission), 0, len(n.subFns))
	for _, fn := range n.subFns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	subs, err := list(ctx)
	if err != nil {
		slog.Warn("submission snapshot push failed", "error", err)
		return
	}
	for _, fn := range fns {
		fn(subs)
	}
}
