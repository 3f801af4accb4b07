package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingCertificates struct {
	mu       sync.Mutex
	requests []model.CertificateRequest
}

func (r *recordingCertificates) RequestCertificate(_ context.Context, req model.CertificateRequest) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
}

func (r *recordingCertificates) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []model.SessionUpdate
}

func (n *recordingNotifier) Publish(_ context.Context, u model.SessionUpdate) {
	n.mu.Lock()
	n.updates = append(n.updates, u)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.updates))
	for i, u := range n.updates {
		out[i] = u.Type
	}
	return out
}

var errDiskFull = errors.New("disk full")

// flakyStore fails writes while failing is set.
type flakyStore struct {
	*MemoryStore
	failing atomic.Bool
}

func (f *flakyStore) RecordEvent(ctx context.Context, s *model.ExamSession, ev model.SecurityEvent) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.MemoryStore.RecordEvent(ctx, s, ev)
}

func (f *flakyStore) FinalizeSession(ctx context.Context, s *model.ExamSession) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.MemoryStore.FinalizeSession(ctx, s)
}

type harness struct {
	clock    *fakeClock
	store    *flakyStore
	certs    *recordingCertificates
	notifier *recordingNotifier
	manager  *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		store:    &flakyStore{MemoryStore: NewMemoryStore()},
		certs:    &recordingCertificates{},
		notifier: &recordingNotifier{},
	}
	var n atomic.Int64
	h.manager = NewManager(Options{
		Store:        h.store,
		Seeds:        NewSeedDeriver("test-secret"),
		Certificates: h.certs,
		Notifier:     h.notifier,
		Clock:        h.clock.Now,
		NewID:        func() string { return fmt.Sprintf("sess-%d", n.Add(1)) },
		Logger:       zerolog.Nop(),
	})
	return h
}

// tenQuestionExam has question IDs q1..q10 whose correct option is "a".
func tenQuestionExam(policy model.ProctoringPolicy) model.ExamDefinition {
	qs := make([]model.Question, 10)
	for i := range qs {
		qs[i] = model.Question{
			ID:   fmt.Sprintf("q%d", i+1),
			Text: fmt.Sprintf("Question %d", i+1),
			Options: []model.Option{
				{ID: "a", Label: "Alpha"},
				{ID: "b", Label: "Bravo"},
				{ID: "c", Label: "Charlie"},
				{ID: "d", Label: "Delta"},
			},
			CorrectOption: "a",
		}
	}
	return model.ExamDefinition{
		ID:               uuid.MustParse("6f1c2a52-7c1e-4a8e-9a55-3f3d2b0d9e11"),
		Title:            "Network Fundamentals",
		PassingScore:     70,
		TimeLimitSeconds: 1800,
		AttemptsAllowed:  3,
		Questions:        qs,
		Policy:           policy,
	}
}

func answersWithCorrect(n int) map[string]string {
	out := make(map[string]string, 10)
	for i := 1; i <= 10; i++ {
		a := "b"
		if i <= n {
			a = "a"
		}
		out[fmt.Sprintf("q%d", i)] = a
	}
	return out
}

func (h *harness) start(t *testing.T, exam model.ExamDefinition, user string, attempt int) *StartResult {
	t.Helper()
	res, err := h.manager.StartSession(context.Background(), StartRequest{
		Exam:          exam,
		Policy:        exam.Policy,
		UserID:        user,
		AttemptNumber: attempt,
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return res
}

func report(id string, t model.EventType) EventReport {
	return EventReport{EventID: id, Type: t}
}
