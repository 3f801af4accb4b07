package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "proctor.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleExam() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:               uuid.MustParse("0b7d4e55-2f0c-4f7e-8a59-1b8c6a9e4d21"),
		Title:            "Secure Coding",
		PassingScore:     60,
		TimeLimitSeconds: 900,
		AttemptsAllowed:  2,
		Questions: []model.Question{
			{ID: "q1", Text: "First", Options: []model.Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}, CorrectOption: "a"},
			{ID: "q2", Text: "Second", Options: []model.Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}, CorrectOption: "b"},
		},
		Policy: model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 4, AutoSuspend: true, QuestionRandomization: true},
	}
}

func TestSQLiteExamRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteExamRepository(openSQLite(t))
	exam := sampleExam()

	_, err := repo.GetByID(ctx, exam.ID)
	require.ErrorIs(t, err, ErrExamNotFound)

	require.NoError(t, repo.Upsert(ctx, exam))
	exam.Title = "Secure Coding II"
	require.NoError(t, repo.Upsert(ctx, exam))

	got, err := repo.GetByID(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, exam, got)
}

func TestSQLiteSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteSessionRepository(openSQLite(t))

	started := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	s := &model.ExamSession{
		ID:                "sess-1",
		ExamID:            sampleExam().ID,
		UserID:            "learner-9",
		AttemptNumber:     1,
		Configuration:     model.ExamConfiguration{ProctoringEnabled: true, TimeLimitSeconds: 900, AlertThreshold: 4},
		PassingScore:      60,
		State:             model.SessionStateActive,
		StartedAt:         started,
		Deadline:          started.Add(15 * time.Minute),
		RandomizationSeed: 1<<63 + 12345,
		Drafts:            map[string]string{},
		Questions:         sampleExam().Questions,
	}
	require.NoError(t, store.CreateSession(ctx, s))

	dup := *s
	dup.ID = "sess-2"
	require.ErrorIs(t, store.CreateSession(ctx, &dup), proctor.ErrDuplicateActiveSession)

	require.NoError(t, store.SaveDraft(ctx, s.ID, "q1", "a"))

	reported := started.Add(time.Minute)
	ev := model.SecurityEvent{EventID: "e1", Type: model.EventTabSwitch, Severity: 2, Sequence: 1, ReportedAt: &reported, RecordedAt: started.Add(61 * time.Second)}
	next := s.Clone()
	next.Events = append(next.Events, ev)
	next.CumulativeSeverity = 2
	next.Drafts = map[string]string{"q1": "a"}
	require.NoError(t, store.RecordEvent(ctx, &next, ev))
	// Redelivery of the same event is absorbed.
	require.NoError(t, store.RecordEvent(ctx, &next, ev))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.RandomizationSeed, active[0].RandomizationSeed)
	assert.Equal(t, []model.SecurityEvent{ev}, active[0].Events)
	assert.Equal(t, map[string]string{"q1": "a"}, active[0].Drafts)
	assert.Equal(t, s.Questions, active[0].Questions)

	finished := started.Add(10 * time.Minute)
	score := 50
	next.State = model.SessionStateFinalized
	next.Disposition = model.SessionStateSubmitted
	next.Answers = map[string]string{"q1": "a", "q2": "a"}
	next.Score = &score
	next.Outcome = model.OutcomeFailed
	next.FinishedAt = &finished
	require.NoError(t, store.FinalizeSession(ctx, &next))

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Answers, got.Answers)
	assert.Equal(t, 50, *got.Score)
	assert.Equal(t, model.SessionStateSubmitted, got.Disposition)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.Len(t, got.Events, 1)

	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The tuple is free once the first attempt is over.
	require.NoError(t, store.CreateSession(ctx, &dup))

	assert.ErrorIs(t, store.SaveDraft(ctx, s.ID, "q2", "b"), proctor.ErrSessionNotFound)
	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, proctor.ErrSessionNotFound)
}

func TestManagerRecoversFromSQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	store := NewSQLiteSessionRepository(db)
	exams := NewSQLiteExamRepository(db)
	exam := sampleExam()
	require.NoError(t, exams.Upsert(ctx, exam))

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	m := proctor.NewManager(proctor.Options{Store: store, Clock: clock, Logger: zerolog.Nop()})
	started, err := m.StartSession(ctx, proctor.StartRequest{Exam: *exam, Policy: exam.Policy, UserID: "learner-1", AttemptNumber: 1})
	require.NoError(t, err)
	_, err = m.ReportEvent(ctx, started.SessionID, proctor.EventReport{EventID: "e1", Type: model.EventTabSwitch})
	require.NoError(t, err)
	require.NoError(t, m.SaveDraft(ctx, started.SessionID, "q1", "a"))

	// Republishing between start and restart must not reach the attempt.
	original := model.CloneQuestions(exam.Questions)
	edited := sampleExam()
	edited.Questions[0].CorrectOption = "b"
	edited.Questions[1].Text = "Second (revised)"
	require.NoError(t, exams.Upsert(ctx, edited))

	restarted := proctor.NewManager(proctor.Options{Store: store, Clock: clock, Logger: zerolog.Nop()})
	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, original, active[0].Questions)
	require.NoError(t, restarted.Adopt(active[0]))

	res, err := restarted.ReportEvent(ctx, started.SessionID, proctor.EventReport{EventID: "e2", Type: model.EventTabSwitch})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateFinalized, res.State)

	got, err := store.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateSuspended, got.Disposition)
	assert.Equal(t, 4, got.CumulativeSeverity)
	require.Len(t, got.Events, 2)

	require.NotNil(t, got.Score)
	assert.Equal(t, 50, *got.Score)
	assert.Equal(t, original, got.Questions)

	replay := proctor.Replay(*got)
	assert.Equal(t, started.Questions, replay.Questions)
	assert.True(t, replay.ScoreMatches)
	assert.True(t, replay.SeverityMatches)
}

func TestSQLiteCertificateRepository(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := NewSQLiteCertificateRepository(db)

	req := model.CertificateRequest{SessionID: "sess-1", ExamID: sampleExam().ID, UserID: "learner-1", Score: 90, RequestedAt: time.Now()}
	require.NoError(t, repo.InsertBatch(ctx, []model.CertificateRequest{req, req}))
	require.NoError(t, repo.Insert(ctx, req))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificate_requests`).Scan(&n))
	assert.Equal(t, 1, n)
}
