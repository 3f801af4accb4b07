package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestSuspendsWhenThresholdReached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{
		ProctoringEnabled: true,
		AlertThreshold:    5,
		AutoSuspend:       true,
	})
	s := h.start(t, exam, "learner-1", 1)

	res, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventTabSwitch))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, 2, res.CumulativeSeverity)
	assert.Equal(t, model.SessionStateActive, res.State)
	assert.Equal(t, ActionWarn, res.Decision.Action)

	res, err = h.manager.ReportEvent(ctx, s.SessionID, report("e2", model.EventDevToolsAttempt))
	require.NoError(t, err)
	assert.Equal(t, 5, res.CumulativeSeverity)
	assert.Equal(t, ActionSuspend, res.Decision.Action)
	assert.Equal(t, model.SessionStateFinalized, res.State)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateSuspended, st.Disposition)
	assert.Equal(t, 0, st.RemainingSeconds)

	// Later events are accepted as no-ops.
	res, err = h.manager.ReportEvent(ctx, s.SessionID, report("e3", model.EventTabSwitch))
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.Equal(t, 5, res.CumulativeSeverity)

	trail, err := h.manager.AuditTrail(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, 1, trail[0].Sequence)
	assert.Equal(t, 2, trail[1].Sequence)
	assert.Zero(t, h.certs.count())
}

func TestExpiresAtDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})
	s := h.start(t, exam, "learner-1", 1)
	assert.Equal(t, testStart.Add(1800*time.Second), s.Deadline)

	require.NoError(t, h.manager.SaveDraft(ctx, s.SessionID, "q1", "a"))
	require.NoError(t, h.manager.SaveDraft(ctx, s.SessionID, "q2", "a"))

	h.clock.Advance(1799 * time.Second)
	assert.Zero(t, h.manager.Tick(ctx))
	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, st.State)
	assert.Equal(t, 1, st.RemainingSeconds)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.manager.Tick(ctx))

	st, err = h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateFinalized, st.State)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)
	require.NotNil(t, st.Score)
	assert.Equal(t, 20, *st.Score)
	assert.Equal(t, model.OutcomeFailed, st.Outcome)

	_, err = h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(10))
	var notActive *SessionNotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.Equal(t, model.SessionStateExpired, notActive.Status.Disposition)
}

func TestLateSubmissionLosesToExpiryWithoutTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	h.clock.Advance(1800 * time.Second)
	_, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(10))
	require.ErrorIs(t, err, ErrSessionNotActive)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)
	assert.Equal(t, 0, *st.Score)
}

func TestSubmitPassesAndRequestsCertificateOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	res, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(8))
	require.NoError(t, err)
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, model.OutcomePassed, res.Outcome)
	assert.Equal(t, model.SessionStateFinalized, res.State)

	_, err = h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(8))
	require.ErrorIs(t, err, ErrSessionNotActive)
	h.clock.Advance(time.Hour)
	h.manager.Tick(ctx)

	require.Equal(t, 1, h.certs.count())
	assert.Equal(t, 80, h.certs.requests[0].Score)
	assert.Equal(t, s.SessionID, h.certs.requests[0].SessionID)
}

func TestFlaggedAttemptWaitsForReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{
		ProctoringEnabled:    true,
		AlertThreshold:       4,
		ManualReviewRequired: true,
	})
	s := h.start(t, exam, "learner-1", 1)

	ev, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventMultiplePersons))
	require.NoError(t, err)
	assert.True(t, ev.Decision.FlagForReview)
	assert.Equal(t, model.SessionStateActive, ev.State)

	res, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(8))
	require.NoError(t, err)
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, model.OutcomePendingReview, res.Outcome)
	assert.Zero(t, h.certs.count())

	st, err := h.manager.ResolveReview(ctx, s.SessionID, ReviewDecision{Passed: true, Reviewer: "proctor-7", Note: "second person was an invigilator"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePassed, st.Outcome)
	assert.Equal(t, 1, h.certs.count())

	_, err = h.manager.ResolveReview(ctx, s.SessionID, ReviewDecision{Passed: false})
	require.ErrorIs(t, err, ErrNotPendingReview)
	assert.Equal(t, 1, h.certs.count())
}

func TestDuplicateActiveSessionRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})
	first := h.start(t, exam, "learner-1", 1)

	_, err := h.manager.StartSession(ctx, StartRequest{Exam: exam, Policy: exam.Policy, UserID: "learner-1", AttemptNumber: 1})
	require.ErrorIs(t, err, ErrDuplicateActiveSession)

	st, err := h.manager.GetSessionStatus(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, st.State)
	assert.Equal(t, 1, h.manager.ActiveCount())

	// Another attempt number is a different tuple.
	h.start(t, exam, "learner-1", 2)
	assert.Equal(t, 2, h.manager.ActiveCount())
}

func TestConcurrentStartsAdmitExactlyOne(t *testing.T) {
	h := newHarness(t)
	exam := tenQuestionExam(model.ProctoringPolicy{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, dup := 0, 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.StartSession(context.Background(), StartRequest{Exam: exam, Policy: exam.Policy, UserID: "learner-1", AttemptNumber: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateActiveSession):
				dup++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, dup)
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})

	_, err := h.manager.StartSession(ctx, StartRequest{Exam: exam, UserID: "u", AttemptNumber: 4})
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	_, err = h.manager.StartSession(ctx, StartRequest{Exam: exam, UserID: "u", AttemptNumber: 0})
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	noLimit := exam
	noLimit.TimeLimitSeconds = 0
	_, err = h.manager.StartSession(ctx, StartRequest{Exam: noLimit, UserID: "u", AttemptNumber: 1})
	assert.ErrorIs(t, err, model.ErrInvalidTimeLimit)

	empty := exam
	empty.Questions = nil
	_, err = h.manager.StartSession(ctx, StartRequest{Exam: empty, UserID: "u", AttemptNumber: 1})
	assert.ErrorIs(t, err, ErrNoQuestions)

	assert.Zero(t, h.manager.ActiveCount())
}

func TestPolicyTimeLimitOverridesExam(t *testing.T) {
	h := newHarness(t)
	exam := tenQuestionExam(model.ProctoringPolicy{TimeLimitSeconds: 600})
	s := h.start(t, exam, "learner-1", 1)

	assert.Equal(t, testStart.Add(10*time.Minute), s.Deadline)
	assert.Equal(t, 600, s.Configuration.TimeLimitSeconds)
}

func TestConfigurationIsSnapshotAtStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 3, AutoSuspend: true})
	s := h.start(t, exam, "learner-1", 1)

	// Editing the policy after start must not touch the running attempt.
	exam.Policy.AlertThreshold = 100
	exam.Policy.AutoSuspend = false

	res, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventDevToolsAttempt))
	require.NoError(t, err)
	assert.Equal(t, ActionSuspend, res.Decision.Action)
}

func TestDuplicateEventIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 50})
	s := h.start(t, exam, "learner-1", 1)

	for range 3 {
		res, err := h.manager.ReportEvent(ctx, s.SessionID, report("same", model.EventFullscreenExit))
		require.NoError(t, err)
		assert.Equal(t, 3, res.CumulativeSeverity)
	}

	trail, err := h.manager.AuditTrail(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestSeverityIsFoldOfTrail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 1000})
	s := h.start(t, exam, "learner-1", 1)

	types := model.EventTypes
	for i := range 40 {
		_, err := h.manager.ReportEvent(ctx, s.SessionID, report(fmt.Sprintf("e%d", i%30), types[i%len(types)]))
		require.NoError(t, err)
	}

	sess, err := h.manager.Session(ctx, s.SessionID)
	require.NoError(t, err)
	sum := 0
	for i, ev := range sess.Events {
		sum += ev.Severity
		assert.Equal(t, i+1, ev.Sequence)
	}
	assert.Len(t, sess.Events, 30)
	assert.Equal(t, sum, sess.CumulativeSeverity)
}

func TestEventValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	_, err := h.manager.ReportEvent(ctx, s.SessionID, report("", model.EventTabSwitch))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = h.manager.ReportEvent(ctx, s.SessionID, report("e1", "screen_recording"))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = h.manager.ReportEvent(ctx, "missing", report("e1", model.EventTabSwitch))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStorageFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 2, AutoSuspend: true})
	s := h.start(t, exam, "learner-1", 1)

	h.store.failing.Store(true)
	_, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventTabSwitch))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, errDiskFull)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, st.State)
	assert.Zero(t, st.CumulativeSeverity)

	// The retry with the same ID is applied once storage recovers.
	h.store.failing.Store(false)
	res, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventTabSwitch))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, model.SessionStateFinalized, res.State)

	stored, err := h.store.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateSuspended, stored.Disposition)
	assert.Len(t, stored.Events, 1)
}

func TestExpiryRetriedAfterStorageFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	h.clock.Advance(31 * time.Minute)
	h.store.failing.Store(true)
	assert.Zero(t, h.manager.Tick(ctx))

	h.store.failing.Store(false)
	assert.Equal(t, 1, h.manager.Tick(ctx))

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})
	s := h.start(t, exam, "learner-1", 1)

	st, err := h.manager.Cancel(ctx, s.SessionID, "identity mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCancelled, st.State)
	assert.Equal(t, model.OutcomeCancelled, st.Outcome)
	assert.Nil(t, st.Score)

	_, err = h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(10))
	assert.ErrorIs(t, err, ErrSessionNotActive)
	_, err = h.manager.Cancel(ctx, s.SessionID, "again")
	assert.ErrorIs(t, err, ErrSessionNotActive)

	h.clock.Advance(time.Hour)
	assert.Zero(t, h.manager.Tick(ctx))
	assert.Zero(t, h.certs.count())

	// The tuple is free again once the attempt is over.
	h.start(t, exam, "learner-1", 1)
}

func TestCancelAdmittedBeforeQueuedOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	sess, err := h.manager.load(ctx, s.SessionID)
	require.NoError(t, err)

	// Hold the lock as an in-flight operation would.
	sess.lock.Lock(false)

	submitted := make(chan error, 1)
	go func() {
		_, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(10))
		submitted <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelled := make(chan error, 1)
	go func() {
		_, err := h.manager.Cancel(ctx, s.SessionID, "proctor withdrew attempt")
		cancelled <- err
	}()
	require.Eventually(t, func() bool {
		sess.lock.mu.Lock()
		defer sess.lock.mu.Unlock()
		return sess.lock.urgent == 1
	}, time.Second, 5*time.Millisecond)

	sess.lock.Unlock()

	require.NoError(t, <-cancelled)
	assert.ErrorIs(t, <-submitted, ErrSessionNotActive)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateCancelled, st.State)
}

func TestConcurrentEventsAndSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 10_000})
	s := h.start(t, exam, "learner-1", 1)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.ReportEvent(ctx, s.SessionID, report(fmt.Sprintf("e%d", i), model.EventTabSwitch))
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(7))
		assert.NoError(t, err)
	}()
	wg.Wait()

	sess, err := h.manager.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateFinalized, sess.State)
	assert.Equal(t, 2*len(sess.Events), sess.CumulativeSeverity)
	assert.Equal(t, 70, *sess.Score)
}

func TestSubmitMergesDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	require.NoError(t, h.manager.SaveDraft(ctx, s.SessionID, "q1", "a"))
	require.NoError(t, h.manager.SaveDraft(ctx, s.SessionID, "q2", "b"))
	assert.ErrorIs(t, h.manager.SaveDraft(ctx, s.SessionID, "q99", "a"), ErrUnknownQuestion)

	res, err := h.manager.SubmitAnswers(ctx, s.SessionID, map[string]string{"q2": "a", "q3": "a", "bogus": "a"})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Score)

	sess, err := h.manager.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "a", "q2": "a", "q3": "a"}, sess.Answers)
}

func TestReplayReproducesOrderAndScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{QuestionRandomization: true, AnswerRandomization: true})
	s := h.start(t, exam, "learner-1", 1)

	_, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(9))
	require.NoError(t, err)

	sess, err := h.manager.Session(ctx, s.SessionID)
	require.NoError(t, err)

	replay := Replay(*sess)
	assert.Equal(t, s.Questions, replay.Questions)
	assert.Equal(t, 90, replay.Grade.Score)
	assert.True(t, replay.ScoreMatches)
	assert.True(t, replay.SeverityMatches)
}

func TestAdoptRestoresLiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 100, QuestionRandomization: true})
	s := h.start(t, exam, "learner-1", 1)
	_, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventTabSwitch))
	require.NoError(t, err)

	// A fresh manager over the same store, as after a restart.
	restarted := NewManager(Options{Store: h.store, Clock: h.clock.Now, Certificates: h.certs, Logger: zerolog.Nop()})
	active, err := h.store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NoError(t, restarted.Adopt(active[0]))

	res, err := restarted.ReportEvent(ctx, s.SessionID, report("e1", model.EventTabSwitch))
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.Equal(t, 2, res.CumulativeSeverity)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, restarted.Tick(ctx))
}

func TestAdoptRejectsCorruptTrail(t *testing.T) {
	h := newHarness(t)
	s := model.ExamSession{
		ID:                 "sess-x",
		State:              model.SessionStateActive,
		CumulativeSeverity: 7,
		Events:             []model.SecurityEvent{{EventID: "e1", Type: model.EventTabSwitch, Severity: 2, Sequence: 1}},
		Questions:          tenQuestionExam(model.ProctoringPolicy{}).Questions,
	}
	err := h.manager.Adopt(s)
	assert.ErrorIs(t, err, ErrCorruptTrail)

	s.CumulativeSeverity = 2
	s.Questions = nil
	err = h.manager.Adopt(s)
	assert.ErrorIs(t, err, ErrNoQuestions)
}

// rekey edits the published questions in place, moving every answer key
// from "a" to "b" and reordering the options.
func rekey(exam model.ExamDefinition) {
	for i := range exam.Questions {
		exam.Questions[i].CorrectOption = "b"
		opts := exam.Questions[i].Options
		opts[0], opts[1] = opts[1], opts[0]
	}
}

func TestReplayIgnoresRepublishedExam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{QuestionRandomization: true, AnswerRandomization: true})
	s := h.start(t, exam, "learner-1", 1)

	res, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(8))
	require.NoError(t, err)
	require.Equal(t, 80, res.Score)

	rekey(exam)

	sess, err := h.manager.Session(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Questions, 10)
	assert.Equal(t, "a", sess.Questions[0].CorrectOption)

	replay := Replay(*sess)
	assert.Equal(t, s.Questions, replay.Questions)
	assert.Equal(t, 80, replay.Grade.Score)
	assert.True(t, replay.ScoreMatches)
}

func TestAdoptGradesAgainstQuestionsFromStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{QuestionRandomization: true})
	s := h.start(t, exam, "learner-1", 1)
	for qid, a := range answersWithCorrect(8) {
		require.NoError(t, h.manager.SaveDraft(ctx, s.SessionID, qid, a))
	}

	// Restart after the exam was republished with a different key.
	rekey(exam)
	restarted := NewManager(Options{Store: h.store, Clock: h.clock.Now, Certificates: h.certs, Logger: zerolog.Nop()})
	active, err := h.store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NoError(t, restarted.Adopt(active[0]))

	st, err := restarted.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, st.State)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, restarted.Tick(ctx))

	st, err = restarted.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, st.Score)
	assert.Equal(t, 80, *st.Score)
	assert.Equal(t, model.OutcomePassed, st.Outcome)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)
}

func TestFinishedSessionsEvictedButReadable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)
	_, err := h.manager.SubmitAnswers(ctx, s.SessionID, answersWithCorrect(5))
	require.NoError(t, err)

	h.clock.Advance(2 * defaultRetention)
	h.manager.Tick(ctx)

	h.manager.mu.RLock()
	_, inMemory := h.manager.sessions[s.SessionID]
	h.manager.mu.RUnlock()
	assert.False(t, inMemory)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 50, *st.Score)

	res, err := h.manager.ReportEvent(ctx, s.SessionID, report("late", model.EventTabSwitch))
	require.NoError(t, err)
	assert.False(t, res.Recorded)
}

func TestMonitorUpdatesPublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{ProctoringEnabled: true, AlertThreshold: 3, AutoSuspend: true})
	s := h.start(t, exam, "learner-1", 1)

	_, err := h.manager.ReportEvent(ctx, s.SessionID, report("e1", model.EventFullscreenExit))
	require.NoError(t, err)

	assert.Equal(t, []string{"started", "event", "suspended"}, h.notifier.types())
}

func TestActiveSessionsListsLiveAttemptsOfExam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})
	other := tenQuestionExam(model.ProctoringPolicy{})
	other.ID = uuid.MustParse("0b6f6f58-2d8e-4c0c-9f6a-1f2a3b4c5d6e")

	first := h.start(t, exam, "learner-1", 1)
	h.clock.Advance(time.Minute)
	second := h.start(t, exam, "learner-2", 1)
	h.start(t, other, "learner-3", 1)
	done := h.start(t, exam, "learner-4", 1)
	_, err := h.manager.SubmitAnswers(ctx, done.SessionID, answersWithCorrect(10))
	require.NoError(t, err)

	live := h.manager.ActiveSessions(exam.ID)
	require.Len(t, live, 2)
	assert.Equal(t, first.SessionID, live[0].SessionID)
	assert.Equal(t, second.SessionID, live[1].SessionID)
	for _, st := range live {
		assert.Equal(t, model.SessionStateActive, st.State)
		assert.Equal(t, exam.ID, st.ExamID)
	}

	assert.Empty(t, h.manager.ActiveSessions(uuid.New()))
}

func TestStatusFlagsExpiryBeforeSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.start(t, tenQuestionExam(model.ProctoringPolicy{}), "learner-1", 1)

	st, err := h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.False(t, st.ExpiryPending)

	h.clock.Advance(1801 * time.Second)
	st, err = h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, st.State)
	assert.Zero(t, st.RemainingSeconds)
	assert.True(t, st.ExpiryPending)

	// Reading status leaves the stored record alone.
	stored, err := h.store.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, stored.State)
	assert.Equal(t, 1, h.manager.ActiveCount())

	assert.Equal(t, 1, h.manager.Tick(ctx))
	st, err = h.manager.GetSessionStatus(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateFinalized, st.State)
	assert.False(t, st.ExpiryPending)
}

func memorySession(t *testing.T, m *Manager, id string) *session {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	require.True(t, ok, "session %s not in memory", id)
	return sess
}

func TestTickDefersBusySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam := tenQuestionExam(model.ProctoringPolicy{})
	busy := h.start(t, exam, "learner-1", 1)
	idle := h.start(t, exam, "learner-2", 1)

	held := memorySession(t, h.manager, busy.SessionID)
	held.lock.Lock(false)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.manager.Tick(ctx))
	assert.Equal(t, model.SessionStateActive, held.data.State)

	held.lock.Unlock()

	st, err := h.manager.GetSessionStatus(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)

	assert.Equal(t, 1, h.manager.Tick(ctx))
	st, err = h.manager.GetSessionStatus(ctx, busy.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, st.Disposition)
	assert.Zero(t, h.manager.ActiveCount())
}

func TestEvictionNeverWaitsOnLiveSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := tenQuestionExam(model.ProctoringPolicy{})
	long.TimeLimitSeconds = 4 * 3600
	live := h.start(t, long, "learner-1", 1)

	short := tenQuestionExam(model.ProctoringPolicy{})
	done := h.start(t, short, "learner-2", 1)
	_, err := h.manager.SubmitAnswers(ctx, done.SessionID, answersWithCorrect(7))
	require.NoError(t, err)

	held := memorySession(t, h.manager, live.SessionID)
	held.lock.Lock(false)
	defer held.lock.Unlock()

	h.clock.Advance(2 * defaultRetention)
	finished := make(chan int, 1)
	go func() { finished <- h.manager.Tick(ctx) }()

	select {
	case n := <-finished:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on a live session")
	}

	h.manager.mu.RLock()
	_, liveKept := h.manager.sessions[live.SessionID]
	_, doneKept := h.manager.sessions[done.SessionID]
	h.manager.mu.RUnlock()
	assert.True(t, liveKept)
	assert.False(t, doneKept)
}

func TestPriorityLockTryLock(t *testing.T) {
	l := newPriorityLock()
	require.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	l.Unlock()

	l.mu.Lock()
	l.urgent++
	l.mu.Unlock()
	assert.False(t, l.TryLock())
}
