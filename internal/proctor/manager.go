package proctor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const defaultRetention = 30 * time.Minute

// expiryWorkers bounds how many sessions one Tick finalizes at a time.
const expiryWorkers = 8

// Options configures a Manager. Only Store is required in production; nil
// fields get in-memory or default implementations.
type Options struct {
	Store        Store
	Classifier   *SeverityClassifier
	Seeds        *SeedDeriver
	Certificates CertificateTrigger
	Notifier     Notifier
	// Clock is the trusted time source for deadlines.
	Clock func() time.Time
	NewID func() string
	// Retention is how long a finished session stays in memory after it ends.
	Retention time.Duration
	Logger    zerolog.Logger
}

// Manager owns every live session of this node.
type Manager struct {
	store        Store
	classifier   *SeverityClassifier
	seeds        *SeedDeriver
	certificates CertificateTrigger
	notifier     Notifier
	now          func() time.Time
	newID        func() string
	retention    time.Duration
	log          zerolog.Logger

	deadlines *DeadlineController

	mu       sync.RWMutex
	sessions map[string]*session
	// active maps each live attempt tuple to its session ID. An empty ID marks
	// a start that is still being persisted.
	active map[model.AttemptKey]string
	// finished maps terminal sessions to their finish time for eviction.
	finished map[string]time.Time
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:        opts.Store,
		classifier:   opts.Classifier,
		seeds:        opts.Seeds,
		certificates: opts.Certificates,
		notifier:     opts.Notifier,
		now:          opts.Clock,
		newID:        opts.NewID,
		retention:    opts.Retention,
		log:          opts.Logger.With().Str("component", "proctor").Logger(),
		deadlines:    NewDeadlineController(),
		sessions:     make(map[string]*session),
		active:       make(map[model.AttemptKey]string),
		finished:     make(map[string]time.Time),
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.classifier == nil {
		m.classifier, _ = NewSeverityClassifier(nil)
	}
	if m.seeds == nil {
		m.seeds = NewSeedDeriver("")
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.retention <= 0 {
		m.retention = defaultRetention
	}
	return m
}

// StartRequest asks for a new attempt.
type StartRequest struct {
	Exam          model.ExamDefinition
	Policy        model.ProctoringPolicy
	UserID        string
	AttemptNumber int
}

// StartResult is returned to the learner's client when an attempt begins.
type StartResult struct {
	SessionID         string                     `json:"session_id"`
	Deadline          time.Time                  `json:"deadline"`
	Questions         []model.QuestionForLearner `json:"questions"`
	RequestFullscreen bool                       `json:"request_fullscreen"`
	WebcamRequired    bool                       `json:"webcam_required"`
	Configuration     model.ExamConfiguration    `json:"configuration"`
}

// EventReport is one client signal. Any client-side severity is not part of it.
type EventReport struct {
	EventID    string
	Type       model.EventType
	ReportedAt *time.Time
}

// EventResult describes the session after an event was handled. Recorded is
// false for duplicates and for events that arrived after the session ended.
type EventResult struct {
	Recorded           bool               `json:"recorded"`
	Decision           Decision           `json:"decision"`
	State              model.SessionState `json:"state"`
	CumulativeSeverity int                `json:"cumulative_severity"`
	Outcome            model.Outcome      `json:"outcome,omitempty"`
}

// SubmitResult is the graded result of a submission.
type SubmitResult struct {
	Score   int                `json:"score"`
	Outcome model.Outcome      `json:"outcome"`
	State   model.SessionState `json:"state"`
}

// ReviewDecision is a reviewer's verdict on a PendingReview attempt.
type ReviewDecision struct {
	Passed   bool
	Reviewer string
	Note     string
}

// StartSession creates and activates a new attempt.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.AttemptNumber < 1 {
		return nil, ErrInvalidAttempt
	}
	if req.Exam.AttemptsAllowed > 0 && req.AttemptNumber > req.Exam.AttemptsAllowed {
		return nil, ErrAttemptsExhausted
	}
	if len(req.Exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	cfg, err := model.Snapshot(req.Policy, req.Exam)
	if err != nil {
		return nil, fmt.Errorf("snapshot configuration: %w", err)
	}

	key := model.AttemptKey{ExamID: req.Exam.ID, UserID: req.UserID, AttemptNumber: req.AttemptNumber}
	if err := m.reserve(key); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			m.release(key, "")
		}
	}()

	id := m.newID()
	seed, err := m.seeds.Derive(id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	data := model.ExamSession{
		ID:                id,
		ExamID:            req.Exam.ID,
		UserID:            req.UserID,
		AttemptNumber:     req.AttemptNumber,
		Configuration:     cfg,
		PassingScore:      req.Exam.PassingScore,
		State:             model.SessionStateCreated,
		StartedAt:         now,
		Deadline:          now.Add(cfg.TimeLimit()),
		RandomizationSeed: seed,
		Drafts:            make(map[string]string),
		Questions:         model.CloneQuestions(req.Exam.Questions),
	}
	sess := newSession(data, OrderQuestions(data.Questions, seed, cfg))
	sess.data.State = model.SessionStateActive

	if err := m.store.CreateSession(ctx, &sess.data); err != nil {
		if errors.Is(err, ErrDuplicateActiveSession) {
			return nil, ErrDuplicateActiveSession
		}
		return nil, storageError("create session", err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.active[key] = id
	m.mu.Unlock()
	committed = true

	m.deadlines.Schedule(id, sess.data.Deadline)

	m.log.Info().
		Str("session_id", id).
		Str("exam_id", req.Exam.ID.String()).
		Str("user_id", req.UserID).
		Int("attempt", req.AttemptNumber).
		Time("deadline", sess.data.Deadline).
		Msg("Session started")
	m.publish(ctx, sess.update("started", "", now))

	return &StartResult{
		SessionID:         id,
		Deadline:          sess.data.Deadline,
		Questions:         model.ForLearner(sess.questions),
		RequestFullscreen: cfg.BrowserLockdown,
		WebcamRequired:    cfg.WebcamRequired,
		Configuration:     cfg,
	}, nil
}

// ReportEvent classifies, records and judges one client signal.
func (m *Manager) ReportEvent(ctx context.Context, sessionID string, report EventReport) (*EventResult, error) {
	if report.EventID == "" {
		return nil, ErrInvalidEvent
	}
	weight, ok := m.classifier.Weight(report.Type)
	if !ok {
		return nil, ErrUnknownEventType
	}

	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	now := m.now().UTC()
	if err := m.expireIfDue(ctx, sess, now); err != nil {
		return nil, err
	}

	if sess.data.State == model.SessionStateCreated {
		return nil, ErrSessionNotActive
	}
	if sess.data.State.Terminal() {
		return eventResult(sess, false, Decision{}), nil
	}
	if _, dup := sess.seen[report.EventID]; dup {
		return eventResult(sess, false, Decide(sess.data.CumulativeSeverity, sess.data.Configuration)), nil
	}

	next := sess.data.Clone()
	ev := model.SecurityEvent{
		EventID:    report.EventID,
		Type:       report.Type,
		Severity:   weight,
		Sequence:   len(next.Events) + 1,
		ReportedAt: report.ReportedAt,
		RecordedAt: now,
	}
	next.Events = append(next.Events, ev)
	next.CumulativeSeverity += weight

	decision := Decide(next.CumulativeSeverity, next.Configuration)
	if decision.FlagForReview {
		next.ReviewRequired = true
	}
	if decision.Action == ActionSuspend {
		finalize(&next, sess.questions, model.SessionStateSuspended, next.Drafts, now)
	}

	if err := m.store.RecordEvent(ctx, &next, ev); err != nil {
		return nil, storageError("record event", err)
	}
	sess.data = next
	sess.seen[ev.EventID] = struct{}{}

	m.log.Debug().
		Str("session_id", sessionID).
		Str("event_type", string(ev.Type)).
		Int("severity", ev.Severity).
		Int("cumulative", next.CumulativeSeverity).
		Str("action", string(decision.Action)).
		Msg("Event recorded")
	m.publish(ctx, sess.update("event", ev.Type, now))

	if sess.data.State.Terminal() {
		m.afterTerminal(ctx, sess, now)
	}
	return eventResult(sess, true, decision), nil
}

// SaveDraft autosaves one answer. Drafts are graded if the attempt expires or
// is suspended before the learner submits.
func (m *Manager) SaveDraft(ctx context.Context, sessionID, questionID, answer string) error {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	now := m.now().UTC()
	if err := m.expireIfDue(ctx, sess, now); err != nil {
		return err
	}
	if sess.data.State != model.SessionStateActive {
		return &SessionNotActiveError{Status: sess.status(now)}
	}
	if _, ok := sess.known[questionID]; !ok {
		return ErrUnknownQuestion
	}

	if err := m.store.SaveDraft(ctx, sessionID, questionID, answer); err != nil {
		return storageError("save draft", err)
	}
	sess.data.Drafts[questionID] = answer
	return nil
}

// SubmitAnswers grades the final answers and finalizes the attempt. Submitted
// answers take precedence over drafts; drafts fill the gaps.
func (m *Manager) SubmitAnswers(ctx context.Context, sessionID string, answers map[string]string) (*SubmitResult, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	now := m.now().UTC()
	if err := m.expireIfDue(ctx, sess, now); err != nil {
		return nil, err
	}
	if sess.data.State != model.SessionStateActive {
		return nil, &SessionNotActiveError{Status: sess.status(now)}
	}

	final := maps.Clone(sess.data.Drafts)
	maps.Copy(final, sess.answersFor(answers))

	next := sess.data.Clone()
	finalize(&next, sess.questions, model.SessionStateSubmitted, final, now)

	if err := m.store.FinalizeSession(ctx, &next); err != nil {
		return nil, storageError("finalize session", err)
	}
	sess.data = next
	m.afterTerminal(ctx, sess, now)

	return &SubmitResult{
		Score:   *sess.data.Score,
		Outcome: sess.data.Outcome,
		State:   sess.data.State,
	}, nil
}

// Cancel withdraws an attempt. It is admitted ahead of any queued learner
// operation on the same session but never interrupts one already running.
func (m *Manager) Cancel(ctx context.Context, sessionID, reason string) (*model.SessionStatus, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(true)
	defer sess.lock.Unlock()

	now := m.now().UTC()
	if err := m.expireIfDue(ctx, sess, now); err != nil {
		return nil, err
	}
	if sess.data.State.Terminal() {
		return nil, &SessionNotActiveError{Status: sess.status(now)}
	}

	next := sess.data.Clone()
	next.State = model.SessionStateCancelled
	next.Disposition = model.SessionStateCancelled
	next.Outcome = model.OutcomeCancelled
	next.CancelReason = reason
	next.FinishedAt = &now

	if err := m.store.FinalizeSession(ctx, &next); err != nil {
		return nil, storageError("cancel session", err)
	}
	sess.data = next
	m.afterTerminal(ctx, sess, now)

	st := sess.status(now)
	return &st, nil
}

// ResolveReview records a reviewer's verdict on a PendingReview attempt.
func (m *Manager) ResolveReview(ctx context.Context, sessionID string, d ReviewDecision) (*model.SessionStatus, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	if sess.data.Outcome != model.OutcomePendingReview {
		return nil, ErrNotPendingReview
	}

	now := m.now().UTC()
	next := sess.data.Clone()
	next.Outcome = model.OutcomeFailed
	if d.Passed {
		next.Outcome = model.OutcomePassed
	}
	next.ReviewedBy = d.Reviewer
	next.ReviewNote = d.Note

	if err := m.store.ResolveReview(ctx, &next); err != nil {
		return nil, storageError("resolve review", err)
	}
	sess.data = next

	m.log.Info().
		Str("session_id", sessionID).
		Str("reviewer", d.Reviewer).
		Str("outcome", string(next.Outcome)).
		Msg("Review resolved")
	m.publish(ctx, sess.update("reviewed", "", now))
	m.requestCertificate(ctx, sess, now)

	st := sess.status(now)
	return &st, nil
}

// GetSessionStatus returns the session's current view. It has no side effects
// on the session.
func (m *Manager) GetSessionStatus(ctx context.Context, sessionID string) (*model.SessionStatus, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	st := sess.status(m.now().UTC())
	return &st, nil
}

// Session returns a copy of the full session record.
func (m *Manager) Session(ctx context.Context, sessionID string) (*model.ExamSession, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	c := sess.data.Clone()
	return &c, nil
}

// AuditTrail returns the session's events in sequence order.
func (m *Manager) AuditTrail(ctx context.Context, sessionID string) ([]model.SecurityEvent, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.lock.Lock(false)
	defer sess.lock.Unlock()

	out := make([]model.SecurityEvent, len(sess.data.Events))
	copy(out, sess.data.Events)
	return out, nil
}

// Tick expires every session whose deadline has passed and drops finished
// sessions past retention. A session busy with another operation is left for
// the next Tick. It returns the number of sessions expired.
func (m *Manager) Tick(ctx context.Context) int {
	now := m.now().UTC()

	var (
		expired atomic.Int64
		wg      sync.WaitGroup
		slots   = make(chan struct{}, expiryWorkers)
	)
	for _, id := range m.deadlines.Due(now) {
		m.mu.RLock()
		sess, ok := m.sessions[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		slots <- struct{}{}
		wg.Go(func() {
			defer func() { <-slots }()
			if m.expireDue(ctx, id, sess, now) {
				expired.Add(1)
			}
		})
	}
	wg.Wait()

	m.evict(now)
	return int(expired.Load())
}

// expireDue finalizes one due session and reports whether it ended now.
func (m *Manager) expireDue(ctx context.Context, id string, sess *session, now time.Time) bool {
	if !sess.lock.TryLock() {
		m.log.Debug().Str("session_id", id).Msg("Session busy, expiry deferred")
		m.deadlines.Schedule(id, now)
		return false
	}
	wasActive := sess.data.State == model.SessionStateActive
	err := m.expireIfDue(ctx, sess, now)
	endedNow := wasActive && sess.data.State.Terminal()
	deadline := sess.data.Deadline
	sess.lock.Unlock()

	if err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("Failed to expire session, will retry")
		m.deadlines.Schedule(id, deadline)
		return false
	}
	return endedNow
}

// NextDeadline returns the earliest pending deadline.
func (m *Manager) NextDeadline() (time.Time, bool) {
	return m.deadlines.Next()
}

// Adopt registers a session loaded from storage, typically after a restart.
// The ordering is rebuilt from the stored questions and seed, and the
// cumulative severity is checked against the trail. Overdue sessions expire on
// the next Tick.
func (m *Manager) Adopt(s model.ExamSession) error {
	if len(s.Questions) == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNoQuestions)
	}
	sum := 0
	for _, ev := range s.Events {
		sum += ev.Severity
	}
	if sum != s.CumulativeSeverity {
		return fmt.Errorf("session %s: %w (stored %d, trail %d)", s.ID, ErrCorruptTrail, s.CumulativeSeverity, sum)
	}

	sess := newSession(s, OrderQuestions(s.Questions, s.RandomizationSeed, s.Configuration))

	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	if !s.State.Terminal() {
		key := s.Key()
		if _, ok := m.active[key]; ok {
			m.mu.Unlock()
			return ErrDuplicateActiveSession
		}
		m.active[key] = s.ID
	}
	m.sessions[s.ID] = sess
	if s.State.Terminal() {
		m.markFinished(s)
	}
	m.mu.Unlock()

	if !s.State.Terminal() {
		m.deadlines.Schedule(s.ID, s.Deadline)
	}
	return nil
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveSessions returns the live attempts of one exam, oldest first.
func (m *Manager) ActiveSessions(examID uuid.UUID) []model.SessionStatus {
	m.mu.RLock()
	live := make([]*session, 0, len(m.active))
	for key, id := range m.active {
		if key.ExamID != examID || id == "" {
			continue
		}
		if sess, ok := m.sessions[id]; ok {
			live = append(live, sess)
		}
	}
	m.mu.RUnlock()

	now := m.now().UTC()
	out := make([]model.SessionStatus, 0, len(live))
	started := make(map[string]time.Time, len(live))
	for _, sess := range live {
		sess.lock.Lock(false)
		if !sess.data.State.Terminal() {
			out = append(out, sess.status(now))
			started[sess.data.ID] = sess.data.StartedAt
		}
		sess.lock.Unlock()
	}
	slices.SortFunc(out, func(a, b model.SessionStatus) int {
		if c := started[a.SessionID].Compare(started[b.SessionID]); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// load finds a session in memory or, for finished attempts, in the store.
func (m *Manager) load(ctx context.Context, sessionID string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	stored, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageError("load session", err)
	}
	if !stored.State.Terminal() {
		// Live sessions are adopted at startup; one missing here belongs to no one.
		m.log.Warn().Str("session_id", sessionID).Msg("Stored live session is not owned by this node")
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess, nil
	}
	sess = newSession(*stored, OrderQuestions(stored.Questions, stored.RandomizationSeed, stored.Configuration))
	m.sessions[sessionID] = sess
	m.markFinished(*stored)
	return sess, nil
}

// expireIfDue moves an Active session past its deadline to Expired, grading
// its drafts. Callers hold the session lock.
func (m *Manager) expireIfDue(ctx context.Context, sess *session, now time.Time) error {
	if sess.data.State != model.SessionStateActive || now.Before(sess.data.Deadline) {
		return nil
	}

	next := sess.data.Clone()
	finalize(&next, sess.questions, model.SessionStateExpired, next.Drafts, now)
	if err := m.store.FinalizeSession(ctx, &next); err != nil {
		return storageError("expire session", err)
	}
	sess.data = next
	m.afterTerminal(ctx, sess, now)
	return nil
}

// finalize grades answers and moves next through disposition to Finalized.
func finalize(next *model.ExamSession, questions []model.Question, disposition model.SessionState, answers map[string]string, now time.Time) {
	res := Grade(questions, answers)
	score := res.Score

	next.Answers = maps.Clone(answers)
	if next.Answers == nil {
		next.Answers = make(map[string]string)
	}
	next.Score = &score
	next.Disposition = disposition
	next.Outcome = DecideOutcome(disposition, score, next.PassingScore, next.ReviewRequired)
	next.State = model.SessionStateFinalized
	next.FinishedAt = &now
}

// afterTerminal releases the attempt tuple and fires side effects. Callers
// hold the session lock.
func (m *Manager) afterTerminal(ctx context.Context, sess *session, now time.Time) {
	m.release(sess.data.Key(), sess.data.ID)
	m.mu.Lock()
	m.markFinished(sess.data)
	m.mu.Unlock()
	m.deadlines.Cancel(sess.data.ID)

	kind := strings.ToLower(string(sess.data.Disposition))
	m.log.Info().
		Str("session_id", sess.data.ID).
		Str("disposition", string(sess.data.Disposition)).
		Str("outcome", string(sess.data.Outcome)).
		Msg("Session finished")
	m.publish(ctx, sess.update(kind, "", now))
	m.requestCertificate(ctx, sess, now)
}

func (m *Manager) requestCertificate(ctx context.Context, sess *session, now time.Time) {
	if sess.data.Outcome != model.OutcomePassed || sess.certificateSent {
		return
	}
	sess.certificateSent = true
	if m.certificates == nil {
		return
	}

	score := 0
	if sess.data.Score != nil {
		score = *sess.data.Score
	}
	m.certificates.RequestCertificate(ctx, model.CertificateRequest{
		SessionID:   sess.data.ID,
		ExamID:      sess.data.ExamID,
		UserID:      sess.data.UserID,
		Score:       score,
		RequestedAt: now,
	})
}

func (m *Manager) publish(ctx context.Context, update model.SessionUpdate) {
	if m.notifier != nil {
		m.notifier.Publish(ctx, update)
	}
}

func (m *Manager) reserve(key model.AttemptKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[key]; ok {
		return ErrDuplicateActiveSession
	}
	m.active[key] = ""
	return nil
}

func (m *Manager) release(key model.AttemptKey, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.active[key]; ok && id == sessionID {
		delete(m.active, key)
	}
}

// markFinished records a terminal session for eviction. Callers hold m.mu.
func (m *Manager) markFinished(s model.ExamSession) {
	at := m.now().UTC()
	if s.FinishedAt != nil {
		at = *s.FinishedAt
	}
	m.finished[s.ID] = at
}

// evict drops finished sessions whose retention has passed. They remain
// readable through the store. Live sessions are never touched.
func (m *Manager) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, at := range m.finished {
		if now.Before(at.Add(m.retention)) {
			continue
		}
		delete(m.finished, id)
		delete(m.sessions, id)
	}
}

func eventResult(sess *session, recorded bool, d Decision) *EventResult {
	return &EventResult{
		Recorded:           recorded,
		Decision:           d,
		State:              sess.data.State,
		CumulativeSeverity: sess.data.CumulativeSeverity,
		Outcome:            sess.data.Outcome,
	}
}
