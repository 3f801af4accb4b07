package proctor

import (
	"math"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// session is the in-memory actor for one attempt. data is only read or
// replaced while lock is held.
type session struct {
	lock      *priorityLock
	data      model.ExamSession
	questions []model.Question
	known     map[string]struct{}
	seen      map[string]struct{}
	// certificateSent guards the single certificate request per attempt.
	certificateSent bool
}

func newSession(data model.ExamSession, questions []model.Question) *session {
	s := &session{
		lock:      newPriorityLock(),
		data:      data,
		questions: questions,
		known:     make(map[string]struct{}, len(questions)),
		seen:      make(map[string]struct{}, len(data.Events)),
	}
	for _, q := range questions {
		s.known[q.ID] = struct{}{}
	}
	for _, ev := range data.Events {
		s.seen[ev.EventID] = struct{}{}
	}
	if s.data.Drafts == nil {
		s.data.Drafts = make(map[string]string)
	}
	// Sessions restored after a pass already had their request sent.
	s.certificateSent = data.Outcome == model.OutcomePassed
	return s
}

func (s *session) status(now time.Time) model.SessionStatus {
	st := model.SessionStatus{
		SessionID:          s.data.ID,
		ExamID:             s.data.ExamID,
		UserID:             s.data.UserID,
		AttemptNumber:      s.data.AttemptNumber,
		State:              s.data.State,
		Disposition:        s.data.Disposition,
		Deadline:           s.data.Deadline,
		CumulativeSeverity: s.data.CumulativeSeverity,
		ReviewRequired:     s.data.ReviewRequired,
		Outcome:            s.data.Outcome,
	}
	if s.data.Score != nil {
		v := *s.data.Score
		st.Score = &v
	}
	if s.data.State == model.SessionStateActive {
		st.RemainingSeconds = remainingSeconds(s.data.Deadline, now)
		st.ExpiryPending = !now.Before(s.data.Deadline)
	}
	return st
}

func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// answersFor keeps only answers to questions of this exam.
func (s *session) answersFor(answers map[string]string) map[string]string {
	out := make(map[string]string, len(answers))
	for qid, a := range answers {
		if _, ok := s.known[qid]; ok {
			out[qid] = a
		}
	}
	return out
}

func (s *session) update(kind string, eventType model.EventType, at time.Time) model.SessionUpdate {
	return model.SessionUpdate{
		Type:               kind,
		SessionID:          s.data.ID,
		ExamID:             s.data.ExamID,
		UserID:             s.data.UserID,
		State:              s.data.State,
		CumulativeSeverity: s.data.CumulativeSeverity,
		EventType:          eventType,
		Outcome:            s.data.Outcome,
		At:                 at,
	}
}
