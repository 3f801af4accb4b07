package proctor

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// MemoryStore is a Store kept in process memory. It backs tests and
// single-node deployments that do not need durability.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.ExamSession
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]model.ExamSession)}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Key()
	for _, existing := range m.sessions {
		if existing.Key() == key && !existing.State.Terminal() {
			return ErrDuplicateActiveSession
		}
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) RecordEvent(_ context.Context, s *model.ExamSession, ev model.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) SaveDraft(_ context.Context, sessionID, questionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s = s.Clone()
	if s.Drafts == nil {
		s.Drafts = make(map[string]string)
	}
	s.Drafts[questionID] = answer
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) FinalizeSession(_ context.Context, s *model.ExamSession) error {
	return m.replace(s)
}

func (m *MemoryStore) ResolveReview(_ context.Context, s *model.ExamSession) error {
	return m.replace(s)
}

func (m *MemoryStore) replace(s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*model.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := s.Clone()
	return &c, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]model.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ExamSession
	for _, s := range m.sessions {
		if !s.State.Terminal() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}
