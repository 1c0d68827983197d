package practice

import (
	"context"
	"slices"
	"sync"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
)

// LiveStore holds open sessions. At most one session per (user, subject) is
// open; implementations must be safe for concurrent use across workers.
type LiveStore interface {
	// Open registers s as the open session of its (user, subject) and
	// removes the session it replaces, returning that one (nil if none).
	// The swap is atomic.
	Open(ctx context.Context, s Session) (*Session, error)

	// Get returns ErrSessionNotFound when id is not open.
	Get(ctx context.Context, id string) (Session, error)

	// Current returns the open session of (user, subject) or ErrSessionNotFound.
	Current(ctx context.Context, userID, subject string) (Session, error)

	// Update saves s when the stored version equals s.Version and bumps
	// s.Version. A mismatch is domain.ErrConflict; a missing session is
	// ErrSessionNotFound.
	Update(ctx context.Context, s *Session) error

	// Close removes s. Closing a session that is gone is not an error.
	Close(ctx context.Context, s Session) error
}

type openKey struct {
	userID, subject string
}

// MemoryLiveStore keeps open sessions in process memory.
type MemoryLiveStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	open     map[openKey]string
}

// NewMemoryLiveStore returns an empty store.
func NewMemoryLiveStore() *MemoryLiveStore {
	return &MemoryLiveStore{
		sessions: make(map[string]Session),
		open:     make(map[openKey]string),
	}
}

func (m *MemoryLiveStore) Open(_ context.Context, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := openKey{s.UserID, s.Subject}
	var prev *Session
	if id, ok := m.open[key]; ok {
		if p, ok := m.sessions[id]; ok {
			prev = &p
		}
		delete(m.sessions, id)
	}
	m.open[key] = s.ID
	m.sessions[s.ID] = s.clone()
	return prev, nil
}

func (m *MemoryLiveStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryLiveStore) Current(_ context.Context, userID, subject string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.open[openKey{userID, subject}]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return m.sessions[id].clone(), nil
}

func (m *MemoryLiveStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return domain.ErrConflict
	}
	s.Version++
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryLiveStore) Close(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
	key := openKey{s.UserID, s.Subject}
	if m.open[key] == s.ID {
		delete(m.open, key)
	}
	return nil
}

// clone copies s so that no slice or pointer is shared with the stored value.
func (s Session) clone() Session {
	s.QuestionsAsked = slices.Clone(s.QuestionsAsked)
	s.Answers = slices.Clone(s.Answers)
	if s.Current != nil {
		q := *s.Current
		q.Choices = slices.Clone(q.Choices)
		s.Current = &q
	}
	return s
}
