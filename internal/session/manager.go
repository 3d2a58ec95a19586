package session

import (
	"context"
	"errors"
	"sync"

	"tvcportal/internal/material"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotTimed        = errors.New("material has no timer configured")
	ErrNoQuestions     = errors.New("material has no questions configured")
)

// MaterialSource is the manager's read-only view of the material store. It
// deliberately returns the student shape: a session never sees answer keys.
type MaterialSource interface {
	StudentView(ctx context.Context, materialID int64) (*material.StudentMaterial, error)
}

// Manager is the registry of open sessions. Sessions are independent; they
// share the grader and material source but no timer state.
type Manager struct {
	materials MaterialSource
	grader    Grader
	clock     Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(materials MaterialSource, grader Grader, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		materials: materials,
		grader:    grader,
		clock:     clock,
		sessions:  make(map[string]*Session),
	}
}

// Open builds a session for one student and one material and starts its
// countdown. The material must be timed and have at least one question row.
func (m *Manager) Open(ctx context.Context, userID, materialID int64) (*Session, error) {
	sm, err := m.materials.StudentView(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if sm.TimerMinutes <= 0 {
		return nil, ErrNotTimed
	}
	if sm.QuestionCount <= 0 {
		return nil, ErrNoQuestions
	}

	s := newSession(userID, sm, m.grader, m.clock)
	if err := s.Start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close discards a session: the timer is torn down and nothing is persisted
// for the abandoned attempt.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Restart replaces a graded session's attempt with a fresh one and starts
// its timer again.
func (m *Manager) Restart(sessionID string) (*Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}
