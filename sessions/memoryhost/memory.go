package memoryhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-toolhost/sessions"
)

var _ sessions.Host = (*Host)(nil)

// Host is an in-memory implementation of sessions.Host.
type Host struct {
	mu       sync.Mutex
	sessions map[string]*sessions.Session
}

// New returns an empty Host.
func New() *Host {
	return &Host{sessions: make(map[string]*sessions.Session)}
}

func (h *Host) CreateSession(ctx context.Context, s *sessions.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sessions[s.ID]; exists {
		return fmt.Errorf("%w: %s", sessions.ErrSessionExists, s.ID)
	}
	h.sessions[s.ID] = s.Clone()
	return nil
}

func (h *Host) GetSession(ctx context.Context, id string) (*sessions.Session, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (h *Host) UpdateSession(ctx context.Context, id string, fn sessions.UpdateFunc) (*sessions.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sessions.ErrSessionNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	// The identifier is immutable regardless of what fn did.
	next.ID = id
	h.sessions[id] = next
	return next.Clone(), nil
}

func (h *Host) DeleteSession(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", sessions.ErrSessionNotFound, id)
	}
	delete(h.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
