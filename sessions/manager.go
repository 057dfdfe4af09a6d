package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const defaultAllocationAttempts = 8

// Manager implements the session lifecycle on top of a Host.
type Manager struct {
	host     Host
	log      *slog.Logger
	now      func() time.Time
	attempts int
	newID    func() (string, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used by the manager. Logs are discarded by default.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides identifier generation. Generated identifiers are
// still validated; tests use this to force collisions.
func WithIDGenerator(gen func() (string, error)) ManagerOption {
	return func(m *Manager) { m.newID = gen }
}

// WithAllocationAttempts bounds how many identifiers CreateSession tries
// before failing with ErrAllocation.
func WithAllocationAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// NewManager returns a Manager backed by host.
func NewManager(host Host, opts ...ManagerOption) *Manager {
	m := &Manager{
		host:     host,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
		attempts: defaultAllocationAttempts,
		newID:    NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOption sets handshake metadata on a new session.
type CreateOption func(*Session)

// WithProtocolVersion records the negotiated protocol version.
func WithProtocolVersion(v string) CreateOption {
	return func(s *Session) { s.ProtocolVersion = v }
}

// WithClientInfo records the client's self-reported identity.
func WithClientInfo(ci ClientInfo) CreateOption {
	return func(s *Session) { s.Client = ci }
}

// WithClientCapabilities records the client's capabilities as opaque JSON.
func WithClientCapabilities(raw json.RawMessage) CreateOption {
	return func(s *Session) {
		if len(raw) > 0 {
			s.ClientCapabilities = append(json.RawMessage(nil), raw...)
		}
	}
}

// CreateSession allocates a new session in StateNotInitialized. userID may
// be empty for an unowned session.
func (m *Manager) CreateSession(ctx context.Context, userID string, opts ...CreateOption) (*Session, error) {
	now := m.now().UTC()
	for attempt := 0; attempt < m.attempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return nil, err
		}
		if err := ValidateID(id); err != nil {
			return nil, fmt.Errorf("%w: generator produced %v", ErrAllocation, err)
		}

		s := &Session{
			ID:        id,
			State:     StateNotInitialized,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, opt := range opts {
			opt(s)
		}

		err = m.host.CreateSession(ctx, s)
		if errors.Is(err, ErrSessionExists) {
			m.log.WarnContext(ctx, "session.create.collision", slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.log.InfoContext(ctx, "session.create.ok", slog.String("session_id", id))
		return s.Clone(), nil
	}
	m.log.ErrorContext(ctx, "session.create.exhausted", slog.Int("attempts", m.attempts))
	return nil, fmt.Errorf("%w: %d attempts collided", ErrAllocation, m.attempts)
}

// GetSession looks up a session by identifier. A malformed identifier
// returns ErrInvalidIdentifier; an unknown but well-formed one returns
// ok=false and a nil error.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, bool, error) {
	if err := ValidateID(id); err != nil {
		return nil, false, err
	}
	s, ok, err := m.host.GetSession(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	return s, ok, nil
}

// IsMethodAllowed reports whether method may be called on s in its current state.
func (m *Manager) IsMethodAllowed(s *Session, method string) bool {
	return s.IsMethodAllowed(method)
}

// Transition advances s to target. The reachability check runs against the
// stored state inside the host's atomic update, so of several concurrent
// callers attempting the same edge exactly one succeeds. On success s is
// updated in place.
func (m *Manager) Transition(ctx context.Context, s *Session, target State) error {
	updated, err := m.host.UpdateSession(ctx, s.ID, func(cur *Session) error {
		if !CanTransition(cur.State, target) {
			return fmt.Errorf("%w: from %q to %q", ErrInvalidTransition, cur.State, target)
		}
		cur.State = target
		cur.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			m.log.InfoContext(ctx, "session.transition.reject", slog.String("session_id", s.ID), slog.String("target", string(target)), slog.String("err", err.Error()))
			return err
		}
		return fmt.Errorf("transition session: %w", err)
	}
	*s = *updated
	m.log.InfoContext(ctx, "session.transition.ok", slog.String("session_id", s.ID), slog.String("state", string(s.State)))
	return nil
}

// BindUser sets the owning principal of s if it has none. Binding the same
// principal again is a no-op; binding a different one fails with
// ErrPrincipalMismatch.
func (m *Manager) BindUser(ctx context.Context, s *Session, userID string) error {
	if userID == "" {
		return errors.New("sessions: empty principal")
	}
	if s.UserID == userID {
		return nil
	}
	updated, err := m.host.UpdateSession(ctx, s.ID, func(cur *Session) error {
		switch cur.UserID {
		case "":
			cur.UserID = userID
			cur.UpdatedAt = m.now().UTC()
			return nil
		case userID:
			return nil
		default:
			return ErrPrincipalMismatch
		}
	})
	if err != nil {
		if errors.Is(err, ErrPrincipalMismatch) {
			return err
		}
		return fmt.Errorf("bind session principal: %w", err)
	}
	*s = *updated
	m.log.InfoContext(ctx, "session.bind.ok", slog.String("session_id", s.ID), slog.String("user_id", userID))
	return nil
}

// Terminate removes s permanently. Terminating a session that no longer
// exists returns ErrSessionNotFound.
func (m *Manager) Terminate(ctx context.Context, s *Session) error {
	if err := m.host.DeleteSession(ctx, s.ID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("terminate session: %w", err)
	}
	m.log.InfoContext(ctx, "session.terminate.ok", slog.String("session_id", s.ID))
	return nil
}
