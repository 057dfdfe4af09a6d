// Package sessionhosttest provides a conformance suite shared by every
// sessions.Host implementation.
package sessionhosttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-toolhost/sessions"
)

// HostFactory creates a new Host instance for testing.
type HostFactory func(t *testing.T) sessions.Host

// RunSessionHostTests runs the complete Host test suite against the provided factory.
func RunSessionHostTests(t *testing.T, factory HostFactory) {
	t.Run("CRUD_CreateThenGet", func(t *testing.T) { testCreateThenGet(t, factory) })
	t.Run("CRUD_CreateDuplicateFails", func(t *testing.T) { testCreateDuplicate(t, factory) })
	t.Run("CRUD_GetMissingIsNotAnError", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("CRUD_GetReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, factory) })
	t.Run("CRUD_DeleteRemovesPermanently", func(t *testing.T) { testDelete(t, factory) })
	t.Run("CRUD_DeleteMissingFails", func(t *testing.T) { testDeleteMissing(t, factory) })

	t.Run("Update_AppliesMutation", func(t *testing.T) { testUpdateApplies(t, factory) })
	t.Run("Update_MissingFails", func(t *testing.T) { testUpdateMissing(t, factory) })
	t.Run("Update_CallbackErrorAborts", func(t *testing.T) { testUpdateAborts(t, factory) })
	t.Run("Update_IdentifierImmutable", func(t *testing.T) { testUpdateIDImmutable(t, factory) })

	t.Run("Lifecycle_HandshakeGatesMethods", func(t *testing.T) { testLifecycleScenario(t, factory) })
	t.Run("Lifecycle_SkippingStateFails", func(t *testing.T) { testSkipState(t, factory) })
	t.Run("Lifecycle_ConcurrentTransitionSingleWinner", func(t *testing.T) { testConcurrentTransition(t, factory) })
	t.Run("Lifecycle_ConcurrentCreatesAreUnique", func(t *testing.T) { testConcurrentCreates(t, factory) })
	t.Run("Lifecycle_TerminateTwiceFails", func(t *testing.T) { testTerminateTwice(t, factory) })
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newSession(t *testing.T) *sessions.Session {
	t.Helper()
	id, err := sessions.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &sessions.Session{
		ID:                 id,
		State:              sessions.StateNotInitialized,
		ProtocolVersion:    "2025-06-18",
		Client:             sessions.ClientInfo{Name: "conformance", Version: "1.0.0"},
		ClientCapabilities: json.RawMessage(`{"roots":{"listChanged":true}}`),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// --- CRUD ---

func testCreateThenGet(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	s.UserID = "user-1"
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, ok, err := h.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !ok {
		t.Fatalf("expected session %s to exist", s.ID)
	}
	if got.ID != s.ID || got.State != s.State || got.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.ProtocolVersion != s.ProtocolVersion || got.Client != s.Client {
		t.Fatalf("handshake metadata not persisted: %+v", got)
	}
	var caps map[string]any
	if err := json.Unmarshal(got.ClientCapabilities, &caps); err != nil {
		t.Fatalf("client capabilities not valid JSON: %v", err)
	}
	if _, ok := caps["roots"]; !ok {
		t.Fatalf("client capabilities lost: %s", string(got.ClientCapabilities))
	}
	if !got.CreatedAt.Equal(s.CreatedAt) {
		t.Fatalf("created_at mismatch: got %v want %v", got.CreatedAt, s.CreatedAt)
	}
}

func testCreateDuplicate(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	err := h.CreateSession(ctx, s)
	if !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	id, _ := sessions.NewID()
	got, ok, err := h.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("expected no error for missing session, got %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected missing session, got ok=%v s=%+v", ok, got)
	}
}

func testGetReturnsCopy(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s.State = sessions.StateInitialized

	got, _, err := h.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != sessions.StateNotInitialized {
		t.Fatalf("store aliased caller value: state=%s", got.State)
	}
	got.State = sessions.StateInitialized

	again, _, err := h.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if again.State != sessions.StateNotInitialized {
		t.Fatalf("store aliased returned value: state=%s", again.State)
	}
}

func testDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := h.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, err := h.GetSession(ctx, s.ID); err != nil || ok {
		t.Fatalf("expected session gone, ok=%v err=%v", ok, err)
	}
}

func testDeleteMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	id, _ := sessions.NewID()
	if err := h.DeleteSession(ctx, id); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// --- Update ---

func testUpdateApplies(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	updated, err := h.UpdateSession(ctx, s.ID, func(cur *sessions.Session) error {
		cur.State = sessions.StateInitializing
		cur.UserID = "user-2"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.State != sessions.StateInitializing || updated.UserID != "user-2" {
		t.Fatalf("unexpected updated value: %+v", updated)
	}
	got, _, err := h.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != sessions.StateInitializing || got.UserID != "user-2" {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func testUpdateMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	id, _ := sessions.NewID()
	called := false
	_, err := h.UpdateSession(ctx, id, func(cur *sessions.Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if called {
		t.Fatalf("update callback must not run for a missing session")
	}
}

func testUpdateAborts(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	boom := errors.New("boom")
	_, err := h.UpdateSession(ctx, s.ID, func(cur *sessions.Session) error {
		cur.State = sessions.StateInitialized
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _, err := h.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != sessions.StateNotInitialized {
		t.Fatalf("aborted update was persisted: state=%s", got.State)
	}
}

func testUpdateIDImmutable(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testContext(t)

	s := newSession(t)
	if err := h.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	updated, err := h.UpdateSession(ctx, s.ID, func(cur *sessions.Session) error {
		cur.ID = "something-else"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.ID != s.ID {
		t.Fatalf("identifier changed to %q", updated.ID)
	}
	if _, ok, _ := h.GetSession(ctx, s.ID); !ok {
		t.Fatalf("session no longer reachable under its identifier")
	}
}

// --- Lifecycle through the Manager ---

func testLifecycleScenario(t *testing.T, factory HostFactory) {
	m := sessions.NewManager(factory(t))
	ctx := testContext(t)

	s, err := m.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.State != sessions.StateNotInitialized {
		t.Fatalf("fresh session state = %s", s.State)
	}
	if m.IsMethodAllowed(s, "tools/list") {
		t.Fatalf("tools/list must be rejected before initialize")
	}
	if !m.IsMethodAllowed(s, "initialize") || !m.IsMethodAllowed(s, "ping") {
		t.Fatalf("initialize and ping must be allowed before initialize")
	}

	if err := m.Transition(ctx, s, sessions.StateInitializing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if s.State != sessions.StateInitializing {
		t.Fatalf("session not updated in place: %s", s.State)
	}
	if !m.IsMethodAllowed(s, "tools/list") {
		t.Fatalf("tools/list must be allowed while initializing")
	}

	got, ok, err := m.GetSession(ctx, s.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.State != sessions.StateInitializing {
		t.Fatalf("stored state = %s", got.State)
	}
}

func testSkipState(t *testing.T, factory HostFactory) {
	m := sessions.NewManager(factory(t))
	ctx := testContext(t)

	s, err := m.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.Transition(ctx, s, sessions.StateInitialized); !errors.Is(err, sessions.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.State != sessions.StateNotInitialized {
		t.Fatalf("failed transition mutated session: %s", s.State)
	}
}

func testConcurrentTransition(t *testing.T, factory HostFactory) {
	m := sessions.NewManager(factory(t))
	ctx := testContext(t)

	s, err := m.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.Transition(ctx, s, sessions.StateInitializing); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	const racers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := s.Clone()
			<-start
			results <- m.Transition(ctx, local, sessions.StateInitialized)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, sessions.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error from racing transition: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	got, ok, err := m.GetSession(ctx, s.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.State != sessions.StateInitialized {
		t.Fatalf("final state = %s", got.State)
	}
}

func testConcurrentCreates(t *testing.T, factory HostFactory) {
	m := sessions.NewManager(factory(t))
	ctx := testContext(t)

	const n = 32
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.CreateSession(ctx, "")
			if err != nil {
				t.Errorf("CreateSession: %v", err)
				return
			}
			for _, c := range []byte(s.ID) {
				if c < 0x21 || c > 0x7E {
					t.Errorf("identifier %q contains byte 0x%02x", s.ID, c)
				}
			}
			mu.Lock()
			ids[s.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n {
		t.Fatalf("expected %d unique identifiers, got %d", n, len(ids))
	}
}

func testTerminateTwice(t *testing.T, factory HostFactory) {
	m := sessions.NewManager(factory(t))
	ctx := testContext(t)

	s, err := m.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.Terminate(ctx, s); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, ok, err := m.GetSession(ctx, s.ID); err != nil || ok {
		t.Fatalf("expected session gone, ok=%v err=%v", ok, err)
	}
	if err := m.Terminate(ctx, s); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second terminate, got %v", err)
	}
}
