package redishost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/ggoodman/mcp-toolhost/sessions/sessionhosttest"
	"github.com/joeshaw/envdecode"
)

func TestRedisSessionHost(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	h, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis session host tests: %v", err)
		return
	}
	_ = h.Close()

	sessionhosttest.RunSessionHostTests(t, func(t *testing.T) sessions.Host {
		hh, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}

func TestRedisReadsExtendIdleTTL(t *testing.T) {
	const ttl = 400 * time.Millisecond
	cfg := Config{KeyPrefix: "mcp:sessions:test:" + t.Name() + ":", TTL: ttl}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		t.Fatalf("decode config: %v", err)
	}
	cfg.TTL = ttl
	h, err := New(cfg)
	if err != nil {
		t.Skipf("skipping redis ttl test: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	ctx := context.Background()
	id, err := sessions.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if err := h.CreateSession(ctx, &sessions.Session{ID: id, State: sessions.StateInitialized}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Stay active well past the original deadline.
	for i := 0; i < 6; i++ {
		time.Sleep(ttl / 4)
		if _, ok, err := h.GetSession(ctx, id); err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
	}

	time.Sleep(2 * ttl)
	if _, ok, err := h.GetSession(ctx, id); err != nil || ok {
		t.Fatalf("idle session still present: ok=%v err=%v", ok, err)
	}
}
