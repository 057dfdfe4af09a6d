// Package storagetest provides a conformance suite shared by storage backends.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ggoodman/mcp-toolhost/storage"
	"github.com/google/uuid"
)

// Factory creates a fresh Storage for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete suite against the provided factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissingIsNil", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("NamespacesIsolated", func(t *testing.T) { testNamespaces(t, factory) })
	t.Run("TTLExpires", func(t *testing.T) { testTTL(t, factory) })
	t.Run("InvalidTTLRejected", func(t *testing.T) { testInvalidTTL(t, factory) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, factory) })
	t.Run("KeysListsDirectChildren", func(t *testing.T) { testKeys(t, factory) })
}

func user() string { return "u-" + uuid.NewString() }

func mustSet(t *testing.T, s storage.Storage, key, val string, opts ...storage.Option) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(val), opts...); err != nil {
		t.Fatalf("Set(%s): %v", key, err)
	}
}

func get(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.StorageItem {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%s): %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := factory(t)
	u := user()
	mustSet(t, s, "k", "v1", storage.WithUser(u))
	item := get(t, s, "k", storage.WithUser(u))
	if item == nil || string(item.Data) != "v1" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.CreatedAt.IsZero() || item.ExpiresAt != nil {
		t.Fatalf("unexpected metadata: %+v", item)
	}

	mustSet(t, s, "k", "v2", storage.WithUser(u))
	if item := get(t, s, "k", storage.WithUser(u)); string(item.Data) != "v2" {
		t.Fatalf("overwrite lost: %s", item.Data)
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := factory(t)
	if item := get(t, s, "missing", storage.WithUser(user())); item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testNamespaces(t *testing.T, factory Factory) {
	s := factory(t)
	a, b := user(), user()
	mustSet(t, s, "k", "a", storage.WithUser(a))
	mustSet(t, s, "k", "b", storage.WithUser(b))
	mustSet(t, s, "k", "a-s1", storage.WithUserSession(a, "s1"))

	if got := get(t, s, "k", storage.WithUser(a)); string(got.Data) != "a" {
		t.Fatalf("user a: %s", got.Data)
	}
	if got := get(t, s, "k", storage.WithUser(b)); string(got.Data) != "b" {
		t.Fatalf("user b: %s", got.Data)
	}
	if got := get(t, s, "k", storage.WithUserSession(a, "s1")); string(got.Data) != "a-s1" {
		t.Fatalf("session: %s", got.Data)
	}
}

func testTTL(t *testing.T, factory Factory) {
	s := factory(t)
	u := user()
	mustSet(t, s, "short", "x", storage.WithUser(u), storage.WithTTL(50*time.Millisecond))
	item := get(t, s, "short", storage.WithUser(u))
	if item == nil || item.ExpiresAt == nil {
		t.Fatalf("expected item with expiry, got %+v", item)
	}
	time.Sleep(150 * time.Millisecond)
	if item := get(t, s, "short", storage.WithUser(u)); item != nil {
		t.Fatalf("expected expired item to be gone, got %+v", item)
	}
}

func testInvalidTTL(t *testing.T, factory Factory) {
	s := factory(t)
	err := s.Set(context.Background(), "k", []byte("v"), storage.WithTTL(0))
	if !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func testDeleteKey(t *testing.T, factory Factory) {
	s := factory(t)
	u := user()
	mustSet(t, s, "a", "1", storage.WithUser(u))
	mustSet(t, s, "b", "2", storage.WithUser(u))
	if err := s.Delete(context.Background(), storage.WithUser(u), storage.WithKey("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if get(t, s, "a", storage.WithUser(u)) != nil {
		t.Fatalf("a should be gone")
	}
	if get(t, s, "b", storage.WithUser(u)) == nil {
		t.Fatalf("b should remain")
	}
}

func testDeleteNamespace(t *testing.T, factory Factory) {
	s := factory(t)
	u, other := user(), user()
	mustSet(t, s, "a", "1", storage.WithUser(u))
	mustSet(t, s, "b", "2", storage.WithUserSession(u, "s1"))
	mustSet(t, s, "a", "keep", storage.WithUser(other))

	if err := s.Delete(context.Background(), storage.WithUser(u)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if get(t, s, "a", storage.WithUser(u)) != nil || get(t, s, "b", storage.WithUserSession(u, "s1")) != nil {
		t.Fatalf("namespace not cleared")
	}
	if get(t, s, "a", storage.WithUser(other)) == nil {
		t.Fatalf("other user's data removed")
	}
}

func testKeys(t *testing.T, factory Factory) {
	s := factory(t)
	u := user()
	mustSet(t, s, "record:1", "x", storage.WithUser(u))
	mustSet(t, s, "record:2", "y", storage.WithUser(u))
	mustSet(t, s, "nested", "z", storage.WithUserSession(u, "s1"))
	mustSet(t, s, "record:3", "w", storage.WithUser(user()))

	keys, err := s.Keys(context.Background(), storage.WithUser(u))
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"record:1", "record:2"}) {
		t.Fatalf("Keys = %v", keys)
	}
}
