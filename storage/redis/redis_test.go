package redis

import (
	"testing"

	"github.com/ggoodman/mcp-toolhost/storage"
	"github.com/ggoodman/mcp-toolhost/storage/storagetest"
)

func TestRedisStorage(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	s, err := NewFromEnv()
	if err != nil {
		t.Skipf("Redis not available: %v", err)
		return
	}
	_ = s.Close()

	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`a*b?c[d]\e`); got != `a\*b\?c\[d\]\\e` {
		t.Fatalf("escapeGlob = %q", got)
	}
}
