// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-toolhost/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const cleanupInterval = 5 * time.Minute

// Storage implements storage.Storage in process memory. The least recently
// used item is evicted once maxItems is reached.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.StorageItem]

	stop      chan struct{}
	closeOnce sync.Once
}

var _ storage.Storage = (*Storage)(nil)

// New creates a new in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(cleanupInterval)

	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options, err := storage.Apply(opts...)
	if err != nil {
		return nil, err
	}
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}
	return cloneItem(item), nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options, err := storage.Apply(opts...)
	if err != nil {
		return err
	}
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storageKey, item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options, err := storage.Apply(opts...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}
	prefix := namespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	options, err := storage.Apply(opts...)
	if err != nil {
		return nil, err
	}
	prefix := keyPrefix(options.Namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, key := range s.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if item, ok := s.cache.Peek(key); ok && !item.IsExpired() {
			out = append(out, key[len(prefix):])
		}
	}
	return out, nil
}

// Close stops background cleanup and drops all data.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// buildKey creates a storage key from namespace and key.
func buildKey(namespace storage.Namespace, key string) string {
	return keyPrefix(namespace) + key
}

// keyPrefix is the prefix of keys stored directly in namespace.
func keyPrefix(namespace storage.Namespace) string {
	return namespacePrefix(namespace) + "key:"
}

// namespacePrefix covers namespace and every namespace nested below it.
func namespacePrefix(namespace storage.Namespace) string {
	switch ns := namespace.(type) {
	case storage.UserNamespace:
		return fmt.Sprintf("user:%s:", ns.UserID)
	case storage.SessionNamespace:
		return fmt.Sprintf("user:%s:session:%s:", ns.UserID, ns.SessionID)
	default:
		return "global:"
	}
}

func cloneItem(item *storage.StorageItem) *storage.StorageItem {
	c := *item
	c.Data = append([]byte(nil), item.Data...)
	return &c
}

// cleanupExpired periodically drops expired items until Close.
func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}
