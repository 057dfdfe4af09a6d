// Package storage is the namespaced key/value layer used for per-user data
// such as records. Backends live in subpackages: memory for a single process
// and redis for shared deployments.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the key/value contract shared by all backends.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil StorageItem if the key doesn't exist or has expired.
	// Returns an error only for storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace. Without WithKey it
	// removes the entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Keys lists the live keys stored directly in the given namespace, in
	// no particular order. Keys of nested namespaces are not included.
	Keys(ctx context.Context, opts ...Option) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata.
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // Optional: specifies the storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value and validates it.
func Apply(opts ...Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.TTL != nil && *o.TTL <= 0 {
		return nil, ErrInvalidOptions
	}
	return o, nil
}

// Namespace represents a storage namespace (user or session level).
// If nil, storage operates in the global namespace.
type Namespace interface {
	namespace() // private method to ensure only our types implement this
}

// UserNamespace represents user-level storage.
type UserNamespace struct {
	UserID string
}

func (UserNamespace) namespace() {}

// SessionNamespace represents session-level storage.
type SessionNamespace struct {
	UserID    string
	SessionID string
}

func (SessionNamespace) namespace() {}

// WithUser specifies the user-level storage namespace.
func WithUser(userID string) Option {
	return func(opts *Options) {
		opts.Namespace = UserNamespace{UserID: userID}
	}
}

// WithUserSession specifies the session-level storage namespace.
func WithUserSession(userID, sessionID string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{UserID: userID, SessionID: sessionID}
	}
}

// WithKey specifies a specific key for Delete operations.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data. It must be positive.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
)
