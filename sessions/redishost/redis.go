package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const maxTxAttempts = 32

// Config for the Redis-backed Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
	// TTL expires sessions idle for longer than this. Zero disables expiry.
	// ENV: SESSIONS_TTL
	TTL time.Duration `env:"SESSIONS_TTL,default=0s"`
}

// Host stores sessions in Redis.
type Host struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ sessions.Host = (*Host)(nil)

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) sessionKey(id string) string { return h.keyPrefix + "session:" + id }

func (h *Host) CreateSession(ctx context.Context, s *sessions.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := h.client.SetNX(ctx, h.sessionKey(s.ID), data, h.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, id string) (*sessions.Session, bool, error) {
	// Reads count as activity: GETEX slides the idle deadline forward.
	var cmd *redis.StringCmd
	if h.ttl > 0 {
		cmd = h.client.GetEx(ctx, h.sessionKey(id), h.ttl)
	} else {
		cmd = h.client.Get(ctx, h.sessionKey(id))
	}
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var s sessions.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &s, true, nil
}

func (h *Host) UpdateSession(ctx context.Context, id string, fn sessions.UpdateFunc) (*sessions.Session, error) {
	key := h.sessionKey(id)
	var out *sessions.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var cur sessions.Session
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := fn(&cur); err != nil {
			return err
		}
		cur.ID = id
		next, err := json.Marshal(&cur)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, h.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := h.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("redis update %s: too much contention after %d attempts", id, maxTxAttempts)
}

func (h *Host) DeleteSession(ctx context.Context, id string) error {
	n, err := h.client.Del(ctx, h.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}
