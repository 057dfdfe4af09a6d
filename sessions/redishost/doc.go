// Package redishost implements sessions.Host on Redis so that several server
// processes can share one session space.
//
// Each session is a JSON document stored under "<prefix>session:<id>".
// Creation uses SET NX, so two processes can never claim the same
// identifier. Updates run as an optimistic WATCH/MULTI/EXEC transaction that
// is retried when another writer touched the key first; the update callback
// therefore always sees the latest committed state, which is what makes
// concurrent lifecycle transitions single-winner.
//
// An optional TTL expires idle sessions. Every successful update refreshes it.
//
// Example:
//
//	host, err := redishost.NewFromEnv()
//	if err != nil { ... }
//	defer host.Close()
//	mgr := sessions.NewManager(host)
package redishost
