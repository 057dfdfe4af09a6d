// Package memoryhost provides an in-memory sessions.Host implementation
// suitable for tests, development, and single-process servers. All state is
// ephemeral and discarded on process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Atomic updates    : single mutex around read-modify-write
//
// Example:
//
//	mgr := sessions.NewManager(memoryhost.New())
//
// For multi-node deployments prefer redishost; for single-node durability
// use sqlitehost.
package memoryhost
