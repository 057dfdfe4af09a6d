// Package sessions defines the MCP session model and its lifecycle state
// machine. A session records one client's negotiated protocol state across
// requests: its opaque identifier, lifecycle State, optional owning
// principal, negotiated protocol version and client-supplied metadata.
//
// Layers & Roles
//
//	Transport -> loads or creates sessions per request, gates methods
//	Manager   -> lifecycle operations (create, get, transition, terminate)
//	Host      -> persistence; atomic per-session read-modify-write
//
// # Lifecycle
//
// Sessions move strictly forward:
//
//	not_initialized -> initializing -> initialized
//
// A fresh session only accepts the initialize handshake and ping. Once the
// handshake is answered the session is initializing, and from then on any
// method is accepted. The relaxed initializing rule is a compatibility shim
// for clients that pipeline notifications/initialized together with a
// tools/list call before the handshake acknowledgment arrives; it is not a
// protocol guarantee.
//
// # Identifiers
//
// Session identifiers consist only of visible ASCII characters (0x21-0x7E).
// NewID produces 32 lowercase hex characters from a random UUID. ValidateID
// rejects anything else before a store is consulted.
//
// # Concurrency
//
// Transition performs its state check inside Host.UpdateSession, which every
// implementation executes atomically per session. When two requests race to
// move the same session from initializing to initialized exactly one
// succeeds; the other observes ErrInvalidTransition.
//
// Implementations
//
//	memoryhost : in-memory reference used for tests / single-process servers
//	redishost  : Redis-backed, optimistic WATCH/MULTI transactions
//	sqlitehost : SQLite-backed, serialized write transactions
package sessions
