package sessions

import "github.com/ggoodman/mcp-toolhost/mcp"

// State is the lifecycle state of a session.
type State string

const (
	StateNotInitialized State = "not_initialized"
	StateInitializing   State = "initializing"
	StateInitialized    State = "initialized"
)

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateNotInitialized, StateInitializing, StateInitialized:
		return true
	default:
		return false
	}
}

// transitions is the forward-only state graph.
var transitions = map[State]State{
	StateNotInitialized: StateInitializing,
	StateInitializing:   StateInitialized,
}

// CanTransition reports whether to is directly reachable from from.
func CanTransition(from, to State) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// IsMethodAllowed reports whether method may be invoked on a session in
// state s. Before the handshake only initialize and ping are accepted.
func IsMethodAllowed(s State, method string) bool {
	switch s {
	case StateNotInitialized:
		return method == string(mcp.InitializeMethod) || method == string(mcp.PingMethod)
	case StateInitializing, StateInitialized:
		// Compatibility shim, not a protocol guarantee: clients that pipeline
		// tools/list behind notifications/initialized hit initializing.
		return true
	default:
		return false
	}
}
