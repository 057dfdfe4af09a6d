package sessions

import (
	"encoding/json"
	"time"
)

// ClientInfo records the client identity supplied at initialization.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Session is the persisted representation of an MCP session.
//
// ID is immutable. State only advances along the transition graph. UserID is
// empty until a principal owns the session and never changes afterwards.
type Session struct {
	ID                 string          `json:"id"`
	State              State           `json:"state"`
	UserID             string          `json:"user_id,omitempty"`
	ProtocolVersion    string          `json:"protocol_version,omitempty"`
	Client             ClientInfo      `json:"client,omitzero"`
	ClientCapabilities json.RawMessage `json:"client_capabilities,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsMethodAllowed reports whether method may be invoked in the session's
// current state.
func (s *Session) IsMethodAllowed(method string) bool {
	return IsMethodAllowed(s.State, method)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ClientCapabilities != nil {
		c.ClientCapabilities = append(json.RawMessage(nil), s.ClientCapabilities...)
	}
	return &c
}
