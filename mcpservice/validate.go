package mcpservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-toolhost/mcp"
	jsv "github.com/google/jsonschema-go/jsonschema"
)

// compileInputSchema resolves the advertised input schema into a validator.
// The advertised schema is the single source of truth for validation.
func compileInputSchema(in mcp.ToolInputSchema) (*jsv.Resolved, error) {
	if in.Type != "object" {
		return nil, fmt.Errorf("input schema type must be \"object\", got %q", in.Type)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var s jsv.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return resolved, nil
}

// argumentInstance turns raw call arguments into the value the validator
// checks. Absent or null arguments are treated as an empty object.
func argumentInstance(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var inst map[string]any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	if inst == nil {
		inst = map[string]any{}
	}
	return inst, nil
}
