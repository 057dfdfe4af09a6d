package mcpservice

import (
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-toolhost/mcp"
)

// TextResult returns a CallToolResult with a single text content block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}

// toResult wraps a handler's return value as text content.
func toResult(v any) (*mcp.CallToolResult, error) {
	switch r := v.(type) {
	case *mcp.CallToolResult:
		if r == nil {
			return TextResult(""), nil
		}
		return r, nil
	case mcp.CallToolResult:
		return &r, nil
	case string:
		return TextResult(r), nil
	case json.RawMessage:
		return TextResult(string(r)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return TextResult(string(b)), nil
	}
}
