package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-toolhost/mcp"
)

// Principal is the identity a tool runs on behalf of. It is supplied by the
// transport and never established by the dispatcher.
type Principal struct {
	UserID    string
	SessionID string
}

// Anonymous reports whether no user is attached.
func (p Principal) Anonymous() bool { return p.UserID == "" }

// ToolCall is what a handler receives for one invocation.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
	Principal Principal
}

// ToolHandler executes a tool. A string result is returned to the caller
// verbatim, a *mcp.CallToolResult is passed through, and anything else is
// JSON-encoded. A returned error becomes an error-flagged result.
type ToolHandler func(ctx context.Context, call *ToolCall) (any, error)

// Tool pairs an MCP tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
	// RequiresConsent marks tools whose listing carries the consent message.
	// A Policy may override it.
	RequiresConsent bool
}

// ToolOption configures NewTool and NewRawTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	title                     string
	readOnly                  *bool
	destructive               *bool
	idempotent                *bool
	openWorld                 *bool
	consent                   bool
	allowAdditionalProperties bool // default false (strict)
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithTitle sets a human-friendly display name.
func WithTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithReadOnly hints that the tool does not modify its environment.
func WithReadOnly() ToolOption {
	return func(c *toolConfig) { c.readOnly = ptr(true); c.destructive = ptr(false) }
}

// WithDestructive hints whether a modifying tool may destroy data.
func WithDestructive(v bool) ToolOption {
	return func(c *toolConfig) { c.destructive = ptr(v) }
}

// WithIdempotent hints that repeated calls with the same arguments have no
// additional effect.
func WithIdempotent() ToolOption {
	return func(c *toolConfig) { c.idempotent = ptr(true) }
}

// WithOpenWorld hints whether the tool reaches outside the server.
func WithOpenWorld(v bool) ToolOption {
	return func(c *toolConfig) { c.openWorld = ptr(v) }
}

// WithConsent marks the tool as requiring explicit user consent.
func WithConsent() ToolOption {
	return func(c *toolConfig) { c.consent = true }
}

// WithAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false
// and decoding rejects unknown fields.
func WithAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

func ptr[T any](v T) *T { return &v }

func (c *toolConfig) apply(desc *mcp.Tool) {
	if c.description != "" {
		desc.Description = c.description
	}
	if c.title != "" {
		desc.Title = c.title
	}
	if c.readOnly == nil && c.destructive == nil && c.idempotent == nil && c.openWorld == nil {
		return
	}
	if desc.Annotations == nil {
		desc.Annotations = &mcp.ToolAnnotations{}
	}
	if c.readOnly != nil {
		desc.Annotations.ReadOnlyHint = c.readOnly
	}
	if c.destructive != nil {
		desc.Annotations.DestructiveHint = c.destructive
	}
	if c.idempotent != nil {
		desc.Annotations.IdempotentHint = c.idempotent
	}
	if c.openWorld != nil {
		desc.Annotations.OpenWorldHint = c.openWorld
	}
}

// NewTool constructs a Tool from a typed argument struct A. The input
// schema is reflected from A and arguments are decoded into A before fn
// runs, rejecting unknown fields unless WithAllowAdditionalProperties(true)
// is given.
func NewTool[A any](name string, fn func(ctx context.Context, call *ToolCall, args A) (any, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}
	cfg.apply(&desc)

	strict := !cfg.allowAdditionalProperties
	handler := func(ctx context.Context, call *ToolCall) (any, error) {
		var a A
		if err := decodeArguments(call.Arguments, &a, strict); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, call, a)
	}
	return Tool{Descriptor: desc, Handler: handler, RequiresConsent: cfg.consent}
}

// NewRawTool constructs a Tool from a hand-written descriptor. The handler
// receives the raw arguments after schema validation.
func NewRawTool(desc mcp.Tool, fn ToolHandler, opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.apply(&desc)
	if desc.InputSchema.Type == "" {
		desc.InputSchema.Type = "object"
	}
	return Tool{Descriptor: desc, Handler: fn, RequiresConsent: cfg.consent}
}

// Decode decodes the call's arguments into v, rejecting unknown fields.
func (c *ToolCall) Decode(v any) error {
	if err := decodeArguments(c.Arguments, v, true); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func decodeArguments(raw json.RawMessage, v any, strict bool) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if !strict {
		return json.Unmarshal(raw, v)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
