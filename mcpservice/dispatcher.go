package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ggoodman/mcp-toolhost/internal/logctx"
	"github.com/ggoodman/mcp-toolhost/mcp"
)

var (
	// ErrToolNotFound is returned when no active tool has the requested name.
	ErrToolNotFound = errors.New("mcpservice: tool not found or inactive")
	// ErrInvalidArguments is returned when call arguments fail schema
	// validation or decoding. The tool does not run.
	ErrInvalidArguments = errors.New("mcpservice: invalid tool arguments")
)

// DefaultConsentMessage is appended to the description of tools that need
// explicit user consent.
const DefaultConsentMessage = "\n\nIMPORTANT: This tool requires explicit user consent before execution. Please ask the user for permission before using this tool."

// Dispatcher lists and invokes the tools of a Registry.
type Dispatcher struct {
	reg            *Registry
	vis            Visibility
	consentMessage string
	log            *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithVisibility sets the active-tool predicate. Defaults to AllActive.
func WithVisibility(v Visibility) DispatcherOption {
	return func(d *Dispatcher) {
		if v != nil {
			d.vis = v
		}
	}
}

// WithConsentMessage overrides DefaultConsentMessage.
func WithConsentMessage(msg string) DispatcherOption {
	return func(d *Dispatcher) { d.consentMessage = msg }
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDispatcher returns a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:            reg,
		vis:            AllActive,
		consentMessage: DefaultConsentMessage,
		log:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListTools returns the descriptors of all active tools, sorted by name.
func (d *Dispatcher) ListTools(ctx context.Context) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(d.reg.entries))
	for _, e := range d.reg.entries {
		name := e.tool.Descriptor.Name
		if !d.vis.IsActive(name) {
			continue
		}
		desc := e.tool.Descriptor
		if d.consentRequired(e.tool) {
			desc.Description += d.consentText()
		}
		out = append(out, desc)
	}
	return out
}

func (d *Dispatcher) consentRequired(t Tool) bool {
	if cp, ok := d.vis.(ConsentPolicy); ok {
		return cp.ConsentRequired(t.Descriptor.Name, t.RequiresConsent)
	}
	return t.RequiresConsent
}

func (d *Dispatcher) consentText() string {
	if cp, ok := d.vis.(ConsentPolicy); ok {
		if msg := cp.ConsentMessage(); msg != "" {
			return msg
		}
	}
	return d.consentMessage
}

// CallTool invokes the named tool on behalf of p.
//
// It returns ErrToolNotFound if the tool is missing or inactive and
// ErrInvalidArguments if args do not satisfy its input schema. Every
// failure inside the tool, including a panic, is returned as an
// error-flagged result with a nil error.
func (d *Dispatcher) CallTool(ctx context.Context, p Principal, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	e, ok := d.reg.byName[name]
	if !ok || !d.vis.IsActive(name) {
		d.log.InfoContext(ctx, "tool.call.not_found")
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	inst, err := argumentInstance(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := e.schema.Validate(inst); err != nil {
		d.log.InfoContext(ctx, "tool.call.invalid_args", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	call := &ToolCall{Name: name, Arguments: args, Principal: p}
	start := time.Now()
	v, err := d.invoke(ctx, e.tool.Handler, call)
	if err != nil {
		if errors.Is(err, ErrInvalidArguments) {
			d.log.InfoContext(ctx, "tool.call.invalid_args", slog.String("err", err.Error()))
			return nil, err
		}
		d.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return Errorf("Tool execution failed: %s", err.Error()), nil
	}

	res, err := toResult(v)
	if err != nil {
		d.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return Errorf("Tool execution failed: %s", err.Error()), nil
	}
	d.log.InfoContext(ctx, "tool.call.ok", slog.Bool("is_error", res.IsError), slog.Duration("dur", time.Since(start)))
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, h ToolHandler, call *ToolCall) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			v, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return h(ctx, call)
}
