package mcpserver

import (
	"log/slog"

	"github.com/ggoodman/mcp-toolhost/internal/engine"
	"github.com/ggoodman/mcp-toolhost/internal/logctx"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/sessions"
)

// ServerOption configures a Server.
type ServerOption func(*config)

type config struct {
	engineOpts []engine.EngineOption
}

// WithLogger sets the logger. Records are enriched with request, session and
// tool call attributes carried by the context.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *config) {
		if l == nil {
			return
		}
		c.engineOpts = append(c.engineOpts, engine.WithLogger(slog.New(logctx.NewHandler(l.Handler()))))
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithServerInfo(info)) }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithInstructions(instr)) }
}

// WithProtocolVersions restricts the accepted protocol revisions, latest first.
func WithProtocolVersions(versions ...string) ServerOption {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithProtocolVersions(versions...)) }
}

// WithStateless runs the server without sessions.
func WithStateless() ServerOption {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithStateless()) }
}

// WithToolCallRateLimit limits tools/call per session to rps with the given burst.
func WithToolCallRateLimit(rps float64, burst int) ServerOption {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithToolCallRateLimit(rps, burst)) }
}

// Server is a configured MCP tool server ready to be mounted on a transport.
type Server struct {
	eng *engine.Engine
}

// NewServer returns a Server. mgr may be nil, in which case the server is
// stateless.
func NewServer(mgr *sessions.Manager, tools *mcpservice.Dispatcher, opts ...ServerOption) *Server {
	cfg := &config{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return &Server{eng: engine.NewEngine(mgr, tools, cfg.engineOpts...)}
}

// Engine exposes the protocol engine to the transports in this module.
func (s *Server) Engine() *engine.Engine { return s.eng }

// Info returns the advertised implementation info.
func (s *Server) Info() mcp.ImplementationInfo { return s.eng.ServerInfo() }

// Stateless reports whether the server runs without sessions.
func (s *Server) Stateless() bool { return s.eng.Stateless() }
