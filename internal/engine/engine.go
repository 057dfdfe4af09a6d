package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/mcp-toolhost/internal/jsonrpc"
	"github.com/ggoodman/mcp-toolhost/internal/logctx"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/sessions"
)

var (
	// ErrUnsupportedProtocolVersion is returned when the client asks for a
	// protocol revision the engine was not configured to speak.
	ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")
	// ErrMethodNotAllowed is returned when a method is invoked in a session
	// state that does not permit it.
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrStateless is returned by session operations on an engine running
	// in stateless mode.
	ErrStateless = errors.New("engine is stateless")
)

// Engine routes MCP requests to the session lifecycle and the tool
// dispatcher. It is transport-agnostic; streaminghttp and stdio both drive
// the same Engine.
type Engine struct {
	sessions *sessions.Manager
	tools    *mcpservice.Dispatcher
	log      *slog.Logger

	serverInfo   mcp.ImplementationInfo
	instructions string
	versions     []string
	stateless    bool

	limits *limiter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo sets the implementation info advertised during initialize.
func WithServerInfo(info mcp.ImplementationInfo) EngineOption {
	return func(e *Engine) { e.serverInfo = info }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

// WithProtocolVersions restricts the accepted protocol revisions. The first
// entry is the latest and is used when the client does not ask for one.
func WithProtocolVersions(versions ...string) EngineOption {
	return func(e *Engine) {
		if len(versions) > 0 {
			e.versions = slices.Clone(versions)
		}
	}
}

// WithStateless disables sessions. Every method is allowed and no
// Mcp-Session-Id is issued.
func WithStateless() EngineOption {
	return func(e *Engine) { e.stateless = true }
}

// WithToolCallRateLimit limits tools/call per session (or per principal in
// stateless mode) to rps with the given burst. A non-positive rps disables
// limiting.
func WithToolCallRateLimit(rps float64, burst int) EngineOption {
	return func(e *Engine) {
		if rps <= 0 {
			e.limits = nil
			return
		}
		e.limits = newLimiter(rps, burst)
	}
}

// NewEngine returns an Engine. mgr may be nil only together with WithStateless.
func NewEngine(mgr *sessions.Manager, tools *mcpservice.Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:   mgr,
		tools:      tools,
		log:        slog.New(slog.DiscardHandler),
		serverInfo: mcp.ImplementationInfo{Name: "mcp-toolhost", Version: "dev"},
		versions:   slices.Clone(mcp.SupportedProtocolVersions),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.sessions == nil {
		e.stateless = true
	}
	return e
}

// Stateless reports whether the engine runs without sessions.
func (e *Engine) Stateless() bool { return e.stateless }

// ServerInfo returns the advertised implementation info.
func (e *Engine) ServerInfo() mcp.ImplementationInfo { return e.serverInfo }

// LatestProtocolVersion is the version used when a client does not request one.
func (e *Engine) LatestProtocolVersion() string { return e.versions[0] }

// IsSupportedProtocolVersion reports whether v is one of the accepted revisions.
func (e *Engine) IsSupportedProtocolVersion(v string) bool {
	return slices.Contains(e.versions, v)
}

// UnsupportedVersionError returns a *VersionError for v.
func (e *Engine) UnsupportedVersionError(v string) error {
	return &VersionError{Requested: v, Supported: slices.Clone(e.versions)}
}

// VersionError reports a requested protocol version that is not supported.
// Its message is suitable for returning to the client.
type VersionError struct {
	Requested string
	Supported []string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("Unsupported protocol version: %s. Supported versions: %s", e.Requested, strings.Join(e.Supported, ", "))
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedProtocolVersion }

// StateError reports a method invoked in a session state that forbids it.
// Its message is suitable for returning to the client.
type StateError struct {
	Method string
	State  sessions.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("Method '%s' not allowed in state '%s'", e.Method, e.State)
}

func (e *StateError) Unwrap() error { return ErrMethodNotAllowed }

// negotiate picks the protocol version: the transport header wins over the
// initialize params, and the latest version is used when neither is set.
func (e *Engine) negotiate(headerVersion, paramsVersion string) (string, error) {
	v := headerVersion
	if v == "" {
		v = paramsVersion
	}
	if v == "" {
		return e.LatestProtocolVersion(), nil
	}
	if !e.IsSupportedProtocolVersion(v) {
		return "", e.UnsupportedVersionError(v)
	}
	return v, nil
}

// Initialize handles the initialize handshake. In stateful mode it creates
// a session that records the client's metadata and advances it to
// initializing; the returned session is nil in stateless mode.
func (e *Engine) Initialize(ctx context.Context, userID, headerVersion string, req *mcp.InitializeRequest) (*sessions.Session, *mcp.InitializeResult, error) {
	if req == nil {
		req = &mcp.InitializeRequest{}
	}

	version, err := e.negotiate(headerVersion, req.ProtocolVersion)
	if err != nil {
		e.log.InfoContext(ctx, "engine.initialize.unsupported_version", slog.String("requested", firstNonEmpty(headerVersion, req.ProtocolVersion)))
		return nil, nil, err
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{ListChanged: false},
		},
		ServerInfo:   e.serverInfo,
		Instructions: e.instructions,
	}

	if e.stateless {
		e.log.InfoContext(ctx, "engine.initialize.ok", slog.String("protocol_version", version), slog.Bool("stateless", true))
		return nil, res, nil
	}

	caps, err := json.Marshal(req.Capabilities)
	if err != nil {
		return nil, nil, fmt.Errorf("encode client capabilities: %w", err)
	}

	sess, err := e.sessions.CreateSession(ctx, userID,
		sessions.WithProtocolVersion(version),
		sessions.WithClientInfo(sessions.ClientInfo{
			Name:    req.ClientInfo.Name,
			Version: req.ClientInfo.Version,
			Title:   req.ClientInfo.Title,
		}),
		sessions.WithClientCapabilities(caps),
	)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return nil, nil, err
	}

	if err := e.sessions.Transition(ctx, sess, sessions.StateInitializing); err != nil {
		e.log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		_ = e.sessions.Terminate(context.WithoutCancel(ctx), sess)
		return nil, nil, err
	}

	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	e.log.InfoContext(ctx, "engine.initialize.ok", slog.String("protocol_version", version))

	return sess, res, nil
}

// LoadSession returns the session identified by id on behalf of userID. A
// session owned by a different principal is reported as ErrSessionNotFound
// so its existence is not disclosed.
func (e *Engine) LoadSession(ctx context.Context, id, userID string) (*sessions.Session, error) {
	if e.stateless {
		return nil, ErrStateless
	}
	start := time.Now()
	sess, ok, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		e.log.InfoContext(ctx, "engine.load_session.fail", slog.String("err", err.Error()))
		return nil, err
	}
	if !ok {
		e.log.InfoContext(ctx, "engine.load_session.missing")
		return nil, sessions.ErrSessionNotFound
	}
	if sess.UserID != "" && sess.UserID != userID {
		e.log.InfoContext(ctx, "engine.load_session.denied")
		return nil, sessions.ErrSessionNotFound
	}
	e.log.InfoContext(ctx, "engine.load_session.ok", slog.Duration("dur", time.Since(start)))
	return sess, nil
}

// CheckMethod reports whether method may run on sess. A nil session (the
// stateless case) allows everything.
func (e *Engine) CheckMethod(sess *sessions.Session, method string) error {
	if sess == nil || sess.IsMethodAllowed(method) {
		return nil
	}
	return &StateError{Method: method, State: sess.State}
}

// HandleRequest answers a JSON-RPC request that carries an ID. Protocol
// level failures are encoded in the returned response; a non-nil error means
// no response could be produced at all.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, p mcpservice.Principal, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if sess != nil {
		p.SessionID = sess.ID
		ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	}

	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, p, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), nil
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	tools := e.tools.ListTools(ctx)
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Duration("dur", time.Since(start)), slog.Int("tool_count", len(tools)))

	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, p mcpservice.Principal, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing tool name", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	if e.limits != nil && !e.limits.allow(rateKey(sess, p)) {
		log.WarnContext(ctx, "engine.handle_request.rate_limited")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeRateLimited, "rate limit exceeded", nil), nil
	}

	// The first authenticated call claims an unowned session.
	if sess != nil && !p.Anonymous() && sess.UserID == "" {
		if err := e.sessions.BindUser(ctx, sess, p.UserID); err != nil {
			if errors.Is(err, sessions.ErrPrincipalMismatch) {
				log.InfoContext(ctx, "engine.handle_request.denied", slog.String("err", err.Error()))
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Session not found", nil), nil
			}
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
	}

	res, err := e.tools.CallTool(ctx, p, params.Name, params.Arguments)
	switch {
	case errors.Is(err, mcpservice.ErrToolNotFound):
		log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("found", false), slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewResultResponse(req.ID, mcpservice.Errorf("Tool '%s' not found or inactive", params.Name))
	case errors.Is(err, mcpservice.ErrInvalidArguments):
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
	case err != nil:
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("is_error", res.IsError), slog.Duration("dur", time.Since(start)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

// HandleNotification processes a client notification. Only
// notifications/initialized has an effect: it completes the handshake.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, note *jsonrpc.Request) error {
	if mcp.Method(note.Method) != mcp.InitializedNotificationMethod || sess == nil {
		e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
		return nil
	}

	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	if err := e.sessions.Transition(ctx, sess, sessions.StateInitialized); err != nil {
		if errors.Is(err, sessions.ErrInvalidTransition) {
			// Another request already completed the handshake.
			e.log.InfoContext(ctx, "engine.handle_notification.initialized.lost_race", slog.String("err", err.Error()))
			return nil
		}
		e.log.ErrorContext(ctx, "engine.handle_notification.initialized.fail", slog.String("err", err.Error()))
		return err
	}

	e.log.InfoContext(ctx, "engine.session.initialized")
	return nil
}

// DeleteSession terminates sess.
func (e *Engine) DeleteSession(ctx context.Context, sess *sessions.Session) error {
	if e.stateless {
		return ErrStateless
	}
	if err := e.sessions.Terminate(ctx, sess); err != nil {
		e.log.InfoContext(ctx, "engine.delete_session.fail", slog.String("err", err.Error()))
		return err
	}
	if e.limits != nil {
		e.limits.forget(sess.ID)
	}
	e.log.InfoContext(ctx, "engine.delete_session.ok", slog.String("session_id", sess.ID))
	return nil
}

func rateKey(sess *sessions.Session, p mcpservice.Principal) string {
	switch {
	case sess != nil:
		return sess.ID
	case !p.Anonymous():
		return "user:" + p.UserID
	default:
		return "anonymous"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
