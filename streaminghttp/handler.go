package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-toolhost/auth"
	"github.com/ggoodman/mcp-toolhost/internal/engine"
	"github.com/ggoodman/mcp-toolhost/internal/jsonrpc"
	"github.com/ggoodman/mcp-toolhost/internal/logctx"
	"github.com/ggoodman/mcp-toolhost/internal/wellknown"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpserver"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	jsonMediaTypes        = []contenttype.MediaType{jsonMediaType}
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"

	corsAllowHeaders  = "Origin, X-Requested-With, Content-Type, Accept, Authorization, Mcp-Session-Id, Mcp-Protocol-Version"
	corsExposeHeaders = "Mcp-Session-Id, Mcp-Protocol-Version, WWW-Authenticate"

	maxBodyBytes     = 4 << 20
	defaultKeepAlive = 25 * time.Second
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError rejects a request at the session layer. The body is a JSON-RPC
// error object so clients can correlate it with their request.
func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, nil))
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	serverName    string
	logger        *slog.Logger
	realm         string
	anonymous     bool
	allowedOrigin string
	keepAlive     time.Duration
}

// WithServerName sets a human-readable server name surfaced in PRM.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default), the realm attribute is omitted entirely per
// RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithAnonymousAccess lets requests without an Authorization header through
// as an anonymous principal. tools/call always requires a principal.
func WithAnonymousAccess() Option {
	return func(c *newConfig) { c.anonymous = true }
}

// WithAllowedOrigin sets the Access-Control-Allow-Origin value. Defaults to "*".
func WithAllowedOrigin(origin string) Option {
	return func(c *newConfig) { c.allowedOrigin = origin }
}

// WithKeepAlive sets the interval of SSE comment frames on GET streams. A
// non-positive value disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(c *newConfig) { c.keepAlive = d }
}

// buildBearerChallenge builds a standardized Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// Realm and resource_metadata are omitted when empty.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// pathIfSet returns the string form of u if non-nil, else empty.
func pathIfSet(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// StreamingHTTPHandler implements the streamable HTTP transport of the Model
// Context Protocol for a tool server.
type StreamingHTTPHandler struct {
	mux            *http.ServeMux
	log            *slog.Logger
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL
	serverURL      *url.URL

	auth          auth.Authenticator
	eng           *engine.Engine
	serverName    string
	realm         string
	anonymous     bool
	allowedOrigin string
	keepAlive     time.Duration
}

// New constructs a StreamingHTTPHandler.
//
// Required:
//   - publicEndpoint: externally visible URL of the MCP endpoint (scheme, host, path)
//   - srv: the tool server to expose
//
// authenticator may be nil, in which case every request runs as an anonymous
// principal. When it implements auth.MetadataProvider the handler serves an
// OAuth 2.0 Protected Resource Metadata document and references it from its
// challenges.
func New(publicEndpoint string, srv *mcpserver.Server, authenticator auth.Authenticator, opts ...Option) (*StreamingHTTPHandler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{
		logger:        slog.New(slog.DiscardHandler),
		allowedOrigin: "*",
		keepAlive:     defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.serverName == "" {
		cfg.serverName = srv.Info().Name
	}

	h := &StreamingHTTPHandler{
		log:           slog.New(logctx.NewHandler(cfg.logger.Handler())),
		serverURL:     mcpURL,
		auth:          authenticator,
		eng:           srv.Engine(),
		serverName:    cfg.serverName,
		realm:         cfg.realm,
		anonymous:     cfg.anonymous,
		allowedOrigin: cfg.allowedOrigin,
		keepAlive:     cfg.keepAlive,
	}

	endpoint := pathOnly(mcpURL)
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", endpoint), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", endpoint), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", endpoint), h.handleDeleteMCP)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", endpoint), h.handleOptionsMCP)

	healthPath := path.Join(endpoint, "health")
	mux.HandleFunc(fmt.Sprintf("GET %s", healthPath), h.handleHealth)
	mux.HandleFunc(fmt.Sprintf("POST %s", healthPath), h.handleHealth)

	if mp, ok := authenticator.(auth.MetadataProvider); ok {
		md := mp.ResourceMetadata()
		h.prmDocument = wellknown.NewProtectedResourceMetadata(mcpURL, cfg.serverName, md.Issuer, md.JWKSURL, md.ScopesSupported)
		h.prmDocumentURL = wellknown.ProtectedResourceURL(mcpURL)

		prmPath := pathOnly(h.prmDocumentURL)
		// An endpoint at the root yields a trailing slash; serve both forms to avoid a ServeMux redirect.
		base := strings.TrimSuffix(prmPath, "/")
		mux.HandleFunc(fmt.Sprintf("GET %s", base), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s", base), h.handleOptionsProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("GET %s/", base), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s/", base), h.handleOptionsProtectedResourceMetadata)
	}

	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
	if h.allowedOrigin != "*" {
		w.Header().Add("Vary", "Origin")
	}
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePostMCP handles the POST endpoint, which carries every client to
// server message and establishes sessions.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	userInfo, ok := h.checkAuthentication(ctx, r, w, msg.Method)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}
	var p mcpservice.Principal
	if userInfo != nil {
		p.UserID = userInfo.UserID()
	}

	req := msg.AsRequest()
	if req == nil {
		// This server never issues requests to the client, so there is nothing to correlate.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored", slog.Duration("dur", time.Since(start)))
		return
	}

	if !req.IsNotification() {
		if _, ok := responseMediaType(r); !ok {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json or text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
	}

	clientPV := r.Header.Get(mcpProtocolVersionHeader)
	if clientPV != "" && !h.eng.IsSupportedProtocolVersion(clientPV) {
		writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidRequest, h.eng.UnsupportedVersionError(clientPV).Error())
		h.log.WarnContext(ctx, "protocol.version.unsupported", slog.String("client_version", clientPV))
		return
	}

	if mcp.Method(req.Method) == mcp.InitializeMethod {
		h.handleInitialize(ctx, w, r, req, p, start)
		return
	}

	var sess *sessions.Session
	if !h.eng.Stateless() {
		sessID := r.Header.Get(mcpSessionIDHeader)
		switch {
		case sessID == "" && sessionOptional(req.Method):
			h.log.DebugContext(ctx, "session.header.absent")
		case sessID == "":
			writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidRequest, "Missing mcp-session-id header")
			h.log.WarnContext(ctx, "session.id.missing")
			return
		default:
			sess, ok = h.loadSession(ctx, w, req.ID, sessID, p.UserID)
			if !ok {
				return
			}
			ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))

			if clientPV != "" && sess.ProtocolVersion != "" && clientPV != sess.ProtocolVersion {
				writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidRequest, "protocol version mismatch")
				h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
				return
			}
			if err := h.eng.CheckMethod(sess, req.Method); err != nil {
				writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error())
				h.log.InfoContext(ctx, "session.method.denied", slog.String("err", err.Error()))
				return
			}
			if sess.ProtocolVersion != "" {
				w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
			}
		}
	}

	if req.IsNotification() {
		if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to process notification")
			h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	res, err := h.eng.HandleRequest(ctx, sess, p, req)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.ErrorResponseFrom(req.ID, err)
	}
	h.writeResponse(ctx, w, r, res)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// sessionOptional lists the methods that may be sent before the client has
// learned its session id.
func sessionOptional(method string) bool {
	switch mcp.Method(method) {
	case mcp.PingMethod, mcp.InitializedNotificationMethod:
		return true
	}
	return false
}

func (h *StreamingHTTPHandler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, p mcpservice.Principal, start time.Time) {
	if req.IsNotification() {
		writeJSONError(w, http.StatusBadRequest, "initialize must be a request")
		h.log.WarnContext(ctx, "session.initialize.invalid")
		return
	}

	if sessID := r.Header.Get(mcpSessionIDHeader); sessID != "" && !h.eng.Stateless() {
		sess, ok := h.loadSession(ctx, w, req.ID, sessID, p.UserID)
		if !ok {
			return
		}
		ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
		writeRPCError(w, http.StatusConflict, req.ID, jsonrpc.ErrorCodeInvalidRequest, "Session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}

	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	sess, initRes, err := h.eng.Initialize(ctx, p.UserID, r.Header.Get(mcpProtocolVersionHeader), &initReq)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupportedProtocolVersion) {
			writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error())
			h.log.InfoContext(ctx, "session.initialize.unsupported_version")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	if sess != nil {
		ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
		w.Header().Set(mcpSessionIDHeader, sess.ID)
	}
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	h.writeResponse(ctx, w, r, resp)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// loadSession resolves the session header on behalf of userID. On failure it
// writes the rejection and returns false.
func (h *StreamingHTTPHandler) loadSession(ctx context.Context, w http.ResponseWriter, id *jsonrpc.RequestID, sessID, userID string) (*sessions.Session, bool) {
	sess, err := h.eng.LoadSession(ctx, sessID, userID)
	switch {
	case err == nil:
		return sess, true
	case errors.Is(err, sessions.ErrInvalidIdentifier):
		writeRPCError(w, http.StatusBadRequest, id, jsonrpc.ErrorCodeInvalidRequest, "Invalid mcp-session-id header")
		h.log.WarnContext(ctx, "session.id.invalid")
	case errors.Is(err, sessions.ErrSessionNotFound):
		writeRPCError(w, http.StatusNotFound, id, jsonrpc.ErrorCodeInvalidRequest, "Session not found")
		h.log.InfoContext(ctx, "session.load.miss")
	default:
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
	}
	return nil, false
}

// responseMediaType picks how a response is framed. SSE wins whenever the
// client accepts it; a missing Accept header means plain JSON.
func responseMediaType(r *http.Request) (contenttype.MediaType, bool) {
	if r.Header.Get("Accept") == "" {
		return jsonMediaType, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err == nil {
		return eventStreamMediaType, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err == nil {
		return jsonMediaType, true
	}
	return contenttype.MediaType{}, false
}

func (h *StreamingHTTPHandler) writeResponse(ctx context.Context, w http.ResponseWriter, r *http.Request, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}

	mt, _ := responseMediaType(r)
	f, canFlush := w.(http.Flusher)
	if mt.Matches(eventStreamMediaType) && canFlush {
		setEventStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		if err := writeSSEEvent(w, f, b); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

// handleGetMCP handles the GET endpoint: a standalone SSE stream for an
// existing session. The server initiates no messages, so the stream carries
// only keep-alive comments until the client disconnects.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if h.eng.Stateless() {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "server is stateless")
		h.log.InfoContext(ctx, "http.get.stateless")
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	userInfo, ok := h.checkAuthentication(ctx, r, w, "")
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Missing mcp-session-id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	sess, ok := h.loadSession(ctx, w, nil, sessID, userIDOf(userInfo))
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion != "" && pv != sess.ProtocolVersion {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	if sess.ProtocolVersion != "" {
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	}
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	f.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		t := time.NewTicker(h.keepAlive)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case <-tick:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				h.log.InfoContext(ctx, "sse.stream.closed", slog.String("err", err.Error()))
				return
			}
			f.Flush()
		}
	}
}

// handleDeleteMCP terminates an existing session.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	if h.eng.Stateless() {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "server is stateless")
		h.log.InfoContext(ctx, "http.delete.stateless")
		return
	}

	userInfo, ok := h.checkAuthentication(ctx, r, w, "")
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Missing mcp-session-id header")
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}

	sess, ok := h.loadSession(ctx, w, nil, sessID, userIDOf(userInfo))
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))

	if err := h.eng.DeleteSession(ctx, sess); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeInvalidRequest, "Session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) handleOptionsMCP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamingHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := h.eng.ServerInfo()
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"server":  h.serverName,
		"version": info.Version,
	})
}

func (h *StreamingHTTPHandler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth2 Protected Resource Metadata document.
func (h *StreamingHTTPHandler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		return
	}
}

// checkAuthentication resolves the caller. A nil UserInfo with ok set means
// the request proceeds anonymously. When ok is false the rejection has been
// written.
func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter, method string) (auth.UserInfo, bool) {
	if h.auth == nil {
		return nil, true
	}

	authHeader := r.Header.Get(authorizationHeader)
	prm := pathIfSet(h.prmDocumentURL)

	if authHeader == "" {
		if h.anonymous && mcp.Method(method) != mcp.ToolsCallMethod {
			h.log.DebugContext(ctx, "auth.check.anonymous")
			return nil, true
		}
		// RFC 6750 §3.1: a request lacking any authentication information gets
		// a bare challenge without an error code.
		h.log.InfoContext(ctx, "auth.check.missing", slog.String("err", "no authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, prm, nil))
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, prm, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, prm, map[string]string{"error": "invalid_request", "error_description": "empty bearer token"}))
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		return userInfo, true
	case errors.Is(err, auth.ErrInsufficientScope):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, prm, map[string]string{"error": "insufficient_scope", "error_description": "insufficient scope"}))
		w.WriteHeader(http.StatusForbidden)
	case errors.Is(err, auth.ErrUnauthorized):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, prm, map[string]string{"error": "invalid_token", "error_description": "the access token is invalid"}))
		w.WriteHeader(http.StatusUnauthorized)
	default:
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
	return nil, false
}

func userIDOf(ui auth.UserInfo) string {
	if ui == nil {
		return ""
	}
	return ui.UserID()
}

func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes one Server-Sent Event carrying payload and flushes it.
func writeSSEEvent(w io.Writer, f http.Flusher, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	f.Flush()
	return nil
}
