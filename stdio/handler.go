package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/mcp-toolhost/internal/engine"
	"github.com/ggoodman/mcp-toolhost/internal/jsonrpc"
	"github.com/ggoodman/mcp-toolhost/internal/logctx"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpserver"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/google/uuid"
)

var errCancelledByClient = errors.New("request cancelled by client")

// Handler serves one MCP peer over newline-delimited JSON-RPC.
type Handler struct {
	eng          *engine.Engine
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider

	wmu sync.Mutex
}

// NewHandler returns a Handler that dispatches to srv. Input and output
// default to os.Stdin and os.Stdout.
func NewHandler(srv *mcpserver.Server, opts ...Option) *Handler {
	h := &Handler{
		eng:          srv.Engine(),
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.New(slog.DiscardHandler),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = slog.New(logctx.NewHandler(h.l.Handler()))
	return h
}

// Serve reads messages until the input reaches EOF or ctx is cancelled.
// EOF is a clean shutdown and returns nil. In-flight requests are drained
// and the implicit session is terminated before Serve returns.
func (h *Handler) Serve(ctx context.Context) error {
	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("resolve stdio user: %w", err)
	}

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID: uuid.NewString(),
		Method:    "STDIO",
	})

	c := &conn{
		h:        h,
		p:        mcpservice.Principal{UserID: userID},
		inflight: make(map[string]*inflightCall),
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(h.r)
		for {
			line, err := br.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	h.l.InfoContext(ctx, "stdio.serve.start", slog.String("user_id", userID))

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		c.close(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			h.l.ErrorContext(ctx, "stdio.serve.read.fail", slog.String("err", err.Error()))
			return fmt.Errorf("read input: %w", err)
		case line := <-lines:
			c.handleLine(ctx, &wg, line)
		}
	}
}

func (h *Handler) write(ctx context.Context, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.encode.fail", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')

	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

type inflightCall struct {
	cancel context.CancelCauseFunc
}

// conn holds the state of one Serve call. sess is only touched from the
// read loop; request goroutines receive a copy.
type conn struct {
	h    *Handler
	p    mcpservice.Principal
	sess *sessions.Session

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

func (c *conn) handleLine(ctx context.Context, wg *sync.WaitGroup, line []byte) {
	line = bytes.TrimSpace(line)
	if line[0] == '[' {
		c.h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.h.l.InfoContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			c.h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", nil))
			return
		}
		c.h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", nil))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()
	if req == nil {
		c.h.l.DebugContext(ctx, "stdio.response.ignored")
		return
	}
	if req.IsNotification() {
		c.handleNotification(ctx, req)
		return
	}
	if mcp.Method(req.Method) == mcp.InitializeMethod {
		c.handleInitialize(ctx, req)
		return
	}

	if err := c.checkMethod(req.Method); err != nil {
		c.h.l.InfoContext(ctx, "stdio.request.rejected", slog.String("err", err.Error()))
		c.h.write(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil))
		return
	}

	var snap *sessions.Session
	if c.sess != nil {
		cp := *c.sess
		snap = &cp
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	key := inflightKey(req.ID)
	call := c.track(key, cancel)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.untrack(key, call)

		res, err := c.h.eng.HandleRequest(reqCtx, snap, c.p, req)
		if errors.Is(context.Cause(reqCtx), errCancelledByClient) {
			c.h.l.InfoContext(ctx, "stdio.request.cancelled")
			return
		}
		if err != nil {
			c.h.l.ErrorContext(ctx, "stdio.request.fail", slog.String("err", err.Error()))
			res = jsonrpc.ErrorResponseFrom(req.ID, err)
		}
		c.h.write(ctx, res)
	}()
}

// checkMethod applies the session state gate. Before initialize there is no
// session yet, which is treated as not_initialized.
func (c *conn) checkMethod(method string) error {
	if c.h.eng.Stateless() {
		return nil
	}
	if c.sess == nil {
		if mcp.Method(method) == mcp.PingMethod {
			return nil
		}
		return &engine.StateError{Method: method, State: sessions.StateNotInitialized}
	}
	return c.h.eng.CheckMethod(c.sess, method)
}

func (c *conn) handleInitialize(ctx context.Context, req *jsonrpc.Request) {
	if c.sess != nil {
		c.h.write(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Session already initialized", nil))
		return
	}

	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.h.write(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil))
			return
		}
	}

	sess, res, err := c.h.eng.Initialize(ctx, c.p.UserID, "", &params)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupportedProtocolVersion) {
			c.h.write(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil))
			return
		}
		c.h.write(ctx, jsonrpc.ErrorResponseFrom(req.ID, err))
		return
	}
	c.sess = sess

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		c.h.write(ctx, jsonrpc.ErrorResponseFrom(req.ID, err))
		return
	}
	c.h.write(ctx, resp)
}

func (c *conn) handleNotification(ctx context.Context, note *jsonrpc.Request) {
	if mcp.Method(note.Method) == mcp.CancelledNotificationMethod {
		var params struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
			Reason    string             `json:"reason"`
		}
		if err := json.Unmarshal(note.Params, &params); err != nil || params.RequestID.IsNil() {
			c.h.l.DebugContext(ctx, "stdio.cancel.invalid")
			return
		}
		c.cancel(inflightKey(params.RequestID))
		return
	}

	if err := c.h.eng.HandleNotification(ctx, c.sess, note); err != nil {
		c.h.l.ErrorContext(ctx, "stdio.notification.fail", slog.String("err", err.Error()))
	}
}

// inflightKey keeps string and numeric IDs apart: "1" and 1 are different
// requests.
func inflightKey(id *jsonrpc.RequestID) string {
	return fmt.Sprintf("%T:%v", id.Value(), id.Value())
}

func (c *conn) track(key string, cancel context.CancelCauseFunc) *inflightCall {
	call := &inflightCall{cancel: cancel}
	c.mu.Lock()
	c.inflight[key] = call
	c.mu.Unlock()
	return call
}

func (c *conn) untrack(key string, call *inflightCall) {
	call.cancel(nil)
	c.mu.Lock()
	if c.inflight[key] == call {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

func (c *conn) cancel(key string) {
	c.mu.Lock()
	call, ok := c.inflight[key]
	c.mu.Unlock()
	if ok {
		call.cancel(errCancelledByClient)
	}
}

func (c *conn) close(ctx context.Context) {
	if c.sess == nil {
		return
	}
	if err := c.h.eng.DeleteSession(context.WithoutCancel(ctx), c.sess); err != nil {
		c.h.l.ErrorContext(ctx, "stdio.session.terminate.fail", slog.String("err", err.Error()))
	}
}
