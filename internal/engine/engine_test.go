package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-toolhost/internal/jsonrpc"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/ggoodman/mcp-toolhost/sessions/memoryhost"
	"github.com/google/go-cmp/cmp"
)

type echoArgs struct {
	Message string `json:"message"`
}

func newDispatcher(t *testing.T, opts ...mcpservice.DispatcherOption) *mcpservice.Dispatcher {
	t.Helper()
	reg, err := mcpservice.NewRegistry(
		mcpservice.NewTool("echo", func(ctx context.Context, call *mcpservice.ToolCall, a echoArgs) (any, error) {
			return a.Message, nil
		}, mcpservice.WithReadOnly()),
		mcpservice.NewTool("whoami", func(ctx context.Context, call *mcpservice.ToolCall, a struct{}) (any, error) {
			return call.Principal.UserID + "@" + call.Principal.SessionID, nil
		}),
		mcpservice.NewTool("fail", func(ctx context.Context, call *mcpservice.ToolCall, a struct{}) (any, error) {
			return nil, errors.New("backend unavailable")
		}),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return mcpservice.NewDispatcher(reg, opts...)
}

func newEngine(t *testing.T, opts ...EngineOption) (*Engine, *memoryhost.Host) {
	t.Helper()
	host := memoryhost.New()
	return NewEngine(sessions.NewManager(host), newDispatcher(t), opts...), host
}

func request(t *testing.T, id any, method string, params any) *jsonrpc.Request {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}
	return req
}

func initialized(t *testing.T, e *Engine, userID string) *sessions.Session {
	t.Helper()
	ctx := context.Background()
	sess, _, err := e.Initialize(ctx, userID, "", &mcp.InitializeRequest{ProtocolVersion: mcp.LatestProtocolVersion})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}
	if err := e.HandleNotification(ctx, sess, note); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	return sess
}

func callResult(t *testing.T, res *jsonrpc.Response) mcp.CallToolResult {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("unexpected error response: %+v", res.Error)
	}
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func TestInitializeNegotiatesVersion(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		params  string
		want    string
		wantErr bool
	}{
		{name: "params", params: "2025-03-26", want: "2025-03-26"},
		{name: "header wins", header: "2024-11-05", params: "2025-03-26", want: "2024-11-05"},
		{name: "latest by default", want: mcp.LatestProtocolVersion},
		{name: "unsupported params", params: "1999-01-01", wantErr: true},
		{name: "unsupported header", header: "1999-01-01", params: "2025-03-26", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			_, res, err := e.Initialize(context.Background(), "", tt.header, &mcp.InitializeRequest{ProtocolVersion: tt.params})
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedProtocolVersion) {
					t.Fatalf("expected ErrUnsupportedProtocolVersion, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			if res.ProtocolVersion != tt.want {
				t.Fatalf("protocol version = %q, want %q", res.ProtocolVersion, tt.want)
			}
		})
	}
}

func TestUnsupportedVersionMessage(t *testing.T) {
	e, _ := newEngine(t, WithProtocolVersions("2025-06-18", "2025-03-26"))
	_, _, err := e.Initialize(context.Background(), "", "", &mcp.InitializeRequest{ProtocolVersion: "2024-11-05"})
	want := "Unsupported protocol version: 2024-11-05. Supported versions: 2025-06-18, 2025-03-26"
	if err == nil || err.Error() != want {
		t.Fatalf("error = %v, want %q", err, want)
	}
}

func TestInitializeCreatesSession(t *testing.T) {
	e, host := newEngine(t, WithServerInfo(mcp.ImplementationInfo{Name: "toolhost", Version: "1.2.3"}), WithInstructions("be nice"))
	req := &mcp.InitializeRequest{
		ProtocolVersion: "2025-03-26",
		ClientInfo:      mcp.ImplementationInfo{Name: "inspector", Version: "0.9"},
	}
	sess, res, err := e.Initialize(context.Background(), "alice", "", req)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if sess.State != sessions.StateInitializing {
		t.Fatalf("state = %q, want initializing", sess.State)
	}
	if sess.UserID != "alice" || sess.ProtocolVersion != "2025-03-26" || sess.Client.Name != "inspector" {
		t.Fatalf("unexpected session metadata: %+v", sess)
	}
	if host.Len() != 1 {
		t.Fatalf("host holds %d sessions, want 1", host.Len())
	}

	want := &mcp.InitializeResult{
		ProtocolVersion: "2025-03-26",
		Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{ListChanged: false}},
		ServerInfo:      mcp.ImplementationInfo{Name: "toolhost", Version: "1.2.3"},
		Instructions:    "be nice",
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("InitializeResult mismatch (-want +got):\n%s", diff)
	}
}

func TestInitializeStateless(t *testing.T) {
	e := NewEngine(nil, newDispatcher(t))
	if !e.Stateless() {
		t.Fatalf("engine without a manager should be stateless")
	}
	sess, res, err := e.Initialize(context.Background(), "", "", &mcp.InitializeRequest{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if sess != nil {
		t.Fatalf("stateless initialize returned a session")
	}
	if res.Capabilities.Tools == nil {
		t.Fatalf("tools capability missing")
	}
	if _, err := e.LoadSession(context.Background(), "abc", ""); !errors.Is(err, ErrStateless) {
		t.Fatalf("LoadSession on stateless engine: %v", err)
	}
}

func TestLoadSession(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	owned, _, err := e.Initialize(ctx, "alice", "", nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	unowned, _, err := e.Initialize(ctx, "", "", nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := e.LoadSession(ctx, owned.ID, "alice"); err != nil {
		t.Fatalf("owner load: %v", err)
	}
	if _, err := e.LoadSession(ctx, owned.ID, "mallory"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("foreign load: %v", err)
	}
	if _, err := e.LoadSession(ctx, owned.ID, ""); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("anonymous load of owned session: %v", err)
	}
	if _, err := e.LoadSession(ctx, unowned.ID, "bob"); err != nil {
		t.Fatalf("load of unowned session: %v", err)
	}
	if _, err := e.LoadSession(ctx, "0123456789abcdef0123456789abcdef", ""); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("missing session: %v", err)
	}
	if _, err := e.LoadSession(ctx, "bad id", ""); !errors.Is(err, sessions.ErrInvalidIdentifier) {
		t.Fatalf("malformed id: %v", err)
	}
}

func TestCheckMethod(t *testing.T) {
	e, _ := newEngine(t)
	sess := &sessions.Session{ID: "abc", State: sessions.StateNotInitialized}

	if err := e.CheckMethod(sess, "ping"); err != nil {
		t.Fatalf("ping before handshake: %v", err)
	}
	err := e.CheckMethod(sess, "tools/list")
	if !errors.Is(err, ErrMethodNotAllowed) {
		t.Fatalf("expected ErrMethodNotAllowed, got %v", err)
	}
	if got, want := err.Error(), "Method 'tools/list' not allowed in state 'not_initialized'"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
	if err := e.CheckMethod(nil, "tools/call"); err != nil {
		t.Fatalf("nil session should allow everything: %v", err)
	}
	sess.State = sessions.StateInitializing
	if err := e.CheckMethod(sess, "tools/call"); err != nil {
		t.Fatalf("initializing should tolerate tools/call: %v", err)
	}
}

func TestHandleNotificationCompletesHandshake(t *testing.T) {
	e, _ := newEngine(t)
	sess := initialized(t, e, "alice")
	if sess.State != sessions.StateInitialized {
		t.Fatalf("state = %q, want initialized", sess.State)
	}

	// A repeated notification loses the race and is ignored.
	note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}
	if err := e.HandleNotification(context.Background(), sess, note); err != nil {
		t.Fatalf("repeated notification: %v", err)
	}

	cancelled := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.CancelledNotificationMethod)}
	if err := e.HandleNotification(context.Background(), sess, cancelled); err != nil {
		t.Fatalf("other notifications are ignored: %v", err)
	}
}

func TestHandleNotificationConcurrentInitialized(t *testing.T) {
	e, host := newEngine(t)
	ctx := context.Background()
	sess, _, err := e.Initialize(ctx, "", "", nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}
			if err := e.HandleNotification(ctx, sess.Clone(), note); err != nil {
				t.Errorf("HandleNotification: %v", err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := host.GetSession(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.State != sessions.StateInitialized {
		t.Fatalf("state = %q, want initialized", got.State)
	}
}

func TestHandleRequestPingAndUnknown(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	res, err := e.HandleRequest(ctx, nil, mcpservice.Principal{}, request(t, 1, "ping", nil))
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if string(res.Result) != "{}" {
		t.Fatalf("ping result = %s, want {}", res.Result)
	}

	res, err = e.HandleRequest(ctx, nil, mcpservice.Principal{}, request(t, 2, "resources/list", nil))
	if err != nil {
		t.Fatalf("unknown: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound || res.Error.Message != "Method not found: resources/list" {
		t.Fatalf("unexpected response: %+v", res.Error)
	}
}

func TestHandleRequestToolsList(t *testing.T) {
	e, _ := newEngine(t)
	sess := initialized(t, e, "alice")

	res, err := e.HandleRequest(context.Background(), sess, mcpservice.Principal{UserID: "alice"}, request(t, "list", "tools/list", map[string]any{}))
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var out mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got []string
	for _, tool := range out.Tools {
		got = append(got, tool.Name)
	}
	if diff := cmp.Diff([]string{"echo", "fail", "whoami"}, got); diff != "" {
		t.Fatalf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleRequestToolsCall(t *testing.T) {
	e, _ := newEngine(t)
	sess := initialized(t, e, "alice")
	ctx := context.Background()
	p := mcpservice.Principal{UserID: "alice"}

	t.Run("ok", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 1, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"message": "hi"}}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		out := callResult(t, res)
		if out.IsError || out.Content[0].Text != "hi" {
			t.Fatalf("unexpected result: %+v", out)
		}
	})

	t.Run("principal carries session", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 2, "tools/call", map[string]any{"name": "whoami"}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		out := callResult(t, res)
		if want := "alice@" + sess.ID; out.Content[0].Text != want {
			t.Fatalf("whoami = %q, want %q", out.Content[0].Text, want)
		}
	})

	t.Run("unknown tool is in-band", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 3, "tools/call", map[string]any{"name": "nope"}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		out := callResult(t, res)
		if !out.IsError || out.Content[0].Text != "Tool 'nope' not found or inactive" {
			t.Fatalf("unexpected result: %+v", out)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 4, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"message": 7}}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("expected -32602, got %+v", res)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 5, "tools/call", map[string]any{}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("expected -32602, got %+v", res)
		}
	})

	t.Run("tool failure is in-band", func(t *testing.T) {
		res, err := e.HandleRequest(ctx, sess, p, request(t, 6, "tools/call", map[string]any{"name": "fail"}))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		out := callResult(t, res)
		if !out.IsError || !strings.Contains(out.Content[0].Text, "Tool execution failed: backend unavailable") {
			t.Fatalf("unexpected result: %+v", out)
		}
	})
}

func TestToolsCallBindsPrincipal(t *testing.T) {
	e, host := newEngine(t)
	ctx := context.Background()
	sess := initialized(t, e, "")

	res, err := e.HandleRequest(ctx, sess, mcpservice.Principal{UserID: "bob"}, request(t, 1, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"message": "x"}}))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	callResult(t, res)

	stored, _, err := host.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.UserID != "bob" {
		t.Fatalf("stored principal = %q, want bob", stored.UserID)
	}
	if _, err := e.LoadSession(ctx, sess.ID, "carol"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("bound session visible to another principal: %v", err)
	}
}

func TestToolsCallRateLimit(t *testing.T) {
	e, _ := newEngine(t, WithToolCallRateLimit(0.001, 2))
	ctx := context.Background()
	sess := initialized(t, e, "alice")
	other := initialized(t, e, "alice")
	p := mcpservice.Principal{UserID: "alice"}
	call := map[string]any{"name": "echo", "arguments": map[string]any{"message": "x"}}

	for i := range 2 {
		res, err := e.HandleRequest(ctx, sess, p, request(t, i, "tools/call", call))
		if err != nil {
			t.Fatalf("HandleRequest: %v", err)
		}
		callResult(t, res)
	}

	res, err := e.HandleRequest(ctx, sess, p, request(t, 3, "tools/call", call))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeRateLimited || res.Error.Message != "rate limit exceeded" {
		t.Fatalf("expected rate limit error, got %+v", res)
	}

	// Buckets are per session.
	res, err = e.HandleRequest(ctx, other, p, request(t, 4, "tools/call", call))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	callResult(t, res)

	// Other methods are not limited.
	res, err = e.HandleRequest(ctx, sess, p, request(t, 5, "tools/list", nil))
	if err != nil || res.Error != nil {
		t.Fatalf("tools/list after limit: %v %+v", err, res.Error)
	}
}

func TestDeleteSession(t *testing.T) {
	e, host := newEngine(t)
	ctx := context.Background()
	sess := initialized(t, e, "alice")

	if err := e.DeleteSession(ctx, sess); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if host.Len() != 0 {
		t.Fatalf("session still stored")
	}
	if err := e.DeleteSession(ctx, sess); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}
