package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-toolhost/mcp"
)

type deleteArgs struct {
	ID int `json:"id"`
}

type countResult struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		echoTool(WithReadOnly()),
		NewTool("delete", func(ctx context.Context, call *ToolCall, a deleteArgs) (any, error) {
			return "deleted", nil
		}, WithDestructive(true), WithConsent()),
		NewTool("boom", func(ctx context.Context, call *ToolCall, a struct{}) (any, error) {
			return nil, errors.New("database is on fire")
		}),
		NewTool("panic", func(ctx context.Context, call *ToolCall, a struct{}) (any, error) {
			panic("unexpected nil record")
		}),
		NewTool("count", func(ctx context.Context, call *ToolCall, a struct{}) (any, error) {
			return countResult{Count: 3, Label: "things"}, nil
		}),
		NewTool("whoami", func(ctx context.Context, call *ToolCall, a struct{}) (any, error) {
			return call.Principal.UserID + "@" + call.Principal.SessionID, nil
		}),
		NewTool("raw", func(ctx context.Context, call *ToolCall, a struct{}) (any, error) {
			return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "custom"}}, IsError: true}, nil
		}),
		NewTool("lenient", func(ctx context.Context, call *ToolCall, a echoArgs) (any, error) {
			return a.Message, nil
		}, WithAllowAdditionalProperties(true)),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func names(tools []mcp.Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 || res.Content[0].Type != mcp.ContentTypeText {
		t.Fatalf("expected single text block, got %+v", res)
	}
	return res.Content[0].Text
}

func TestListToolsDeterministicAndFiltered(t *testing.T) {
	d := NewDispatcher(testRegistry(t), WithVisibility(Deactivated("boom", "panic")))
	got := strings.Join(names(d.ListTools(context.Background())), ",")
	want := "count,delete,echo,lenient,raw,whoami"
	if got != want {
		t.Fatalf("ListTools = %s, want %s", got, want)
	}
	again := strings.Join(names(d.ListTools(context.Background())), ",")
	if again != got {
		t.Fatalf("ordering changed between calls: %s vs %s", got, again)
	}
}

func TestListToolsConsentMessage(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	for _, tool := range d.ListTools(context.Background()) {
		hasMsg := strings.HasSuffix(tool.Description, DefaultConsentMessage)
		if tool.Name == "delete" && !hasMsg {
			t.Fatalf("consent tool missing message: %q", tool.Description)
		}
		if tool.Name != "delete" && hasMsg {
			t.Fatalf("%s unexpectedly carries consent message", tool.Name)
		}
	}

	// The registry's descriptors are never modified.
	tool, _ := testRegistry(t).Lookup("delete")
	if strings.Contains(tool.Descriptor.Description, "IMPORTANT") {
		t.Fatalf("registry descriptor mutated")
	}
}

func TestListToolsPolicyOverrides(t *testing.T) {
	doc, err := ParsePolicy([]byte(`
consent:
  description_message: " [consent required]"
tools:
  delete:
    requires_consent: false
  echo:
    requires_consent: true
  count:
    active: false
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	p := NewPolicy()
	p.Replace(doc)
	d := NewDispatcher(testRegistry(t), WithVisibility(p))

	byName := map[string]mcp.Tool{}
	for _, tool := range d.ListTools(context.Background()) {
		byName[tool.Name] = tool
	}
	if _, ok := byName["count"]; ok {
		t.Fatalf("deactivated tool listed")
	}
	if strings.Contains(byName["delete"].Description, "consent") {
		t.Fatalf("policy should have lifted consent for delete: %q", byName["delete"].Description)
	}
	if !strings.HasSuffix(byName["echo"].Description, " [consent required]") {
		t.Fatalf("policy consent message missing: %q", byName["echo"].Description)
	}

	_, err = d.CallTool(context.Background(), Principal{}, "count", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("calling a deactivated tool: expected ErrToolNotFound, got %v", err)
	}

	p.Replace(nil)
	if len(d.ListTools(context.Background())) != 8 {
		t.Fatalf("resetting the policy should reactivate everything")
	}
}

func TestCallToolNotFound(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	res, err := d.CallTool(context.Background(), Principal{}, "nonexistent_tool", json.RawMessage(`{}`))
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
}

func TestCallToolInvalidArguments(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required", "echo", `{}`},
		{"wrong type", "echo", `{"message": 42}`},
		{"unknown field", "echo", `{"message": "hi", "extra": true}`},
		{"out of range", "echo", `{"message": "hi", "repeat": 9}`},
		{"not an object", "echo", `["hi"]`},
		{"wrong integer", "delete", `{"id": 1.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.CallTool(context.Background(), Principal{}, tt.tool, json.RawMessage(tt.args))
			if !errors.Is(err, ErrInvalidArguments) {
				t.Fatalf("expected ErrInvalidArguments, got res=%+v err=%v", res, err)
			}
		})
	}
}

func TestCallToolLenientAcceptsExtraFields(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	res, err := d.CallTool(context.Background(), Principal{}, "lenient", json.RawMessage(`{"message":"hi","extra":1}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := resultText(t, res); got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestCallToolExecutionFailures(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	tests := []struct {
		tool string
		want string
	}{
		{"boom", "Tool execution failed: database is on fire"},
		{"panic", "Tool execution failed: unexpected nil record"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res, err := d.CallTool(context.Background(), Principal{}, tt.tool, nil)
			if err != nil {
				t.Fatalf("execution failures must not surface as errors: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected IsError result")
			}
			if got := resultText(t, res); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallToolResultShapes(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	ctx := context.Background()

	res, err := d.CallTool(ctx, Principal{}, "echo", json.RawMessage(`{"message":"hello"}`))
	if err != nil || res.IsError {
		t.Fatalf("echo: res=%+v err=%v", res, err)
	}
	if got := resultText(t, res); got != "hello" {
		t.Fatalf("strings must be returned verbatim, got %q", got)
	}

	res, err = d.CallTool(ctx, Principal{}, "count", nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got := resultText(t, res); got != `{"count":3,"label":"things"}` {
		t.Fatalf("structured results must be JSON-encoded, got %q", got)
	}

	res, err = d.CallTool(ctx, Principal{}, "raw", json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if !res.IsError || resultText(t, res) != "custom" {
		t.Fatalf("CallToolResult should pass through: %+v", res)
	}
}

func TestCallToolRunsAsCaller(t *testing.T) {
	d := NewDispatcher(testRegistry(t))
	res, err := d.CallTool(context.Background(), Principal{UserID: "alice", SessionID: "s1"}, "whoami", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := resultText(t, res); got != "alice@s1" {
		t.Fatalf("principal not forwarded: %q", got)
	}
}

func TestDispatcherConcurrentUse(t *testing.T) {
	d := NewDispatcher(testRegistry(t), WithVisibility(NewPolicy()))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if n := len(d.ListTools(context.Background())); n != 8 {
					t.Errorf("ListTools returned %d tools", n)
					return
				}
				res, err := d.CallTool(context.Background(), Principal{}, "echo", json.RawMessage(`{"message":"x"}`))
				if err != nil || res.IsError {
					t.Errorf("CallTool: res=%+v err=%v", res, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestToolCallDecode(t *testing.T) {
	call := &ToolCall{Arguments: json.RawMessage(`{"message":"hi","bogus":1}`)}
	var a echoArgs
	if err := call.Decode(&a); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
	call = &ToolCall{}
	if err := call.Decode(&a); err != nil {
		t.Fatalf("empty arguments should decode to zero value: %v", err)
	}
}

func TestParsePolicyRejectsUnknownKeys(t *testing.T) {
	if _, err := ParsePolicy([]byte("tools:\n  echo:\n    enabled: false\n")); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	doc, err := ParsePolicy(nil)
	if err != nil {
		t.Fatalf("empty policy should parse: %v", err)
	}
	if len(doc.Tools) != 0 {
		t.Fatalf("unexpected tools: %+v", doc.Tools)
	}
}
