package records

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/google/go-cmp/cmp"
)

func newTestDispatcher(t *testing.T) *mcpservice.Dispatcher {
	t.Helper()
	reg, err := mcpservice.NewRegistry(Tools(newTestStore(t))...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return mcpservice.NewDispatcher(reg)
}

func call(t *testing.T, d *mcpservice.Dispatcher, user, name, args string) (string, bool) {
	t.Helper()
	res, err := d.CallTool(context.Background(), mcpservice.Principal{UserID: user, SessionID: "s"}, name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res.Content[0].Text, res.IsError
}

func TestRecordToolsRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)

	out, isErr := call(t, d, "alice", "record_create", `{"model":"res.partner","fields":{"name":"Acme"}}`)
	if isErr {
		t.Fatalf("create failed: %s", out)
	}
	var rec Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	out, isErr = call(t, d, "alice", "record_update", `{"model":"res.partner","id":"`+rec.ID+`","active":false}`)
	if isErr {
		t.Fatalf("update failed: %s", out)
	}

	out, _ = call(t, d, "alice", "record_search", `{"model":"res.partner"}`)
	var res searchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 0 || res.Records == nil {
		t.Fatalf("inactive record returned: %s", out)
	}

	out, _ = call(t, d, "alice", "record_search", `{"model":"res.partner","include_inactive":true}`)
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected inactive record: %s", out)
	}

	out, isErr = call(t, d, "alice", "record_unlink", `{"model":"res.partner","id":"`+rec.ID+`"}`)
	if isErr || !strings.Contains(out, `"deleted":true`) {
		t.Fatalf("unlink: %s", out)
	}

	out, isErr = call(t, d, "alice", "record_get", `{"model":"res.partner","id":"`+rec.ID+`"}`)
	if !isErr || !strings.HasPrefix(out, "Tool execution failed: records: record not found") {
		t.Fatalf("get after unlink: %s", out)
	}
}

func TestRecordSearchProjectsFields(t *testing.T) {
	d := newTestDispatcher(t)
	if out, isErr := call(t, d, "alice", "record_create", `{"model":"res.partner","fields":{"name":"Acme","email":"a@acme.test","city":"Oslo"}}`); isErr {
		t.Fatalf("create failed: %s", out)
	}

	out, isErr := call(t, d, "alice", "record_search", `{"model":"res.partner","fields":["name","phone"]}`)
	if isErr {
		t.Fatalf("search failed: %s", out)
	}
	var res searchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected one record: %s", out)
	}
	if diff := cmp.Diff(map[string]any{"name": "Acme"}, res.Records[0].Fields); diff != "" {
		t.Fatalf("projected fields mismatch (-want +got):\n%s", diff)
	}

	out, _ = call(t, d, "alice", "record_search", `{"model":"res.partner"}`)
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(res.Records[0].Fields); n != 3 {
		t.Fatalf("unprojected search returned %d fields, want 3: %s", n, out)
	}
}

func TestRecordToolsRequirePrincipal(t *testing.T) {
	d := newTestDispatcher(t)
	out, isErr := call(t, d, "", "record_search", `{"model":"note"}`)
	if !isErr || !strings.Contains(out, "authenticated user required") {
		t.Fatalf("anonymous search: %q", out)
	}
}

func TestRecordToolsListing(t *testing.T) {
	d := newTestDispatcher(t)
	tools := d.ListTools(context.Background())
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		a := tool.Annotations
		if a == nil {
			t.Fatalf("%s has no annotations", tool.Name)
		}
		switch tool.Name {
		case "record_search", "record_get":
			if a.ReadOnlyHint == nil || !*a.ReadOnlyHint {
				t.Fatalf("%s should be read-only", tool.Name)
			}
		case "record_unlink":
			if !strings.HasSuffix(tool.Description, mcpservice.DefaultConsentMessage) {
				t.Fatalf("unlink should require consent: %q", tool.Description)
			}
			if a.DestructiveHint == nil || !*a.DestructiveHint {
				t.Fatalf("unlink should be destructive")
			}
		}
	}
}

func TestRecordToolsValidateArguments(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), mcpservice.Principal{UserID: "alice"}, "record_search", json.RawMessage(`{"model":"x","limit":0}`))
	if !errors.Is(err, mcpservice.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for limit=0, got %v", err)
	}
	_, err = d.CallTool(context.Background(), mcpservice.Principal{UserID: "alice"}, "record_create", json.RawMessage(`{"model":"x"}`))
	if !errors.Is(err, mcpservice.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for missing fields, got %v", err)
	}
}
