package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAnyMessageClassification(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		typ     string
		wantErr bool
	}{
		{"request numeric id", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "request", false},
		{"request string id", `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`, "request", false},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification", false},
		{"null id is notification", `{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`, "notification", false},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response", false},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, "", true},
		{"request with result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`, "", true},
		{"response with both", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, "", true},
		{"empty response", `{"jsonrpc":"2.0","id":1}`, "", true},
		{"not json", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m AnyMessage
			err := json.Unmarshal([]byte(tt.in), &m)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tt.typ {
				t.Fatalf("Type() = %q, want %q", got, tt.typ)
			}
			if (m.AsRequest() == nil) != (tt.typ == "response") {
				t.Fatalf("AsRequest mismatch for %s", tt.typ)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want any
		str  string
	}{
		{`7`, int64(7), "7"},
		{`1.5`, 1.5, "1.5"},
		{`"abc"`, "abc", "abc"},
	}
	for _, tt := range tests {
		var id RequestID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, id.Value()); diff != "" {
			t.Fatalf("value mismatch (-want +got):\n%s", diff)
		}
		if id.String() != tt.str {
			t.Fatalf("String() = %q, want %q", id.String(), tt.str)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tt.in {
			t.Fatalf("round trip %s -> %s", tt.in, out)
		}
	}

	if err := json.Unmarshal([]byte(`{}`), new(RequestID)); err == nil {
		t.Fatalf("object id should be rejected")
	}
	out, _ := json.Marshal(NewRequestID(struct{}{}))
	if string(out) != "null" {
		t.Fatalf("nil id marshals as %s", out)
	}
}

func TestErrorResponseFrom(t *testing.T) {
	id := NewRequestID(3)

	wrapped := fmt.Errorf("dispatch: %w", NewError(ErrorCodeInvalidParams, "bad args"))
	resp := ErrorResponseFrom(id, wrapped)
	if resp.Error.Code != ErrorCodeInvalidParams || resp.Error.Message != "bad args" {
		t.Fatalf("unexpected error object: %+v", resp.Error)
	}

	resp = ErrorResponseFrom(id, errors.New("db password is hunter2"))
	if resp.Error.Code != ErrorCodeInternalError || resp.Error.Message != "internal error" {
		t.Fatalf("internal detail leaked: %+v", resp.Error)
	}

	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeInvalidRequest, "Missing mcp-session-id header", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Missing mcp-session-id header"},"id":null}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}
