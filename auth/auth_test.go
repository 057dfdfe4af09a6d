package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
)

func TestStaticTokens(t *testing.T) {
	a := NewStaticTokens(map[string]string{
		"dev-token": "alice",
		"other":     "bob",
		"":          "nobody",
		"orphan":    "",
	})
	ctx := context.Background()

	tests := []struct {
		tok     string
		want    string
		wantErr bool
	}{
		{tok: "dev-token", want: "alice"},
		{tok: "other", want: "bob"},
		{tok: "dev-token-2", wantErr: true},
		{tok: "", wantErr: true},
		{tok: "orphan", wantErr: true},
	}
	for _, tt := range tests {
		ui, err := a.CheckAuthentication(ctx, tt.tok)
		if tt.wantErr {
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("token %q: want ErrUnauthorized, got %v", tt.tok, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("token %q: %v", tt.tok, err)
		}
		if ui.UserID() != tt.want {
			t.Fatalf("token %q: user = %q, want %q", tt.tok, ui.UserID(), tt.want)
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := ui.Claims(&claims); err != nil || claims.Sub != tt.want {
			t.Fatalf("claims = %+v, err = %v", claims, err)
		}
	}
}

type jwksServer struct {
	url string
	key *rsa.PrivateKey
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	body, err := json.Marshal(struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return &jwksServer{url: srv.URL + "/keys", key: pk}
}

func (s *jwksServer) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	tok.Header["typ"] = "at+jwt"
	out, err := tok.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out
}

func TestJWTAuthenticatorErrorMapping(t *testing.T) {
	const issuer = "https://issuer.example"
	const audience = "https://mcp.example/mcp"
	srv := newJWKSServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewFromJWKS(ctx, issuer, srv.url, audience, WithRequiredScopes("mcp:tools"), WithLeeway(0))
	if err != nil {
		t.Fatalf("NewFromJWKS: %v", err)
	}

	base := func(scope string) jwt.MapClaims {
		return jwt.MapClaims{
			"iss":   issuer,
			"sub":   "alice",
			"aud":   audience,
			"exp":   time.Now().Add(time.Hour).Unix(),
			"scope": scope,
		}
	}

	ui, err := a.CheckAuthentication(ctx, srv.token(t, base("mcp:tools")))
	if err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
	if ui.UserID() != "alice" {
		t.Fatalf("user = %q, want alice", ui.UserID())
	}

	if _, err := a.CheckAuthentication(ctx, srv.token(t, base("mcp:read"))); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("missing scope: want ErrInsufficientScope, got %v", err)
	}

	wrongAud := base("mcp:tools")
	wrongAud["aud"] = "https://elsewhere"
	if _, err := a.CheckAuthentication(ctx, srv.token(t, wrongAud)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong audience: want ErrUnauthorized, got %v", err)
	}

	want := ResourceMetadata{Issuer: issuer, JWKSURL: srv.url}
	if diff := cmp.Diff(want, a.ResourceMetadata()); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestAdditionalAudiences(t *testing.T) {
	const issuer = "https://issuer.example"
	srv := newJWKSServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewFromJWKS(ctx, issuer, srv.url, "https://mcp.example/mcp", WithAdditionalAudiences("http://localhost:8080/mcp"))
	if err != nil {
		t.Fatalf("NewFromJWKS: %v", err)
	}
	tok := srv.token(t, jwt.MapClaims{
		"iss": issuer,
		"sub": "bob",
		"aud": "http://localhost:8080/mcp",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := a.CheckAuthentication(ctx, tok); err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
}

func TestConstructorsRequireAudience(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFromJWKS(ctx, "https://issuer.example", "https://issuer.example/keys", ""); err == nil {
		t.Fatalf("NewFromJWKS accepted an empty audience")
	}
	if _, err := NewFromDiscovery(ctx, "https://issuer.example", ""); err == nil {
		t.Fatalf("NewFromDiscovery accepted an empty audience")
	}
}
