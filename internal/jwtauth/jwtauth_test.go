package jwtauth

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

const testAudience = "https://api.example.com/mcp"

type mockIssuer struct {
	srv    *httptest.Server
	issuer string
	key    *rsa.PrivateKey
	kid    string
}

// newMockIssuer serves an OIDC discovery document and a JWKS containing a
// freshly generated RSA key. Entries in meta override the discovery document.
func newMockIssuer(t *testing.T, meta map[string]any) *mockIssuer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	m := &mockIssuer{key: pk, kid: "test-key"}

	jwks, err := json.Marshal(struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: m.kid, Algorithm: "RS256", Use: "sig"}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + "/keys",
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
			"scopes_supported":         []string{"openid", "mcp:tools"},
		}
		for k, v := range meta {
			doc[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockIssuer) sign(t *testing.T, typ string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = m.kid
	if typ != "" {
		tok.Header["typ"] = typ
	}
	s, err := tok.SignedString(m.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (m *mockIssuer) claims(overrides jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss":   m.issuer,
		"sub":   "user-123",
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "mcp:tools mcp:read",
	}
	for k, v := range overrides {
		c[k] = v
	}
	return c
}

func testConfig(issuer string, audiences ...string) Config {
	cfg := DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audiences = audiences
	cfg.Leeway = 0
	return cfg
}

func TestDiscoveryHappyPath(t *testing.T) {
	m := newMockIssuer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := NewFromDiscovery(ctx, testConfig(m.issuer, testAudience))
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}

	p, err := v.Validate(ctx, m.sign(t, "at+jwt", m.claims(nil)))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.UserID() != "user-123" {
		t.Fatalf("sub = %q, want user-123", p.UserID())
	}
	if diff := cmp.Diff([]string{"mcp:tools", "mcp:read"}, p.Scopes()); diff != "" {
		t.Fatalf("scopes mismatch (-want +got):\n%s", diff)
	}
	var out struct {
		Scope string `json:"scope"`
	}
	if err := p.Claims(&out); err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if out.Scope != "mcp:tools mcp:read" {
		t.Fatalf("scope claim = %q", out.Scope)
	}

	want := Metadata{
		Issuer:                m.issuer,
		JWKSURI:               m.issuer + "/keys",
		AuthorizationEndpoint: m.issuer + "/oauth2/auth",
		TokenEndpoint:         m.issuer + "/oauth2/token",
		ScopesSupported:       []string{"openid", "mcp:tools"},
	}
	if diff := cmp.Diff(want, v.Metadata()); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoveryMissingJWKS(t *testing.T) {
	m := newMockIssuer(t, map[string]any{"jwks_uri": ""})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := NewFromDiscovery(ctx, testConfig(m.issuer, testAudience)); err == nil {
		t.Fatalf("expected discovery without jwks_uri to fail")
	}
}

func TestConfigValidation(t *testing.T) {
	m := newMockIssuer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no issuer", cfg: testConfig("", testAudience)},
		{name: "no audience", cfg: testConfig(m.issuer)},
		{name: "empty audience", cfg: testConfig(m.issuer, "")},
		{name: "alg none", cfg: func() Config {
			c := testConfig(m.issuer, testAudience)
			c.AllowedAlgs = []string{"none"}
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStatic(ctx, tt.cfg, m.issuer+"/keys"); err == nil {
				t.Fatalf("expected configuration error")
			}
		})
	}
	if _, err := NewStatic(ctx, testConfig(m.issuer, testAudience), ""); err == nil {
		t.Fatalf("expected missing jwks uri to fail")
	}
}

func TestValidateRejections(t *testing.T) {
	m := newMockIssuer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extraAudience := "http://localhost:8080/mcp"
	cfg := testConfig(m.issuer, testAudience, extraAudience)
	cfg.RequiredScopes = []string{"mcp:tools", "mcp:admin"}
	strict, err := NewStatic(ctx, cfg, m.issuer+"/keys")
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	cfg.AnyScope = true
	lenient, err := NewStatic(ctx, cfg, m.issuer+"/keys")
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	tests := []struct {
		name    string
		v       *Validator
		typ     string
		claims  jwt.MapClaims
		wantErr error
	}{
		{name: "all scopes required", v: strict, typ: "at+jwt", claims: m.claims(nil), wantErr: ErrInsufficientScope},
		{name: "any scope suffices", v: lenient, typ: "at+jwt", claims: m.claims(nil)},
		{name: "audience array", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"aud": []string{"https://other", testAudience}})},
		{name: "additional audience", v: lenient, typ: "application/at+jwt", claims: m.claims(jwt.MapClaims{"aud": extraAudience})},
		{name: "unknown audience", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"aud": "https://unknown"}), wantErr: ErrUnauthorized},
		{name: "wrong typ", v: lenient, typ: "JWT", claims: m.claims(nil), wantErr: ErrUnauthorized},
		{name: "issuer mismatch", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"iss": "https://evil.example.com"}), wantErr: ErrUnauthorized},
		{name: "expired", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}), wantErr: ErrUnauthorized},
		{name: "missing sub", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"sub": ""}), wantErr: ErrUnauthorized},
		{name: "iat in future", v: lenient, typ: "at+jwt", claims: m.claims(jwt.MapClaims{"iat": time.Now().Add(time.Hour).Unix()}), wantErr: ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.v.Validate(ctx, m.sign(t, tt.typ, tt.claims))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := lenient.Validate(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty token: want ErrUnauthorized, got %v", err)
	}
	if _, err := lenient.Validate(ctx, "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("garbage token: want ErrUnauthorized, got %v", err)
	}
}

func TestValidateWithoutTypRequirement(t *testing.T) {
	m := newMockIssuer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(m.issuer, testAudience)
	cfg.RequireATType = false
	v, err := NewStatic(ctx, cfg, m.issuer+"/keys")
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	if _, err := v.Validate(ctx, m.sign(t, "JWT", m.claims(nil))); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
