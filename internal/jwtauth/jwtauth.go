// Package jwtauth validates RFC 9068 JWT access tokens against an issuer's
// JWKS, found either through OpenID Connect discovery or configured directly.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy; callers should respond with HTTP 403 where relevant.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// Audiences lists the accepted "aud" values. A token is accepted when its
	// audience intersects this set.
	Audiences      []string
	RequiredScopes []string
	// AnyScope accepts a token carrying at least one of RequiredScopes
	// instead of all of them.
	AnyScope    bool
	AllowedAlgs []string
	Leeway      time.Duration
	// RequireATType enforces the RFC 9068 "typ" header (at+jwt).
	RequireATType bool
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() Config {
	return Config{
		AllowedAlgs:   []string{"RS256"},
		Leeway:        60 * time.Second,
		RequireATType: true,
	}
}

func (c Config) validate() error {
	if c.Issuer == "" {
		return errors.New("jwtauth: issuer is required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("jwtauth: at least one audience is required")
	}
	if slices.Contains(c.Audiences, "") {
		return errors.New("jwtauth: empty audience entry")
	}
	if slices.Contains(c.AllowedAlgs, "none") {
		return errors.New("jwtauth: alg none is never allowed")
	}
	return nil
}

// Metadata is what the resource server learned about its authorization
// server. It is advertised to clients and never used for validation.
type Metadata struct {
	Issuer                string
	JWKSURI               string
	AuthorizationEndpoint string
	TokenEndpoint         string
	ScopesSupported       []string
}

// Principal is the validated subject of an access token.
type Principal struct {
	sub    string
	scopes []string
	claims jwt.MapClaims
}

// UserID returns the token subject.
func (p *Principal) UserID() string { return p.sub }

// Scopes returns the granted scopes.
func (p *Principal) Scopes() []string { return slices.Clone(p.scopes) }

// Claims decodes the raw token claims into ref.
func (p *Principal) Claims(ref any) error {
	b, err := json.Marshal(p.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Validator checks access tokens.
type Validator struct {
	cfg  Config
	keys jwt.Keyfunc
	meta Metadata
}

// NewFromDiscovery performs OIDC discovery on cfg.Issuer to locate the JWKS
// and returns a Validator whose keys are refreshed in the background for the
// lifetime of ctx.
func NewFromDiscovery(ctx context.Context, cfg Config) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwtauth: issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var doc struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Scopes        []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if doc.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	v, err := NewStatic(ctx, cfg, doc.JwksURI)
	if err != nil {
		return nil, err
	}
	if doc.Issuer != "" {
		v.cfg.Issuer = doc.Issuer
		v.meta.Issuer = doc.Issuer
	}
	v.meta.AuthorizationEndpoint = doc.Authorization
	v.meta.TokenEndpoint = doc.Token
	v.meta.ScopesSupported = slices.Clone(doc.Scopes)
	return v, nil
}

// NewStatic returns a Validator for a known issuer and JWKS URI without
// performing discovery.
func NewStatic(ctx context.Context, cfg Config, jwksURI string) (*Validator, error) {
	if jwksURI == "" {
		return nil, errors.New("jwtauth: jwks uri is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newValidator(cfg, kf.Keyfunc, Metadata{Issuer: cfg.Issuer, JWKSURI: jwksURI}), nil
}

func newValidator(cfg Config, keys jwt.Keyfunc, meta Metadata) *Validator {
	cfg.Audiences = slices.Clone(cfg.Audiences)
	cfg.RequiredScopes = slices.Clone(cfg.RequiredScopes)
	cfg.AllowedAlgs = slices.Clone(cfg.AllowedAlgs)
	return &Validator{cfg: cfg, keys: keys, meta: meta}
}

// Metadata returns the authorization server metadata.
func (v *Validator) Metadata() Metadata {
	m := v.meta
	m.ScopesSupported = slices.Clone(v.meta.ScopesSupported)
	return m
}

// Audiences returns the accepted audiences.
func (v *Validator) Audiences() []string { return slices.Clone(v.cfg.Audiences) }

// Validate verifies tok and returns its principal. Failures wrap
// ErrUnauthorized or ErrInsufficientScope.
func (v *Validator) Validate(ctx context.Context, tok string) (*Principal, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keys)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if v.cfg.RequireATType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], v.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if iat, ok := claims["iat"].(float64); ok {
		if time.Unix(int64(iat), 0).After(time.Now().Add(v.cfg.Leeway + 5*time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	if !scopesSatisfied(scopes, v.cfg.RequiredScopes, v.cfg.AnyScope) {
		return nil, ErrInsufficientScope
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &Principal{sub: sub, scopes: scopes, claims: claims}, nil
}

func scopesSatisfied(have, required []string, anyOf bool) bool {
	if len(required) == 0 {
		return true
	}
	if anyOf {
		return slices.ContainsFunc(required, func(s string) bool { return slices.Contains(have, s) })
	}
	for _, want := range required {
		if !slices.Contains(have, want) {
			return false
		}
	}
	return true
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
