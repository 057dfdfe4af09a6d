package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ggoodman/mcp-toolhost/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of the RFC 9068 access
// token authenticator (scopes, algorithms, leeway, etc.).
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = slices.Clone(scopes)
		c.AnyScope = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = slices.Clone(scopes)
		c.AnyScope = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.AllowedAlgs = slices.Clone(algs) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts tokens minted for further audiences, for
// example a localhost endpoint during development.
func WithAdditionalAudiences(aud ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Audiences = append(c.Audiences, aud...) }
}

// WithoutTypeCheck accepts tokens lacking the RFC 9068 "at+jwt" typ header.
// Some authorization servers issue plain JWTs as access tokens.
func WithoutTypeCheck() AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.RequireATType = false }
}

// JWTAuthenticator verifies JWT access tokens.
type JWTAuthenticator struct {
	v *jwtauth.Validator
}

var (
	_ Authenticator    = (*JWTAuthenticator)(nil)
	_ MetadataProvider = (*JWTAuthenticator)(nil)
)

// NewFromDiscovery returns an Authenticator that verifies RFC 9068 JWT access
// tokens, locating the issuer's JWKS through OpenID Connect discovery.
// audience is typically the public URL of the MCP endpoint.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...AccessTokenAuthOption) (*JWTAuthenticator, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audiences = []string{audience}
	for _, opt := range opts {
		opt(&cfg)
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JWTAuthenticator{v: v}, nil
}

// NewFromJWKS is like NewFromDiscovery but uses a known JWKS URL instead of
// discovery.
func NewFromJWKS(ctx context.Context, issuer, jwksURL, audience string, opts ...AccessTokenAuthOption) (*JWTAuthenticator, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audiences = []string{audience}
	for _, opt := range opts {
		opt(&cfg)
	}
	v, err := jwtauth.NewStatic(ctx, cfg, jwksURL)
	if err != nil {
		return nil, err
	}
	return &JWTAuthenticator{v: v}, nil
}

// CheckAuthentication validates tok. Errors wrap ErrUnauthorized or
// ErrInsufficientScope.
func (a *JWTAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	p, err := a.v.Validate(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return p, nil
}

// ResourceMetadata reports the issuer and key set used for validation.
func (a *JWTAuthenticator) ResourceMetadata() ResourceMetadata {
	m := a.v.Metadata()
	return ResourceMetadata{
		Issuer:          m.Issuer,
		JWKSURL:         m.JWKSURI,
		ScopesSupported: m.ScopesSupported,
	}
}
