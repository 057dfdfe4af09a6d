// Package auth provides the bearer token authentication used by the
// streaming HTTP transport.
//
// An Authenticator validates a bearer token string and returns a UserInfo
// (or an error). The transport extracts the token from the request and maps
// the sentinel errors into RFC 6750 challenges.
//
// # Access Token Authentication
//
// NewFromDiscovery validates RFC 9068 access tokens using OpenID Connect
// discovery to obtain the issuer's JWKS. NewFromJWKS skips discovery when
// the key set URL is known.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://mcp.example/mcp",
//	    auth.WithRequiredScopes("mcp:tools"),
//	)
//	if err != nil { log.Fatal(err) }
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches. By default only RS256 is accepted.
//
// # Development tokens
//
// NewStaticTokens maps fixed opaque tokens to user IDs.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s).
package auth
