package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
)

// StaticTokens authenticates a fixed set of opaque bearer tokens. It is meant
// for development and tests; production deployments should validate signed
// access tokens with NewFromDiscovery or NewFromJWKS.
type StaticTokens struct {
	tokens map[string]string
}

// NewStaticTokens returns an Authenticator that maps each token to a user ID.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	cp := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		if tok != "" && user != "" {
			cp[tok] = user
		}
	}
	return &StaticTokens{tokens: cp}
}

// CheckAuthentication implements Authenticator.
func (s *StaticTokens) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	var match string
	for known, user := range s.tokens {
		// No early exit: every entry is compared.
		if subtle.ConstantTimeCompare([]byte(known), []byte(tok)) == 1 {
			match = user
		}
	}
	if match == "" {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return staticUser(match), nil
}

type staticUser string

func (u staticUser) UserID() string { return string(u) }

func (u staticUser) Claims(ref any) error {
	b, err := json.Marshal(map[string]string{"sub": string(u)})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
