// Package wellknown holds documents served under /.well-known/.
package wellknown

import "net/url"

const protectedResourcePrefix = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 document describing how to obtain
// tokens for the MCP endpoint. Only the members this server can fill are
// present.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// NewProtectedResourceMetadata describes resource as protected by issuer.
// Tokens are accepted in the Authorization header only.
func NewProtectedResourceMetadata(resource *url.URL, name, issuer, jwksURI string, scopes []string) ProtectedResourceMetadata {
	doc := ProtectedResourceMetadata{
		Resource:               resource.String(),
		JwksURI:                jwksURI,
		ScopesSupported:        scopes,
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           name,
	}
	if issuer != "" {
		doc.AuthorizationServers = []string{issuer}
	}
	return doc
}

// ProtectedResourceURL returns where the metadata for resource is published:
// the well-known prefix inserted between the host and the resource path.
func ProtectedResourceURL(resource *url.URL) *url.URL {
	return &url.URL{
		Scheme: resource.Scheme,
		Host:   resource.Host,
		Path:   protectedResourcePrefix + resource.Path,
	}
}
