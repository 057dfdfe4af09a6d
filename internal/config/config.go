// Package config loads the mcp-toolhost process configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/joeshaw/envdecode"
)

const (
	ModeStateful  = "stateful"
	ModeStateless = "stateless"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config is decoded from MCP_* environment variables. Redis connection
// settings are read separately by the redis-backed stores.
type Config struct {
	Addr          string `env:"MCP_ADDR,default=:8080"`
	PublicURL     string `env:"MCP_PUBLIC_URL,default=http://localhost:8080/mcp"`
	ServerName    string `env:"MCP_SERVER_NAME,default=mcp-toolhost"`
	ServerVersion string `env:"MCP_SERVER_VERSION,default=dev"`
	Instructions  string `env:"MCP_INSTRUCTIONS"`

	// ProtocolVersions is a comma separated list, newest first. Empty means
	// every version the server knows.
	ProtocolVersions string `env:"MCP_PROTOCOL_VERSIONS"`

	Mode         string `env:"MCP_MODE,default=stateful"`
	SessionStore string `env:"MCP_SESSION_STORE,default=memory"`
	SQLitePath   string `env:"MCP_SQLITE_PATH,default=mcp-sessions.db"`

	RecordStore     string `env:"MCP_RECORD_STORE,default=memory"`
	RecordCacheSize int    `env:"MCP_RECORD_CACHE_SIZE,default=10000"`

	ToolPolicy string `env:"MCP_TOOL_POLICY"`

	LogLevel  string `env:"MCP_LOG_LEVEL,default=info"`
	LogFormat string `env:"MCP_LOG_FORMAT,default=text"`

	AuthIssuer   string `env:"MCP_AUTH_ISSUER"`
	AuthAudience string `env:"MCP_AUTH_AUDIENCE"`
	AuthJWKSURL  string `env:"MCP_AUTH_JWKS_URL"`
	AuthScopes   string `env:"MCP_AUTH_SCOPES"`
	// DevTokens maps opaque tokens to users: "tok1=alice,tok2=bob".
	DevTokens      string `env:"MCP_DEV_TOKENS"`
	AllowAnonymous bool   `env:"MCP_ALLOW_ANONYMOUS,default=false"`

	ToolCallRPS   float64 `env:"MCP_TOOL_CALL_RPS,default=0"`
	ToolCallBurst int     `env:"MCP_TOOL_CALL_BURST,default=10"`

	StdioUser string `env:"MCP_STDIO_USER"`
}

// Load decodes the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeStateful, ModeStateless:
	default:
		errs = append(errs, fmt.Errorf("MCP_MODE: unknown mode %q", c.Mode))
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("MCP_SESSION_STORE: unknown store %q", c.SessionStore))
	}
	switch c.RecordStore {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("MCP_RECORD_STORE: unknown store %q", c.RecordStore))
	}
	if c.RecordCacheSize <= 0 {
		errs = append(errs, errors.New("MCP_RECORD_CACHE_SIZE: must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("MCP_LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("MCP_PUBLIC_URL: not an absolute URL: %q", c.PublicURL))
	}
	if c.AuthJWKSURL != "" && c.AuthIssuer == "" {
		errs = append(errs, errors.New("MCP_AUTH_JWKS_URL requires MCP_AUTH_ISSUER"))
	}
	if _, err := c.DevTokenMap(); err != nil {
		errs = append(errs, err)
	}
	if c.ToolCallRPS < 0 || c.ToolCallBurst <= 0 {
		errs = append(errs, errors.New("MCP_TOOL_CALL_RPS must be >= 0 and MCP_TOOL_CALL_BURST > 0"))
	}
	return errors.Join(errs...)
}

// Stateless reports whether sessions are disabled.
func (c *Config) Stateless() bool { return c.Mode == ModeStateless }

// ProtocolVersionList splits ProtocolVersions.
func (c *Config) ProtocolVersionList() []string { return splitList(c.ProtocolVersions) }

// ScopeList splits AuthScopes on commas or spaces.
func (c *Config) ScopeList() []string {
	return strings.Fields(strings.ReplaceAll(c.AuthScopes, ",", " "))
}

// Audience is the expected token audience, defaulting to the public URL.
func (c *Config) Audience() string {
	if c.AuthAudience != "" {
		return c.AuthAudience
	}
	return c.PublicURL
}

// DevTokenMap parses DevTokens.
func (c *Config) DevTokenMap() (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(c.DevTokens) {
		tok, user, ok := strings.Cut(pair, "=")
		tok, user = strings.TrimSpace(tok), strings.TrimSpace(user)
		if !ok || tok == "" || user == "" {
			return nil, fmt.Errorf("MCP_DEV_TOKENS: malformed entry %q, want token=user", pair)
		}
		out[tok] = user
	}
	return out, nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("MCP_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
