package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-toolhost/auth"
	"github.com/ggoodman/mcp-toolhost/internal/config"
	"github.com/ggoodman/mcp-toolhost/streaminghttp"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over streamable HTTP",
	Long: `Serve MCP over streamable HTTP at the path of MCP_PUBLIC_URL.

Bearer tokens are validated against MCP_AUTH_ISSUER (discovery, or
MCP_AUTH_JWKS_URL when set). Without an issuer, MCP_DEV_TOKENS maps opaque
tokens to users. With neither, every request is anonymous.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides MCP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return fail("build server: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("toolhost.close.fail", slog.String("err", err.Error()))
		}
	}()

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return fail("configure auth: %w", err)
	}

	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithServerName(cfg.ServerName),
	}
	if cfg.AllowAnonymous {
		opts = append(opts, streaminghttp.WithAnonymousAccess())
	}
	h, err := streaminghttp.New(cfg.PublicURL, a.server, authenticator, opts...)
	if err != nil {
		return fail("create http handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("toolhost.serve.start", slog.String("addr", cfg.Addr), slog.String("public_url", cfg.PublicURL))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fail("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fail("shutdown: %w", err)
	}
	log.Info("toolhost.serve.stop")
	return nil
}

// newAuthenticator returns nil when no credentials are configured.
func newAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	if cfg.AuthIssuer != "" {
		var opts []auth.AccessTokenAuthOption
		if scopes := cfg.ScopeList(); len(scopes) > 0 {
			opts = append(opts, auth.WithRequiredScopes(scopes...))
		}
		if cfg.AuthJWKSURL != "" {
			return auth.NewFromJWKS(ctx, cfg.AuthIssuer, cfg.AuthJWKSURL, cfg.Audience(), opts...)
		}
		return auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.Audience(), opts...)
	}

	toks, err := cfg.DevTokenMap()
	if err != nil {
		return nil, err
	}
	if len(toks) > 0 {
		log.Warn("toolhost.auth.dev_tokens", slog.Int("count", len(toks)))
		return auth.NewStaticTokens(toks), nil
	}

	log.Warn("toolhost.auth.disabled")
	return nil, nil
}
