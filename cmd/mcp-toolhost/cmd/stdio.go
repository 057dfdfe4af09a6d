package cmd

import (
	"log/slog"

	"github.com/ggoodman/mcp-toolhost/stdio"
	"github.com/spf13/cobra"
)

var stdioUser string

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve one MCP client over stdin/stdout",
	Long: `Serve one MCP client over stdin/stdout, one JSON-RPC message per line.

The principal is the OS user unless --user or MCP_STDIO_USER is set.`,
	Args: cobra.NoArgs,
	RunE: runStdio,
}

func init() {
	stdioCmd.Flags().StringVar(&stdioUser, "user", "", "principal user ID (overrides MCP_STDIO_USER)")
}

func runStdio(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return fail("build server: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("toolhost.close.fail", slog.String("err", err.Error()))
		}
	}()

	opts := []stdio.Option{
		stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
		stdio.WithLogger(log),
	}
	user := stdioUser
	if user == "" {
		user = cfg.StdioUser
	}
	if user != "" {
		opts = append(opts, stdio.WithUserID(user))
	}

	if err := stdio.NewHandler(a.server, opts...).Serve(ctx); err != nil && ctx.Err() == nil {
		return fail("serve stdio: %w", err)
	}
	return nil
}
