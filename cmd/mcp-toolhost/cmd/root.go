package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/mcp-toolhost/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log *slog.Logger

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mcp-toolhost",
	Short: "MCP server exposing host tools",
	Long: `mcp-toolhost serves a registry of tools over the Model Context Protocol.

Configuration is read from MCP_* environment variables. Logs go to stderr.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		lvl, err := c.SlogLevel()
		if err != nil {
			return err
		}
		cfg = c
		log = newLogger(c.LogFormat, lvl)
		return nil
	},
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides MCP_LOG_LEVEL)")
	rootCmd.AddCommand(serveCmd, stdioCmd, toolsCmd)
}

func newLogger(format string, lvl slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fail(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	log.Error("toolhost.fail", slog.String("err", err.Error()))
	return err
}
