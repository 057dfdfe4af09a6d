package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the active tools",
	Long:  `List the tools a client would see, after the tool policy is applied.`,
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the full tools/list descriptors as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
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

	tools := a.dispatcher.ListTools(ctx)
	out := cmd.OutOrStdout()
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREAD-ONLY\tDESTRUCTIVE\tTITLE")
	for _, t := range tools {
		var readOnly, destructive bool
		if ann := t.Annotations; ann != nil {
			readOnly = ann.ReadOnlyHint != nil && *ann.ReadOnlyHint
			destructive = ann.DestructiveHint != nil && *ann.DestructiveHint
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", t.Name, readOnly, destructive, t.Title)
	}
	return tw.Flush()
}
