package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the node result cache",
	}
	cmd.AddCommand(newCacheStatsCommand(g), newCacheClearCommand(g))
	return cmd
}

func newCacheStatsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.eng.Cache().Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, st)
				}
				tw := newTable(out, "TOTAL", "ACTIVE", "EXPIRED")
				row(tw, st.Total, st.Active, st.Expired)
				return tw.Flush()
			})
		},
	}
}

func newCacheClearCommand(g *globals) *cobra.Command {
	var namespaces []string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached entries",
		Long: `Clear deletes the entries of each --namespace, given as "/"-separated
labels. Without --namespace every entry is deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns := make([][]string, 0, len(namespaces))
			for _, n := range namespaces {
				ns = append(ns, strings.Split(n, "/"))
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.eng.Cache().Clear(ctx, ns...); err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]any{"cleared": namespaces})
				}
				if len(ns) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d namespace(s)\n", len(ns))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&namespaces, "namespace", nil, "Namespace to clear (repeatable)")
	return cmd
}
