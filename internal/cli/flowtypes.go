package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/graflow/flows/demo"
	"github.com/xraph/graflow/flowtype"
)

func newFlowTypesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "flowtypes",
		Aliases: []string{"ft"},
		Short:   "Manage registered flow types",
	}
	cmd.AddCommand(newFlowTypesListCommand(g), newFlowTypesSyncCommand(g))
	return cmd
}

func newFlowTypesListCommand(g *globals) *cobra.Command {
	var opts flowtype.ListOpts
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flow type versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				fts, err := a.eng.Registry().List(ctx, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, fts)
				}
				if len(fts) == 0 {
					fmt.Fprintln(out, "No flow types registered.")
					return nil
				}
				tw := newTable(out, "NAMESPACE", "TYPE", "VERSION", "LATEST", "ACTIVE", "EXECUTABLE")
				for _, ft := range fts {
					row(tw, ft.Namespace, ft.Type, ft.Version, ft.IsLatest, ft.IsActive, ft.Executable)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "Filter by namespace")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Filter by flow type")
	cmd.Flags().BoolVar(&opts.ActiveOnly, "active", false, "Only active versions")
	cmd.Flags().BoolVar(&opts.LatestOnly, "latest", false, "Only latest versions")
	return cmd
}

func newFlowTypesSyncCommand(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Register or update flow types from a definitions file",
		Long: `Sync reconciles the stored catalog with a YAML file holding a top-level
flow_types list. Without --file the sample flow types are synced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs := demo.Definitions()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defs, err = flowtype.LoadDefinitions(f)
				_ = f.Close()
				if err != nil {
					return err
				}
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.eng.Registry().Sync(ctx, defs); err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]int{"synced": len(defs)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d flow type(s)\n", len(defs))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML definitions file")
	return cmd
}
