package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// openApp migrates; reaching fn means the schema is current.
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.eng.Store().Ping(ctx); err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{
						"driver": g.settings.Store.Driver,
						"status": "migrated",
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", g.settings.Store.Driver)
				return nil
			})
		},
	}
}
