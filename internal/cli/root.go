// Package cli implements the graflow command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/graflow"
)

// Exit codes returned by the graflow binary.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitNotFound  = 2
	ExitForbidden = 3
	ExitThrottled = 4
	ExitConflict  = 5
)

// globals holds the persistent flags and the settings resolved from them.
type globals struct {
	v          *viper.Viper
	configPath string
	json       bool
	subject    string
	staff      bool
	settings   *Settings
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	g := &globals{v: newViper()}

	cmd := &cobra.Command{
		Use:   "graflow",
		Short: "graflow - durable, resumable flow runs",
		Long: `graflow manages flow types and flow runs backed by a persistent store.

Runs advance until they complete, fail or pause at an interrupt; a paused
run is resumed with "graflow runs resume".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			s, err := loadSettings(g.v, g.configPath)
			if err != nil {
				return err
			}
			g.settings = s
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a YAML config file")
	pf.String("store", "sqlite", "Store driver: memory, sqlite or postgres")
	pf.String("dsn", "file:graflow.db", "Store connection string")
	pf.String("redis", "", "Redis address for the node cache and long-term store")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.BoolVar(&g.json, "json", false, "Output in JSON format")
	pf.StringVar(&g.subject, "subject", "", "Caller identity; empty calls anonymously")
	pf.BoolVar(&g.staff, "staff", false, "Call as staff")

	_ = g.v.BindPFlag("store.driver", pf.Lookup("store"))
	_ = g.v.BindPFlag("store.dsn", pf.Lookup("dsn"))
	_ = g.v.BindPFlag("redis.addr", pf.Lookup("redis"))
	_ = g.v.BindPFlag("log.level", pf.Lookup("log-level"))

	cmd.AddCommand(
		newMigrateCommand(g),
		newFlowTypesCommand(g),
		newRunsCommand(g),
		newCacheCommand(g),
		newReapCommand(g),
	)
	return cmd
}

// withApp opens an app, runs fn with the caller identity on ctx and closes
// the app.
func (g *globals) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, g.settings)
	if err != nil {
		return err
	}
	runErr := fn(caller(ctx, g.subject, g.staff), a)
	if err := a.close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// ExitCode prints err and maps it to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	switch {
	case errors.Is(err, graflow.ErrRunNotFound),
		errors.Is(err, graflow.ErrFlowTypeNotFound),
		errors.Is(err, graflow.ErrCheckpointNotFound):
		return ExitNotFound
	case errors.Is(err, graflow.ErrForbidden):
		return ExitForbidden
	case errors.Is(err, graflow.ErrThrottled):
		return ExitThrottled
	case errors.Is(err, graflow.ErrStateConflict),
		errors.Is(err, graflow.ErrFlowTypeExists),
		errors.Is(err, graflow.ErrLatestConflict):
		return ExitConflict
	default:
		return ExitFailure
	}
}
