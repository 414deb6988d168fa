package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/graflow/reaper"
)

func newReapCommand(g *globals) *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete expired cache entries and store items",
		Long: `Reap runs every sweeper once and reports how many rows each removed.
With --watch it instead runs the sweepers on the configured sweep_schedule
until interrupted, optionally serving Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				if g.settings.SweepSchedule == "" {
					return errors.New("--watch requires a sweep_schedule")
				}
				return g.withApp(cmd, func(ctx context.Context, a *app) error {
					return watchReaper(ctx, a, metricsAddr)
				})
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				r := a.eng.Reaper()
				if r == nil {
					var err error
					r, err = reaper.New("@every 1m",
						[]reaper.Sweeper{reaper.CacheSweeper(a.eng.Cache()), reaper.StoreSweeper(a.eng.Longterm())},
						reaper.WithEmitter(a.eng.Extensions()),
						reaper.WithLogger(a.logger),
					)
					if err != nil {
						return err
					}
				}
				removed, err := r.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, removed)
				}
				names := make([]string, 0, len(removed))
				for n := range removed {
					names = append(names, n)
				}
				sort.Strings(names)
				tw := newTable(out, "SWEEPER", "REMOVED")
				for _, n := range names {
					row(tw, n, removed[n])
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Sweep on schedule until interrupted")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on this address while watching")
	return cmd
}

func watchReaper(ctx context.Context, a *app, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.eng.Start(ctx); err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.eng.Metrics(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", slog.String("addr", metricsAddr))
	}

	a.logger.Info("reaper watching", slog.String("schedule", a.eng.Graflow().Config().SweepSchedule))
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down")
	return nil
}
