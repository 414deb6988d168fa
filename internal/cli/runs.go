package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
)

func newRunsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Create, resume and inspect flow runs",
	}
	cmd.AddCommand(
		newRunsCreateCommand(g),
		newRunsResumeCommand(g),
		newRunsStateCommand(g),
		newRunsCancelCommand(g),
		newRunsDeleteCommand(g),
		newRunsListCommand(g),
	)
	return cmd
}

// runView is the JSON shape of a run result.
type runView struct {
	Run        *flow.Run      `json:"run"`
	PausePoint string         `json:"pause_point,omitempty"`
	State      map[string]any `json:"state,omitempty"`
}

func (g *globals) printRun(w io.Writer, run *flow.Run, pausePoint string, state map[string]any) error {
	if g.json {
		return printJSON(w, runView{Run: run, PausePoint: pausePoint, State: state})
	}
	fmt.Fprintf(w, "ID:      %s\n", run.ID)
	fmt.Fprintf(w, "Type:    %s/%s@%s\n", run.Namespace, run.Type, run.Version)
	fmt.Fprintf(w, "Status:  %s\n", run.Status)
	if pausePoint != "" {
		fmt.Fprintf(w, "Paused:  %s\n", pausePoint)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:   %s\n", run.ErrorMessage)
	}
	if len(state) > 0 {
		b, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "State:\n%s\n", b)
	}
	return nil
}

func parseData(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}
	return m, nil
}

func parseRunID(s string) (id.FlowID, error) {
	runID, err := id.ParseFlowID(s)
	if err != nil {
		return id.FlowID{}, fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return runID, nil
}

func newRunsCreateCommand(g *globals) *cobra.Command {
	var (
		p    flow.CreateParams
		data string
	)
	cmd := &cobra.Command{
		Use:   "create <namespace> <type>",
		Short: "Create a run and execute it up to its first pause",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := parseData(data)
			if err != nil {
				return err
			}
			p.Namespace, p.Type = args[0], args[1]
			p.OwnerID = g.subject
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.eng.CreateRun(ctx, p, initial)
				if err != nil {
					return err
				}
				return g.printRun(cmd.OutOrStdout(), res.Run, res.PausePoint, res.State)
			})
		},
	}
	cmd.Flags().StringVar(&p.Version, "version", "", "Flow type version (default: latest)")
	cmd.Flags().StringVar(&p.DisplayName, "display-name", "", "Run display name")
	cmd.Flags().StringVar(&data, "data", "", "JSON object submitted when the run first pauses")
	return cmd
}

func newRunsResumeCommand(g *globals) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Submit data to a paused run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			submitted, err := parseData(data)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.eng.SubmitRun(ctx, runID, submitted)
				if err != nil {
					return err
				}
				return g.printRun(cmd.OutOrStdout(), res.Run, res.PausePoint, res.State)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "{}", "JSON object answering the pending interrupt")
	return cmd
}

func newRunsStateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "state <run-id>",
		Short: "Show the latest state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				in, err := a.eng.RunState(ctx, runID)
				if err != nil {
					return err
				}
				return g.printRun(cmd.OutOrStdout(), in.Run, in.PausePoint, in.State)
			})
		},
	}
}

func newRunsCancelCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				run, err := a.eng.CancelRun(ctx, runID)
				if err != nil {
					return err
				}
				return g.printRun(cmd.OutOrStdout(), run, "", nil)
			})
		},
	}
}

func newRunsDeleteCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Hide a run from listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.eng.DeleteRun(ctx, runID); err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": runID.String()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", runID)
				return nil
			})
		},
	}
}

func newRunsListCommand(g *globals) *cobra.Command {
	var (
		opts     flow.ListOpts
		statuses []string
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Only staff see other subjects' runs.
			if !g.staff || !all {
				opts.OwnerID = g.subject
			}
			opts.ExcludeCancelled = true
			for _, s := range statuses {
				opts.Statuses = append(opts.Statuses, flow.Status(s))
			}
			return g.withApp(cmd, func(ctx context.Context, a *app) error {
				runs, err := a.eng.Flows().List(ctx, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs found.")
					return nil
				}
				tw := newTable(out, "ID", "TYPE", "VERSION", "STATUS", "CREATED", "RESUMED")
				for _, r := range runs {
					row(tw, r.ID, r.Namespace+"/"+r.Type, r.Version, r.Status, formatTime(&r.CreatedAt), formatTime(r.LastResumedAt))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "Filter by namespace")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Filter by flow type")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of runs")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")
	cmd.Flags().BoolVar(&all, "all", false, "List every subject's runs (staff only)")
	return cmd
}
