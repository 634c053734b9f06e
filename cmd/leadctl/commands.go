package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/app"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/config"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Timeout    time.Duration
}

// NewRootCommand creates the leadctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "leadctl",
		Short:         "Operate the lead segmentation and automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config/config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "deadline for the whole command")

	cmd.AddCommand(newProcessDueCommand(opts))
	cmd.AddCommand(newRecomputeCommand(opts))
	cmd.AddCommand(newTriggerCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newCronCheckCommand())
	return cmd
}

// withApp loads config, builds the engine, and runs fn under the command
// deadline.
func withApp(opts *RootOptions, fn func(ctx context.Context, a *app.App) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadFromEnv(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
		defer cancel()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		a.Start()
		defer a.Close(context.WithoutCancel(ctx))

		out, err := fn(ctx, a)
		if out != nil {
			if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil && err == nil {
				err = werr
			}
		}
		return err
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProcessDueCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process-due",
		Short: "Claim and run due scheduled tasks once",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app.App) (any, error) {
			res, err := a.Queue.ProcessDueBatch(ctx, limit)
			if res == nil {
				return nil, err
			}
			return res, err
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", scheduler.DefaultBatchLimit, "maximum tasks to claim")
	return cmd
}

func newRecomputeCommand(opts *RootOptions) *cobra.Command {
	var orgID, segmentID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute one segment or every dynamic segment of an organization",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if (orgID == "") == (segmentID == "") {
				return fmt.Errorf("exactly one of --org or --segment is required")
			}
			return nil
		},
		RunE: withApp(opts, func(ctx context.Context, a *app.App) (any, error) {
			if segmentID != "" {
				id, err := uuid.Parse(segmentID)
				if err != nil {
					return nil, fmt.Errorf("invalid --segment: %w", err)
				}
				return a.Segments.UpdateMemberships(ctx, id)
			}
			id, err := uuid.Parse(orgID)
			if err != nil {
				return nil, fmt.Errorf("invalid --org: %w", err)
			}
			return a.Segments.RecomputeAll(ctx, id)
		}),
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&segmentID, "segment", "", "segment id")
	return cmd
}

func newTriggerCommand(opts *RootOptions) *cobra.Command {
	var leadID, data string
	cmd := &cobra.Command{
		Use:   "trigger <automation-id>",
		Short: "Run one automation now",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		automationID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid automation id: %w", err)
		}
		var lead *uuid.UUID
		if leadID != "" {
			id, err := uuid.Parse(leadID)
			if err != nil {
				return fmt.Errorf("invalid --lead: %w", err)
			}
			lead = &id
		}
		var triggerData map[string]any
		if data != "" {
			if err := json.Unmarshal([]byte(data), &triggerData); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
		}
		return withApp(opts, func(ctx context.Context, a *app.App) (any, error) {
			return a.Dispatcher.TriggerAutomation(ctx, automationID, lead, triggerData)
		})(c, args)
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead id the run acts on")
	cmd.Flags().StringVar(&data, "data", "", "trigger data as a JSON object")
	return cmd
}

func newPlanCommand(opts *RootOptions) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Enqueue time-based automation runs due in the last window",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app.App) (any, error) {
			p := automation.NewPlanner(a.Automations, a.Queue, a.Locks, window)
			return p.Plan(ctx, time.Now())
		}),
	}
	cmd.Flags().DurationVar(&window, "window", automation.DefaultPlanInterval, "how far back to look for occurrences")
	return cmd
}

type cronCheck struct {
	Expression string      `json:"expression"`
	Timezone   string      `json:"timezone"`
	Next       []time.Time `json:"next"`
}

func newCronCheckCommand() *cobra.Command {
	var tz string
	var count int
	var from string
	cmd := &cobra.Command{
		Use:   "cron-check <expression>",
		Short: "Validate a time_based schedule and print its next occurrences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, loc, err := automation.ParseSchedule(args[0], tz)
			if err != nil {
				return err
			}
			at := time.Now()
			if from != "" {
				if at, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			out := cronCheck{Expression: args[0], Timezone: loc.String()}
			at = at.In(loc)
			for i := 0; i < count; i++ {
				at = sched.Next(at)
				out.Next = append(out.Next, at)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default UTC)")
	cmd.Flags().IntVar(&count, "count", 5, "occurrences to print")
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start time (default now)")
	return cmd
}
