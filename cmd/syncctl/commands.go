package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Apurer/mfgsync/internal/app/bootstrap"
	"github.com/Apurer/mfgsync/internal/app/config"
	syncworkflows "github.com/Apurer/mfgsync/internal/domains/sync/adapters/workflows"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	syncports "github.com/Apurer/mfgsync/internal/domains/sync/ports"
	platformobservability "github.com/Apurer/mfgsync/internal/platform/observability"
)

type cli struct {
	out     io.Writer
	errOut  io.Writer
	durable bool
	timeout time.Duration
	load    func() (config.Config, error)
}

func newRootCommand(out, errOut io.Writer, load func() (config.Config, error)) *cobra.Command {
	c := &cli{out: out, errOut: errOut, load: load}
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Run ERP/MES sync cycles on demand",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().BoolVar(&c.durable, "durable", false, "start the cycle as a Temporal workflow instead of in-process")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", time.Hour, "overall deadline")
	root.AddCommand(c.runCommand(), c.scheduleCommand(), c.calendarCommand(), c.entitiesCommand())
	return root
}

func (c *cli) runCommand() *cobra.Command {
	var params domain.CycleParameters
	cmd := &cobra.Command{
		Use:   "run <entity>",
		Short: "Run one cycle for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withOrchestrator(cmd.Context(), func(ctx context.Context, _ *bootstrap.Components, o syncports.CycleOrchestrator) error {
				params.Trigger = domain.TriggerManual
				res, err := o.RunCycle(ctx, domain.EntityType(args[0]), params)
				if res != nil {
					if encErr := c.print(res); encErr != nil {
						return encErr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&params.Day, "day", "", "cycle day YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&params.From, "from", "", "range start YYYY-MM-DD (default day)")
	cmd.Flags().StringVar(&params.To, "to", "", "range end YYYY-MM-DD (default day)")
	cmd.Flags().BoolVar(&params.Snapshot, "snapshot", false, "write a snapshot batch")
	return cmd
}

func (c *cli) scheduleCommand() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "schedule <hourly|snapshot|daily>",
		Short: "Run every entity of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				when = parsed
			}
			return c.withOrchestrator(cmd.Context(), func(ctx context.Context, _ *bootstrap.Components, o syncports.CycleOrchestrator) error {
				report, err := o.RunSchedule(ctx, domain.Schedule(args[0]), when)
				if report != nil {
					if encErr := c.print(report); encErr != nil {
						return encErr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "trigger time in RFC3339 (default now)")
	return cmd
}

func (c *cli) calendarCommand() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Store the weekends of a month as holidays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at := time.Now()
			if month != "" {
				parsed, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("--month must be YYYY-MM: %w", err)
				}
				at = parsed.AddDate(0, 0, 14)
			}
			return c.withOrchestrator(cmd.Context(), func(ctx context.Context, components *bootstrap.Components, _ syncports.CycleOrchestrator) error {
				added, err := components.Schedules.RefreshCalendar(ctx, at)
				if err != nil {
					return err
				}
				return c.print(map[string]int{"added": added})
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month YYYY-MM (default current)")
	return cmd
}

func (c *cli) entitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the registered mapping tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOrchestrator(cmd.Context(), func(ctx context.Context, components *bootstrap.Components, _ syncports.CycleOrchestrator) error {
				type entity struct {
					Entity    domain.EntityType `json:"entity"`
					Database  string            `json:"database"`
					Schedules []domain.Schedule `json:"schedules"`
					Fields    int               `json:"fields"`
				}
				var out []entity
				for _, t := range components.Registry.Tables() {
					out = append(out, entity{Entity: t.Entity, Database: string(t.Database), Schedules: t.Schedules, Fields: len(t.Bindings)})
				}
				return c.print(out)
			})
		},
	}
}

func (c *cli) withOrchestrator(ctx context.Context, fn func(context.Context, *bootstrap.Components, syncports.CycleOrchestrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Logs go to stderr so stdout carries only JSON.
	instruments := &platformobservability.Instruments{Logger: slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))}
	components, cleanup, err := bootstrap.Build(ctx, cfg, instruments)
	if err != nil {
		return err
	}
	defer cleanup()

	var orchestrator syncports.CycleOrchestrator = syncworkflows.NewInlineCycleWorkflows(components.Service, components.Schedules)
	if c.durable {
		if cfg.TemporalDisabled {
			return errors.New("--durable needs Temporal, but TEMPORAL_DISABLED is set")
		}
		temporalClient, err := bootstrap.DialTemporal(cfg, instruments, "syncctl")
		if err != nil {
			return fmt.Errorf("connect to Temporal: %w", err)
		}
		defer temporalClient.Close()
		orchestrator = syncworkflows.NewTemporalCycleWorkflows(temporalClient)
	}
	return fn(ctx, components, orchestrator)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
