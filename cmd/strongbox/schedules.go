package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/semmidev/strongbox/internal/app"
	"github.com/semmidev/strongbox/internal/domain"
)

type scheduleFlags struct {
	name      string
	frequency string
	at        string
	day       string
}

// build turns command-line flags into a new enabled schedule. day is a
// weekday for weekly schedules and a day of the month for monthly ones.
func (f scheduleFlags) build(now time.Time) (domain.ScheduleDefinition, error) {
	freq, err := domain.ParseFrequency(f.frequency)
	if err != nil {
		return domain.ScheduleDefinition{}, err
	}
	tod, err := domain.ParseTimeOfDay(f.at)
	if err != nil {
		return domain.ScheduleDefinition{}, err
	}

	def := domain.ScheduleDefinition{
		ID:         domain.ScheduleID(uuid.NewString()),
		Name:       f.name,
		Frequency:  freq,
		TimeOfDay:  tod,
		Enabled:    true,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	switch freq {
	case domain.FrequencyWeekly:
		wd, err := domain.ParseWeekday(f.day)
		if err != nil {
			return domain.ScheduleDefinition{}, err
		}
		def.DayOfWeek = &wd
	case domain.FrequencyMonthly:
		dom, err := strconv.Atoi(f.day)
		if err != nil {
			return domain.ScheduleDefinition{}, fmt.Errorf("day of month %q: %w", f.day, err)
		}
		def.DayOfMonth = &dom
	default:
		if f.day != "" {
			return domain.ScheduleDefinition{}, fmt.Errorf("daily schedules take no --day")
		}
	}

	return def, def.Validate()
}

func (c *cli) schedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"schedule"},
		Short:   "Manage unattended backup schedules",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules with their next run",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(_ context.Context, a *app.App, _ []string) error {
			schedules, err := a.Schedules.List()
			if err != nil {
				return err
			}
			now := time.Now()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tWHEN\tENABLED\tLAST RUN\tNEXT RUN\tDUE")
			for _, s := range schedules {
				last := "never"
				anchor := s.CreatedAt
				if s.LastRunAt != nil {
					last = s.LastRunAt.Format(time.RFC3339)
					anchor = *s.LastRunAt
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%t\n",
					s.ID, s.Name, describeWhen(s), s.Enabled, last,
					a.Evaluator.NextRunTime(s, anchor).Format(time.RFC3339),
					s.Enabled && a.Evaluator.IsDue(s, now))
			}
			return tw.Flush()
		}),
	}

	var flags scheduleFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a daily, weekly or monthly schedule",
		Example: `  strongbox schedules add --name nightly --frequency daily --at 02:00
  strongbox schedules add --name weekly --frequency weekly --day mon --at 03:30
  strongbox schedules add --name month-end --frequency monthly --day 31 --at 01:00`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(_ context.Context, a *app.App, _ []string) error {
			def, err := flags.build(time.Now())
			if err != nil {
				return err
			}
			if err := a.Schedules.Put(def); err != nil {
				return err
			}
			fmt.Printf("Added schedule %s (%s)\n", def.ID, describeWhen(def))
			return nil
		}),
	}
	add.Flags().StringVar(&flags.name, "name", "", "schedule name")
	add.Flags().StringVar(&flags.frequency, "frequency", "daily", "daily, weekly or monthly")
	add.Flags().StringVar(&flags.at, "at", "02:00", "time of day, HH:MM")
	add.Flags().StringVar(&flags.day, "day", "", "weekday for weekly, day of month for monthly")
	_ = add.MarkFlagRequired("name")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(_ context.Context, a *app.App, args []string) error {
			if err := a.Schedules.Delete(domain.ScheduleID(args[0])); err != nil {
				return err
			}
			fmt.Printf("Removed schedule %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(list, add, remove, c.toggleCmd("enable", "Resume a paused schedule", true), c.toggleCmd("disable", "Pause a schedule without removing it", false))
	return cmd
}

func (c *cli) toggleCmd(verb, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(_ context.Context, a *app.App, args []string) error {
			if err := a.Schedules.SetEnabled(domain.ScheduleID(args[0]), enabled, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Schedule %s %sd\n", args[0], verb)
			return nil
		}),
	}
}

func describeWhen(s domain.ScheduleDefinition) string {
	switch s.Frequency {
	case domain.FrequencyWeekly:
		return fmt.Sprintf("weekly on %s at %s", *s.DayOfWeek, s.TimeOfDay)
	case domain.FrequencyMonthly:
		return fmt.Sprintf("monthly on day %d at %s", *s.DayOfMonth, s.TimeOfDay)
	default:
		return fmt.Sprintf("daily at %s", s.TimeOfDay)
	}
}
