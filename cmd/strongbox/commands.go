package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/semmidev/strongbox/internal/app"
	"github.com/semmidev/strongbox/internal/domain"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}

func (c *cli) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run one full backup now and wait for it",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, _ []string) error {
			job, err := a.Backup.Begin(domain.TriggerManual)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s started\n", job.ID())

			result, err := job.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Archive %s (%s) written in %s using the %s dump\n",
				result.Archive.Filename, megabytes(result.Archive.Size), result.Elapsed.Round(time.Millisecond), result.Dump.Method)
			for _, w := range result.Dump.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			if len(result.Pruned) > 0 {
				fmt.Printf("Pruned %d old archive(s)\n", len(result.Pruned))
			}
			return nil
		}),
	}
}

func (c *cli) runScheduledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-scheduled",
		Short: "Run every due schedule once, for use from an external timer",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, _ []string) error {
			summary, err := a.Scheduled.RunDue(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		}),
	}
}

func (c *cli) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress [job-id]",
		Short: "Show the progress of a job, or of the active job",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withApp(func(_ context.Context, a *app.App, args []string) error {
			var state domain.ProgressState
			if len(args) == 1 {
				var err error
				if state, err = a.Progress.Read(args[0]); err != nil {
					return err
				}
			} else {
				active, err := a.Progress.Active()
				if err != nil {
					return err
				}
				if active == nil {
					fmt.Println("No job is running")
					return nil
				}
				state = *active
			}

			return printJSON(struct {
				domain.ProgressState
				Stale bool `json:"stale"`
			}{state, state.Stale(a.Progress.Now(), a.Progress.StaleAfter())})
		}),
	}
}

func (c *cli) archivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List, inspect, delete and prune archives",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List archives, newest first",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, a *app.App, _ []string) error {
				archives, err := a.Archives.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
				for _, ar := range archives {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", ar.Filename, megabytes(ar.Size), ar.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			}),
		},
		&cobra.Command{
			Use:   "members <archive>",
			Short: "List the members of an archive",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
				members, err := a.Restore.ListMembers(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MEMBER\tSIZE\tMODIFIED")
				for _, m := range members {
					name := m.Name
					if m.IsDir {
						name += "/"
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\n", name, m.Size, m.ModTime.Format(time.RFC3339))
				}
				return tw.Flush()
			}),
		},
		&cobra.Command{
			Use:   "delete <archive>",
			Short: "Delete one archive",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
				if err := a.Archives.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Delete archives beyond the retention count",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, a *app.App, _ []string) error {
				deleted, err := a.Cleanup.Prune(ctx)
				if err != nil {
					return err
				}
				for _, name := range deleted {
					fmt.Printf("Deleted %s\n", name)
				}
				fmt.Printf("%d archive(s) pruned\n", len(deleted))
				return nil
			}),
		},
	)
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a file or the database from an archive",
	}

	var destination string
	file := &cobra.Command{
		Use:   "file <archive> <member>",
		Short: "Restore one member, by default to its original place",
		Args:  cobra.ExactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			result, err := a.Restore.RestoreFile(ctx, args[0], args[1], destination)
			return reportRestore(result, err)
		}),
	}
	file.Flags().StringVarP(&destination, "to", "o", "", "destination path (default: under the source root)")

	var yes bool
	db := &cobra.Command{
		Use:   "database <archive>",
		Short: "Replay the archive's database dump into the live database",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			if !yes {
				return errors.New("a database restore overwrites live tables, pass --yes to confirm")
			}
			result, err := a.Restore.RestoreDatabase(ctx, args[0])
			return reportRestore(result, err)
		}),
	}
	db.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the restore")

	cmd.AddCommand(file, db)
	return cmd
}

func reportRestore(result domain.RestoreResult, err error) error {
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if err != nil {
		return err
	}
	fmt.Println(result.Message)
	return nil
}
