package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semmidev/strongbox/internal/app"
	"github.com/semmidev/strongbox/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "strongbox",
		Short:         "Point-in-time backups of one MySQL database and one file tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(
		c.serveCmd(),
		c.backupCmd(),
		c.runScheduledCmd(),
		c.progressCmd(),
		c.archivesCmd(),
		c.restoreCmd(),
		c.schedulesCmd(),
	)
	return root
}

// withApp loads the configuration and wires the application for the
// duration of one command.
func (c *cli) withApp(run func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}
		defer a.Shutdown()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return run(ctx, a, args)
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run schedules on the in-process timer",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, _ []string) error {
			return a.Run(ctx)
		}),
	}
}
