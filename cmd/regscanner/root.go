package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"RegScanner/internal/app"
	"RegScanner/internal/config"
	"RegScanner/internal/logging"
	"RegScanner/internal/observability"
)

type cli struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	shutdown   observability.Shutdown
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "regscanner",
		Short:         "Ingest regulatory feeds, triage them with a language model and publish rollups",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to the YAML config (overrides REGSCANNER_CONFIG)")

	root.AddCommand(newRunCommand(c), newReportCommand(c), newServeCommand(c))
	return root
}

func (c *cli) setup(ctx context.Context) error {
	if c.configPath != "" {
		if err := os.Setenv("REGSCANNER_CONFIG", c.configPath); err != nil {
			return err
		}
	}

	c.cfg = config.Load()
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.logger = logging.NewWithWriter(os.Stderr, c.cfg.Logging.Level, c.cfg.Logging.Format)
	slog.SetDefault(c.logger)

	shutdown, err := observability.Init(ctx, c.cfg.Tracing, version, c.logger)
	if err != nil {
		return err
	}
	c.shutdown = shutdown
	return nil
}

func (c *cli) teardown() error {
	if c.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.shutdown(ctx)
}

func (c *cli) open(ctx context.Context) (*app.Application, error) {
	return app.New(ctx, c.cfg, c.logger)
}
