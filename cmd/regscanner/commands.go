package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"RegScanner/internal/usecase"
)

func newRunCommand(c *cli) *cobra.Command {
	var opts usecase.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once: ingest, analyze, roll up and export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.Run(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRun(report))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.AnalysisLimit, "limit", 0, "maximum items to analyze (default from config)")
	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "requeue items whose analysis failed before analyzing")
	return cmd
}

func newReportCommand(c *cli) *cobra.Command {
	var exportFiles bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the digest, backlog and changelog from the current store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			report, paths, err := application.Report(ctx, exportFiles)
			if err != nil {
				return err
			}
			stats, err := application.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStats(stats))
			fmt.Fprintln(out, renderReport(report))
			if exportFiles {
				fmt.Fprintln(out, renderExports(paths))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&exportFiles, "export", false, "also write the JSON report and CSV listing")
	return cmd
}

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled pipelines and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Serve(ctx)
		},
	}
}
