package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/fartrucking/far-warehousing/config"
	"github.com/fartrucking/far-warehousing/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "far-warehousing",
		Short:         "Sync warehouse spreadsheets from a bucket into Zoho Inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /processDirectories, health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, sync, err := setup(false)
			if err != nil {
				return err
			}
			defer func() { _ = sync() }()

			return app.New(cfg, logger).Serve(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the bucket once and print the run summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, sync, err := setup(dryRun)
			if err != nil {
				return err
			}
			defer func() { _ = sync() }()

			summary, runErr := app.New(cfg, logger).RunOnce(cmd.Context())
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be created without calling Zoho or moving files")
	return cmd
}

func setup(dryRun bool) (config.Config, ectologger.Logger, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if dryRun {
		cfg.DryRun = true
	}

	logger, sync, err := app.NewLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, sync, nil
}
