package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/invoice-engine/internal/container"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background workers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		bundle, err := container.ProvideDatabase(&cfg.ToContainerConfig().Database, logger)
		if err != nil {
			return err
		}
		logger.Info("Migrations applied", zap.String("path", cfg.Database.Path))
		return bundle.DB.Close()
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Recurring schedule maintenance",
}

var runAt string

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Generate invoices for every due schedule once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if runAt != "" {
			parsed, err := time.Parse(time.RFC3339, runAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			at = parsed
		}

		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
		if err != nil {
			return err
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		summary, err := c.Services().Runner.RunDue(ctx, at)
		logger.Info("Scheduler pass finished",
			zap.Time("at", at),
			zap.Int("claimed", summary.Claimed),
			zap.Int("generated", summary.Generated),
			zap.Int("replayed", summary.Replayed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed))
		return err
	},
}

func init() {
	runOnceCmd.Flags().StringVar(&runAt, "at", "", "evaluate due schedules at this RFC3339 instant instead of now")
	schedulerCmd.AddCommand(runOnceCmd)
}

// runServe runs the HTTP server and the workers until a signal arrives or
// either of them fails
func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting billing engine",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Server().Start(gctx)
	})
	g.Go(func() error {
		return c.Workers().Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Billing engine stopped")
	return nil
}
