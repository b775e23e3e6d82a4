package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phaseline/phaseline/internal/api"
	"github.com/phaseline/phaseline/internal/events"
	"github.com/phaseline/phaseline/internal/notify"
	"github.com/phaseline/phaseline/internal/reconcile"
	"github.com/phaseline/phaseline/internal/schedule"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Phaseline API server",
		Long: "Serves the timeline and milestone HTTP API, publishes domain events " +
			"to AMQP when configured, and runs the periodic schedule reconciler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	var sink events.Sink = events.Discard{}
	if cfg.AMQP.URL != "" {
		pub, err := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer pub.Close()
		sink = pub
	}

	var notifier *notify.Notifier
	if cfg.Slack.WebhookURL != "" {
		notifier = notify.New(cfg.Slack.WebhookURL, logger)
	}

	scheduler := schedule.New(gormDB, schedule.Options{
		PauseFrom:       cfg.Scheduling.PauseFrom,
		CompactOnDelete: cfg.Scheduling.CompactOnDelete,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if cfg.Reconcile.Cron != "" {
		c := cron.New()
		r := reconcile.New(gormDB, sink, logger)
		if err := r.Schedule(c, cfg.Reconcile.Cron); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	if port == 0 {
		port = cfg.HTTP.Port
	}
	return api.Start(ctx, api.StartOpts{
		DB:          gormDB,
		Scheduler:   scheduler,
		Coordinator: schedule.NewCoordinator(scheduler),
		Sink:        sink,
		Notifier:    notifier,
		Logger:      logger,
		Port:        port,
	})
}
