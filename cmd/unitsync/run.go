package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/unitsync/internal/batch"
	"github.com/dgnsrekt/unitsync/internal/config"
	"github.com/dgnsrekt/unitsync/internal/epoch"
	"github.com/dgnsrekt/unitsync/internal/metrics"
	"github.com/dgnsrekt/unitsync/internal/notify"
	"github.com/dgnsrekt/unitsync/internal/server"
	"github.com/dgnsrekt/unitsync/internal/source"
	"github.com/dgnsrekt/unitsync/internal/store"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Stream units from the source into the store",
		Long: `Connect to the configured source and mirror its unit events into the store.

Every connection starts a new epoch: the store is cleared, events are queued
and the batcher writes coalesced updates and deletes every flush interval.
When the source disconnects the epoch is torn down and a new one begins.

Examples:
  # Use ./configs/default.yaml
  unitsync run

  # Replay a capture into a local redis
  UNITSYNC_SOURCE_KIND=replay UNITSYNC_SOURCE_FILE=capture.jsonl \
  UNITSYNC_STORE_KIND=redis unitsync run -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cfg, logger)
		},
	}
}

func runPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := store.New(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	src, err := source.New(cfg.Source, logger.Named("source"))
	if err != nil {
		return err
	}

	notifier := notify.New(cfg.Notify, logger.Named("notify"))
	watcher := notify.NewWatcher(notifier, cfg.Notify.FailureThreshold, logger.Named("notify"))
	recorder := metrics.NewRecorder()

	batcher := batch.NewBatcher(st, logger.Named("batcher"),
		batch.WithFlushInterval(cfg.Batch.FlushInterval),
		batch.WithPollInterval(cfg.Batch.PollInterval),
		batch.WithObserver(recorder),
		batch.WithObserver(watcher),
	)
	supervisor := epoch.NewSupervisor(src, batcher, st, logger.Named("supervisor"),
		epoch.WithRestartLimit(cfg.Supervisor.RestartRate, cfg.Supervisor.RestartBurst),
		epoch.WithObserver(recorder),
	)

	logger.Info("starting pipeline",
		zap.String("source", cfg.Source.Kind),
		zap.String("store", cfg.Store.Kind),
		zap.Duration("flushInterval", cfg.Batch.FlushInterval),
		zap.Bool("admin", cfg.Admin.Enabled),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Admin.Enabled {
		router := server.NewRouter(server.NewServer(recorder, logger.Named("admin")), logger.Named("admin"))
		g.Go(func() error {
			if err := server.ListenAndServe(gctx, cfg.Admin.Addr, router, logger.Named("admin")); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	err = g.Wait()
	watcher.Wait()

	if err != nil {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if nerr := notifier.SendFatal(sendCtx, err); nerr != nil {
			logger.Warn("fatal notification not delivered", zap.Error(nerr))
		}
		return err
	}

	logger.Info("pipeline stopped")
	return nil
}
