package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/therealityreport/socializer-backend/internal/cmdutil"
	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/worker"
)

var queues = map[string]worker.NewWorkerFn{
	"ingestion": worker.NewIngestionWorker,
	"ml":        worker.NewMLWorker,
	"alerts":    worker.NewAlertsWorker,
}

func WorkerCmd(ctx context.Context) *cobra.Command {
	var multiplier int
	var queueID string

	cmd := &cobra.Command{
		Use:   "worker",
		Args:  cobra.ExactArgs(0),
		Short: "Work through job queues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queueID == "" {
				return fmt.Errorf("need a queue to work on")
			}

			workerFn, ok := queues[queueID]
			if !ok {
				return fmt.Errorf("invalid queue: %s", queueID)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := cmdutil.NewLogger(false)
			defer func() { _ = logger.Sync() }()

			statsd, err := cmdutil.NewStatsdClient()
			if err != nil {
				return err
			}
			defer statsd.Close()

			shutdownTracing, err := cmdutil.NewTracingProvider("socializer-worker")
			if err != nil {
				return err
			}
			defer shutdownTracing()

			consumers := runtime.NumCPU() * multiplier
			poolSize := multiplier / 4

			db, err := cmdutil.NewDatabasePool(ctx, poolSize)
			if err != nil {
				return err
			}
			defer db.Close()

			redis, err := cmdutil.NewRedisClient(ctx)
			if err != nil {
				return err
			}
			defer redis.Close()

			queue, err := cmdutil.NewQueueClient(logger, redis, "worker")
			if err != nil {
				return err
			}

			w, err := workerFn(logger, statsd, db, redis, queue, cfg, consumers)
			if err != nil {
				return err
			}

			if err := w.Start(); err != nil {
				return err
			}

			<-ctx.Done()

			w.Stop()

			return nil
		},
	}

	cmd.Flags().IntVar(&multiplier, "multiplier", 12, "The multiplier (by CPUs) to run")
	cmd.Flags().StringVar(&queueID, "queue", "", "The queue to work on")

	return cmd
}
