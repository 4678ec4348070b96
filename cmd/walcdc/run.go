package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jcrane-labs/walcdc/internal/bootstrap"
	"github.com/jcrane-labs/walcdc/internal/demo"
	"github.com/jcrane-labs/walcdc/internal/metrics"
	"github.com/jcrane-labs/walcdc/internal/statusserver"
	"github.com/jcrane-labs/walcdc/internal/tui"
	"github.com/jcrane-labs/walcdc/pkg/lsn"
)

var (
	runAPIPort int
	runTUI     bool
	runDemo    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start streaming changes from source to sink",
	Long: `Run ensures the publication and replication slot exist, resolves
the starting position from the local offset store (or the upstream's
current WAL position), and streams changes until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()

		collector := metrics.NewCollector(logger)
		defer collector.Close()

		persister, err := metrics.NewStatePersister(collector, logger)
		if err != nil {
			return err
		}
		persister.Start()
		defer persister.Stop()

		pipeline, err := bootstrap.Build(ctx, cfg, logger, collector)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		if runAPIPort > 0 {
			srv := statusserver.New(collector, cfg, logger)
			srv.StartBackground(ctx, runAPIPort)
		}

		go pollWALPosition(ctx, pipeline, collector)

		if runDemo {
			pool, err := pgxpool.New(ctx, cfg.Source.DSN())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := demo.EnsureSampleSchema(ctx, pool); err != nil {
				return err
			}
			gen := demo.NewGenerator(pool, logger)
			go func() {
				if err := gen.Run(ctx, time.Second); err != nil && ctx.Err() == nil {
					logger.Err(err).Msg("demo generator stopped")
				}
			}()
		}

		if runTUI {
			errCh := make(chan error, 1)
			go func() { errCh <- pipeline.Run(ctx) }()

			if err := tui.Run(collector); err != nil {
				return err
			}
			return <-errCh
		}

		return pipeline.Run(ctx)
	},
}

func init() {
	runCmd.Flags().IntVar(&runAPIPort, "api-port", 0, "Enable HTTP status API on this port (0 = disabled)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show terminal dashboard while streaming")
	runCmd.Flags().BoolVar(&runDemo, "demo", false, "Generate a synthetic workload against the source so there is something to stream")
	rootCmd.AddCommand(runCmd)
}

// pollWALPosition periodically records the upstream's current WAL position
// so the metrics collector can report replication lag; a failed poll is
// logged and retried on the next tick rather than aborting the pipeline.
func pollWALPosition(ctx context.Context, pipeline *bootstrap.Pipeline, collector *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, err := pipeline.WALPosition(ctx)
			if err != nil {
				logger.Err(err).Msg("poll WAL position failed")
				continue
			}
			parsed, err := lsn.Parse(pos)
			if err != nil {
				continue
			}
			collector.RecordLatestLSN(parsed)
		}
	}
}
