package main

import (
	"context"
	"time"

	"github.com/func/seeder/config"
	"github.com/func/seeder/exporter"
	"github.com/func/seeder/reconciler"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/scheduler"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/source"
	"github.com/func/seeder/source/disk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Continuously reconcile seeds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		state, closeState, err := newState(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeState() }()

		loader, err := newLoader(cfg, "", logger.Named("source"))
		if err != nil {
			return err
		}

		reg := registry.Default()
		store := &source.Store{}
		driver := &reconciler.Driver{
			Seeds:           store,
			State:           state,
			Registry:        reg,
			Cloud:           newCloud(cfg, reg, logger.Named("cloud")),
			Concurrency:     cfg.Reconcile.Concurrency,
			DependencyDelay: cfg.Reconcile.DependencyDelay,
			RetryDelay:      cfg.Reconcile.RetryDelay,
			Logger:          logger.Named("reconciler"),
		}

		metrics := prometheus.NewRegistry()
		metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			&exporter.Collector{Seeds: store, Statuses: state, Logger: logger.Named("exporter")},
		)

		queue := &scheduler.Queue{
			Workers: cfg.Reconcile.Workers,
			Handler: func(ctx context.Context, ref seed.Ref) (time.Duration, error) {
				res := driver.Reconcile(ctx, ref)
				return res.RequeueAfter, res.Err
			},
			Logger:  logger.Named("scheduler"),
			Metrics: scheduler.NewMetrics(metrics),
		}

		ctx := signalContext(context.Background())
		update := func(seeds []seed.Seed) {
			replaceSeeds(ctx, store, seeds, queue, state, logger)
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return queue.Run(ctx)
		})
		g.Go(func() error {
			return watch(ctx, cfg, loader, update, logger)
		})
		if cfg.Exporter.Address != "" {
			g.Go(func() error {
				return exporter.Serve(ctx, cfg.Exporter.Address, exporter.Handler(metrics), logger.Named("exporter"))
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCommand.Flags().Bool("dry-run", false, "Compute changes without mutating calls. Env var: SEEDER_CLOUD_DRY_RUN")
	serveCommand.Flags().String("endpoint", "", "Cloud API endpoint. If empty, an in-memory platform is used. Env var: SEEDER_CLOUD_ENDPOINT")
	serveCommand.Flags().String("state", "", "State backend: memory, bolt or dynamodb. Env var: SEEDER_STATE_BACKEND")

	cmd.AddCommand(serveCommand)
}

type seedQueue interface {
	Enqueue(ref seed.Ref)
	Forget(ref seed.Ref)
}

type stateForgetter interface {
	Forget(ctx context.Context, ref seed.Ref) error
}

// replaceSeeds replaces the content of store with seeds. Changed seeds are
// enqueued. Removed seeds are dropped from the queue and their stored state
// is deleted.
func replaceSeeds(ctx context.Context, store *source.Store, seeds []seed.Seed, queue seedQueue, state stateForgetter, logger *zap.Logger) {
	changed, removed := store.Replace(seeds)
	logger.Info("Seeds loaded", zap.Int("total", len(seeds)), zap.Int("changed", len(changed)), zap.Int("removed", len(removed)))
	for _, ref := range removed {
		queue.Forget(ref)
		if err := state.Forget(ctx, ref); err != nil {
			logger.Error("Could not forget removed seed", zap.Stringer("seed", ref), zap.Error(err))
		}
	}
	for _, ref := range changed {
		queue.Enqueue(ref)
	}
}

// watch keeps the seed store up to date until ctx is cancelled. Directories
// are watched for changes, other sources are reloaded periodically.
func watch(ctx context.Context, cfg *config.Config, loader source.Loader, fn func([]seed.Seed), logger *zap.Logger) error {
	if w, ok := loader.(*disk.Loader); ok {
		return w.Watch(ctx, fn)
	}

	load := func() {
		seeds, err := loader.Load(ctx)
		if err != nil {
			logger.Error("Could not load seeds", zap.Error(err))
			return
		}
		fn(seeds)
	}
	load()
	if cfg.Seeds.Resync <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(cfg.Seeds.Resync)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			load()
		}
	}
}
