package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/config"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/metrics"
	"ncaaf_v5/feedcache/internal/readapi"
	"ncaaf_v5/feedcache/internal/repository"
	"ncaaf_v5/feedcache/internal/scheduler"
	"ncaaf_v5/feedcache/internal/server"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Polls sports data sources and serves the cached snapshot",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the read API (default)",
			RunE:  runServe,
		},
		newSourcesCmd(),
		newFetchCmd(),
		newPruneCmd(),
	)

	return root
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad()
	setupLogger(cfg)

	log.Info().Msg("Starting NCAAF feed cache worker")
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	descriptors, err := cfg.LoadSources()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load source catalog")
	}

	store := cache.NewStore()
	schedOpts := []scheduler.Option{
		scheduler.WithStore(store),
		scheduler.WithSinkTimeout(cfg.SinkTimeout),
	}
	var serverOpts []server.Option

	if cfg.EnableSnapshotStore {
		db, err := repository.NewDatabase(ctx, repository.Config{
			Host:     cfg.DatabaseHost,
			Port:     strconv.Itoa(cfg.DatabasePort),
			User:     cfg.DatabaseUser,
			Password: cfg.DatabasePassword,
			Database: cfg.DatabaseName,
			SSLMode:  cfg.DatabaseSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Snapshots.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare snapshot table")
		}
		if _, err := db.Snapshots.Warm(ctx, store); err != nil {
			log.Warn().Err(err).Msg("Failed to warm cache from snapshots, starting empty")
		}

		schedOpts = append(schedOpts, scheduler.WithSink("postgres", db.Snapshots))
		serverOpts = append(serverOpts, server.WithHealthCheck("database", db.Health))
	}

	if cfg.EnableRedisMirror {
		redisCache, err := cache.NewRedisCache(cache.Config{
			Host:      cfg.RedisHost,
			Port:      strconv.Itoa(cfg.RedisPort),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			Retention: cfg.RedisRetention,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis - continuing without mirror")
		} else {
			defer redisCache.Close()
			warmFromRedis(ctx, redisCache, store, descriptors)

			schedOpts = append(schedOpts, scheduler.WithSink("redis", redisCache))
			serverOpts = append(serverOpts, server.WithHealthCheck("redis", redisCache.Health))
		}
	}

	f := fetcher.New(fetcher.WithVars(cfg.TemplateVars))
	sched := scheduler.New(f, schedOpts...)

	// A misconfigured source is a startup error, not a runtime one.
	for _, d := range descriptors {
		if err := sched.Register(d); err != nil {
			log.Fatal().Err(err).Str("source", d.ID).Msg("Failed to register source")
		}
	}

	reader := readapi.NewReader(store, sched)
	srv := server.New(server.Config{
		Port:          cfg.IngestionPort,
		RateLimit:     cfg.APIRateLimit,
		BurstLimit:    cfg.APIBurstLimit,
		EnableMetrics: cfg.EnableMetrics,
	}, sched, reader, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		return sched.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal, gracefully shutting down...")

		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Update system uptime metric
	startTime := time.Now()
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
			case <-gctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
		return err
	}

	log.Info().Msg("Worker shutdown complete")
	return nil
}

// warmFromRedis fills keys the store does not have yet from the mirror
// another worker may have written.
func warmFromRedis(ctx context.Context, rc *cache.RedisCache, store *cache.Store, descriptors []source.Descriptor) {
	loaded := 0
	for _, d := range descriptors {
		if _, ok := store.Get(d.CacheKey); ok {
			continue
		}
		e, ok, err := rc.Load(ctx, d.CacheKey)
		if err != nil {
			log.Warn().Err(err).Str("cache_key", d.CacheKey).Msg("Failed to read Redis mirror")
			continue
		}
		if !ok {
			continue
		}
		e.Seq = 0
		store.Put(e)
		loaded++
	}
	log.Info().Int("count", loaded).Msg("Cache warmed from Redis mirror")
}

// setupLogger configures the zerolog logger
func setupLogger(cfg *config.Config) {
	// Pretty console logging in development
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	// Set log level
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		parsedLevel, err := zerolog.ParseLevel(cfg.LogLevel)
		if err == nil {
			level = parsedLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().
		Str("level", level.String()).
		Msg("Logger initialized")
}
