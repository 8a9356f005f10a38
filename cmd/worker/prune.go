package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/config"
	"ncaaf_v5/feedcache/internal/repository"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// keyStore is a persisted copy of the cache that can list and drop keys.
type keyStore interface {
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

func newPruneCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshot rows and mirrored keys no catalog source writes any more",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			setupLogger(cfg)

			descriptors, err := cfg.LoadSources()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			stores, closeAll, err := openKeyStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			if len(stores) == 0 {
				log.Info().Msg("Neither the snapshot store nor the Redis mirror is enabled, nothing to prune")
				return nil
			}

			_, err = pruneOrphans(ctx, stores, descriptors, dryRun)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list the keys that would be deleted")

	return cmd
}

func openKeyStores(ctx context.Context, cfg *config.Config) (map[string]keyStore, func(), error) {
	stores := make(map[string]keyStore)
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

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
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)
		stores["postgres"] = db.Snapshots
	}

	if cfg.EnableRedisMirror {
		rc, err := cache.NewRedisCache(cache.Config{
			Host:      cfg.RedisHost,
			Port:      strconv.Itoa(cfg.RedisPort),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { rc.Close() })
		stores["redis"] = rc
	}

	return stores, closeAll, nil
}

// pruneOrphans deletes every key no descriptor owns from each store and
// returns how many keys were (or, on a dry run, would be) deleted.
func pruneOrphans(ctx context.Context, stores map[string]keyStore, descriptors []source.Descriptor, dryRun bool) (int, error) {
	owned := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		owned[d.CacheKey] = struct{}{}
	}

	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)

	pruned := 0
	for _, name := range names {
		keys, err := stores[name].Keys(ctx)
		if err != nil {
			return pruned, fmt.Errorf("%s: %w", name, err)
		}

		for _, key := range keys {
			if _, ok := owned[key]; ok {
				continue
			}
			if !dryRun {
				if err := stores[name].Delete(ctx, key); err != nil {
					return pruned, fmt.Errorf("%s: failed to delete %s: %w", name, key, err)
				}
			}
			pruned++
			log.Info().
				Str("store", name).
				Str("cache_key", key).
				Bool("dry_run", dryRun).
				Msg("Pruned orphaned key")
		}
	}

	log.Info().Int("count", pruned).Bool("dry_run", dryRun).Msg("Prune complete")
	return pruned, nil
}
