package repository

import (
	"context"
	"fmt"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const snapshotSchema = `
	CREATE TABLE IF NOT EXISTS feed_snapshots (
		cache_key  TEXT PRIMARY KEY,
		source_id  TEXT NOT NULL,
		payload    JSONB NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL,
		ttl_ms     BIGINT NOT NULL,
		seq        BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// SnapshotRepository keeps the latest cached payload per key so a restarted
// worker can serve stale data instead of fallbacks.
type SnapshotRepository struct {
	db *Database
}

// EnsureSchema creates the snapshot table if it does not exist
func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("failed to create feed_snapshots table: %w", err)
	}
	return nil
}

// Save upserts the snapshot for e.Key. An older fetch never overwrites a
// newer one.
func (r *SnapshotRepository) Save(ctx context.Context, e cache.Entry) error {
	s := models.SnapshotFromEntry(e)

	query := `
		INSERT INTO feed_snapshots (cache_key, source_id, payload, fetched_at, ttl_ms, seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			ttl_ms = EXCLUDED.ttl_ms,
			seq = EXCLUDED.seq,
			updated_at = NOW()
		WHERE feed_snapshots.fetched_at <= EXCLUDED.fetched_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.CacheKey, s.SourceID, []byte(s.Payload), s.FetchedAt, s.TTLMillis, s.Seq,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", s.CacheKey, err)
	}

	log.Trace().Str("cache_key", s.CacheKey).Msg("Snapshot saved")
	return nil
}

// Get retrieves the snapshot for one key
func (r *SnapshotRepository) Get(ctx context.Context, cacheKey string) (*models.Snapshot, error) {
	query := `
		SELECT cache_key, source_id, payload, fetched_at, ttl_ms, seq, updated_at
		FROM feed_snapshots
		WHERE cache_key = $1
	`

	s := &models.Snapshot{}
	err := r.db.Pool.QueryRow(ctx, query, cacheKey).Scan(
		&s.CacheKey, &s.SourceID, &s.Payload, &s.FetchedAt, &s.TTLMillis, &s.Seq, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found: %s", cacheKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return s, nil
}

// LoadAll retrieves every snapshot ordered by key
func (r *SnapshotRepository) LoadAll(ctx context.Context) ([]*models.Snapshot, error) {
	query := `
		SELECT cache_key, source_id, payload, fetched_at, ttl_ms, seq, updated_at
		FROM feed_snapshots
		ORDER BY cache_key
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.Snapshot
	for rows.Next() {
		s := &models.Snapshot{}
		if err := rows.Scan(
			&s.CacheKey, &s.SourceID, &s.Payload, &s.FetchedAt, &s.TTLMillis, &s.Seq, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// Warm loads every snapshot into store and returns how many were loaded.
// Keys the store already holds are left alone.
func (r *SnapshotRepository) Warm(ctx context.Context, store *cache.Store) (int, error) {
	snapshots, err := r.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, s := range snapshots {
		if _, ok := store.Get(s.CacheKey); ok {
			continue
		}
		store.Put(s.ToEntry())
		loaded++
	}

	log.Info().Int("count", loaded).Msg("Cache warmed from snapshots")
	return loaded, nil
}

// Keys lists every stored cache key
func (r *SnapshotRepository) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT cache_key FROM feed_snapshots ORDER BY cache_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot keys: %w", err)
	}
	return keys, nil
}

// Delete removes the snapshot for one key
func (r *SnapshotRepository) Delete(ctx context.Context, cacheKey string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM feed_snapshots WHERE cache_key = $1`, cacheKey); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
