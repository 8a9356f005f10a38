package models

import (
	"encoding/json"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
)

// Snapshot is the persisted latest payload for one cache key. Only the most
// recent write per key is kept; there is no history.
type Snapshot struct {
	CacheKey  string          `db:"cache_key"`
	SourceID  string          `db:"source_id"`
	Payload   json.RawMessage `db:"payload"`
	FetchedAt time.Time       `db:"fetched_at"`
	TTLMillis int64           `db:"ttl_ms"`
	Seq       int64           `db:"seq"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// SnapshotFromEntry converts a cache entry for persistence.
func SnapshotFromEntry(e cache.Entry) *Snapshot {
	return &Snapshot{
		CacheKey:  e.Key,
		SourceID:  e.SourceID,
		Payload:   e.Payload,
		FetchedAt: e.FetchedAt,
		TTLMillis: e.TTL.Milliseconds(),
		Seq:       int64(e.Seq),
	}
}

// ToEntry converts the snapshot back into a cache entry. The sequence
// number is dropped: it only orders fetches within one process.
func (s *Snapshot) ToEntry() cache.Entry {
	return cache.Entry{
		Key:       s.CacheKey,
		SourceID:  s.SourceID,
		Payload:   s.Payload,
		FetchedAt: s.FetchedAt,
		TTL:       time.Duration(s.TTLMillis) * time.Millisecond,
	}
}
