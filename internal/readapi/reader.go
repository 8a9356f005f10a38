// Package readapi serves cached payloads to consumers. It only ever reads
// the cache store and never triggers a fetch.
package readapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/metrics"
	"ncaaf_v5/feedcache/internal/source"
)

// ErrNoData is returned for a key that is neither registered nor fresh in
// the cache.
var ErrNoData = errors.New("no data for key")

// Catalog resolves a cache key to the source registered for it.
type Catalog interface {
	LookupKey(cacheKey string) (source.Descriptor, bool)
}

// Result is what a consumer receives for one key.
type Result struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
	Stale     bool            `json:"stale"`
	Fallback  bool            `json:"fallback"`
}

// Reader answers ReadCached calls.
type Reader struct {
	store   *cache.Store
	catalog Catalog
	now     func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock replaces the store's clock for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

// NewReader creates a Reader over store. catalog decides which keys have a
// fallback.
func NewReader(store *cache.Store, catalog Catalog, opts ...Option) *Reader {
	r := &Reader{
		store:   store,
		catalog: catalog,
		now:     store.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadCached returns the cached payload for key, flagged stale once its TTL
// has elapsed. A registered key that was never populated gets the source's
// fallback payload. Repeated calls with no intervening write return the same
// payload.
func (r *Reader) ReadCached(key string) (Result, error) {
	now := r.now()
	desc, registered := r.catalog.LookupKey(key)

	if e, ok := r.store.Get(key); ok {
		fresh := e.Fresh(now)
		if !registered && !fresh {
			metrics.RecordCacheMiss()
			return Result{}, fmt.Errorf("%w: %s", ErrNoData, key)
		}

		metrics.RecordCacheHit(fresh)
		fetchedAt := e.FetchedAt
		return Result{
			Key:       key,
			Payload:   e.Payload,
			FetchedAt: &fetchedAt,
			Stale:     !fresh,
		}, nil
	}

	if !registered {
		metrics.RecordCacheMiss()
		return Result{}, fmt.Errorf("%w: %s", ErrNoData, key)
	}

	metrics.RecordFallback()
	return Result{
		Key:      key,
		Payload:  Fallback(desc),
		Stale:    true,
		Fallback: true,
	}, nil
}

// Fallback is the payload served for a registered source that has no entry
// yet: its configured fallback or a no-data marker naming the source.
func Fallback(d source.Descriptor) json.RawMessage {
	if len(d.Fallback) > 0 {
		return d.Fallback
	}
	marker, _ := json.Marshal(struct {
		Status string `json:"status"`
		Source string `json:"source"`
	}{Status: "no_data_yet", Source: d.ID})
	return marker
}
