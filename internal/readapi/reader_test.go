package readapi

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog map[string]source.Descriptor

func (c staticCatalog) LookupKey(key string) (source.Descriptor, bool) {
	d, ok := c[key]
	return d, ok
}

type fixture struct {
	now    time.Time
	store  *cache.Store
	reader *Reader
}

func newFixture(catalog Catalog) *fixture {
	f := &fixture{now: time.Date(2024, 10, 19, 14, 0, 0, 0, time.UTC)}
	f.store = cache.NewStore(cache.WithClock(func() time.Time { return f.now }))
	f.reader = NewReader(f.store, catalog)
	return f
}

func TestReadCached_FreshThenStale(t *testing.T) {
	f := newFixture(staticCatalog{"scores": {ID: "scores", CacheKey: "scores"}})
	f.store.Set("scores", []byte(`{"games":[]}`), time.Minute)

	res, err := f.reader.ReadCached("scores")
	require.NoError(t, err)
	assert.JSONEq(t, `{"games":[]}`, string(res.Payload))
	assert.False(t, res.Stale)
	assert.False(t, res.Fallback)
	require.NotNil(t, res.FetchedAt)
	assert.Equal(t, f.now, *res.FetchedAt)

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.reader.ReadCached("scores")
	require.NoError(t, err)
	assert.True(t, res.Stale, "stale entries are still served")
	assert.JSONEq(t, `{"games":[]}`, string(res.Payload))
}

func TestReadCached_Idempotent(t *testing.T) {
	f := newFixture(staticCatalog{"odds": {ID: "odds", CacheKey: "odds"}})
	f.store.Set("odds", []byte(`{"line":-3.5}`), time.Minute)

	first, err := f.reader.ReadCached("odds")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.reader.ReadCached("odds")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestReadCached_FallbackForNeverPopulatedKey(t *testing.T) {
	f := newFixture(staticCatalog{
		"props":       {ID: "props", CacheKey: "props"},
		"predictions": {ID: "predictions", CacheKey: "predictions", Fallback: json.RawMessage(`{"predictions":[]}`)},
	})

	res, err := f.reader.ReadCached("props")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Nil(t, res.FetchedAt)
	assert.JSONEq(t, `{"status":"no_data_yet","source":"props"}`, string(res.Payload))

	res, err = f.reader.ReadCached("predictions")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.JSONEq(t, `{"predictions":[]}`, string(res.Payload))
}

func TestReadCached_UnregisteredKey(t *testing.T) {
	f := newFixture(staticCatalog{})

	_, err := f.reader.ReadCached("missing")
	assert.True(t, errors.Is(err, ErrNoData))

	// Left behind by an unregistered source: served while fresh only.
	f.store.Set("old", []byte(`{"v":1}`), time.Minute)
	res, err := f.reader.ReadCached("old")
	require.NoError(t, err)
	assert.False(t, res.Stale)

	f.now = f.now.Add(time.Minute)
	_, err = f.reader.ReadCached("old")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReadCached_DoesNotMutateStore(t *testing.T) {
	f := newFixture(staticCatalog{"props": {ID: "props", CacheKey: "props"}})

	_, err := f.reader.ReadCached("props")
	require.NoError(t, err)

	_, ok := f.store.Get("props")
	assert.False(t, ok, "fallbacks are never written to the cache")
	assert.Equal(t, 0, f.store.Stats().Count)
}
