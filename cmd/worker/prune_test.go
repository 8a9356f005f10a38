package main

import (
	"context"
	"errors"
	"sort"
	"testing"

	"ncaaf_v5/feedcache/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyStore struct {
	keys    map[string]bool
	listErr error
}

func newMemKeyStore(keys ...string) *memKeyStore {
	m := &memKeyStore{keys: make(map[string]bool)}
	for _, k := range keys {
		m.keys[k] = true
	}
	return m
}

func (m *memKeyStore) Keys(ctx context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memKeyStore) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestPruneOrphans(t *testing.T) {
	descriptors := config.DefaultSources(testConfig())
	pg := newMemKeyStore("scores", "odds", "old:live")
	rd := newMemKeyStore("props", "old:live", "old:futures")
	stores := map[string]keyStore{"postgres": pg, "redis": rd}

	n, err := pruneOrphans(context.Background(), stores, descriptors, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, pg.keys, 3, "dry run deletes nothing")
	assert.Len(t, rd.keys, 3)

	n, err = pruneOrphans(context.Background(), stores, descriptors, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotContains(t, pg.keys, "old:live")
	assert.NotContains(t, rd.keys, "old:live")
	assert.NotContains(t, rd.keys, "old:futures")
	assert.Equal(t, map[string]bool{"scores": true, "odds": true}, pg.keys)
	assert.Equal(t, map[string]bool{"props": true}, rd.keys)
}

func TestPruneOrphans_ListError(t *testing.T) {
	broken := newMemKeyStore()
	broken.listErr = errors.New("connection refused")

	_, err := pruneOrphans(context.Background(), map[string]keyStore{"redis": broken}, nil, false)
	assert.ErrorContains(t, err, "redis: connection refused")
}
