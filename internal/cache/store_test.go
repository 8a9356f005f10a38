package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndGet(t *testing.T) {
	now := time.Date(2024, 10, 19, 14, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return now }))

	_, ok := s.Get("scores")
	assert.False(t, ok, "never populated key is absent")

	s.Set("scores", []byte(`{"games":[]}`), time.Minute)

	e, ok := s.Get("scores")
	require.True(t, ok)
	assert.Equal(t, "scores", e.Key)
	assert.JSONEq(t, `{"games":[]}`, string(e.Payload))
	assert.Equal(t, now, e.FetchedAt)
	assert.Equal(t, time.Minute, e.TTL)
}

func TestStore_StaleEntriesRemain(t *testing.T) {
	now := time.Date(2024, 10, 19, 14, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return now }))
	s.Set("odds", []byte(`[1]`), time.Minute)

	e, ok := s.Get("odds")
	require.True(t, ok)
	assert.True(t, e.Fresh(now.Add(59*time.Second)))
	assert.False(t, e.Fresh(now.Add(time.Minute)))
	assert.Equal(t, 2*time.Hour, e.Age(now.Add(2*time.Hour)))

	_, ok = s.Get("odds")
	assert.True(t, ok, "staleness does not delete")
}

func TestStore_OverwriteAndDelete(t *testing.T) {
	s := NewStore()
	s.Set("props", []byte(`1`), time.Minute)
	s.Set("props", []byte(`2`), time.Minute)

	e, _ := s.Get("props")
	assert.Equal(t, "2", string(e.Payload))

	s.Delete("props")
	_, ok := s.Get("props")
	assert.False(t, ok)
}

func TestStore_PutCopiesPayload(t *testing.T) {
	s := NewStore()
	payload := []byte(`{"a":1}`)
	s.Put(Entry{Key: "k", Payload: payload, TTL: time.Minute, Seq: 7})
	payload[2] = 'b'

	e, _ := s.Get("k")
	assert.Equal(t, `{"a":1}`, string(e.Payload))
	assert.Equal(t, uint64(7), e.Seq)
}

func TestStore_Stats(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.Stats().Count)

	s.Set("scores", []byte(`1`), time.Minute)
	s.Set("odds", []byte(`1`), time.Minute)
	s.Set("props", []byte(`1`), time.Minute)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, []string{"odds", "props", "scores"}, stats.Keys)
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Set(fmt.Sprintf("key-%d", w), []byte(fmt.Sprintf(`%d`, i)), time.Minute)
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if e, ok := s.Get("key-0"); ok {
					assert.NotEmpty(t, e.Payload)
				}
				s.Stats()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, s.Stats().Count)
}
