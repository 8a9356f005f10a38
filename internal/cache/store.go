package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is the most recent successfully fetched payload for one key.
type Entry struct {
	Key       string          `json:"key"`
	SourceID  string          `json:"source_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
	Seq       uint64          `json:"seq"`
}

// Fresh reports whether the entry is younger than its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Age is how long ago the payload was fetched.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Stats is the read-only summary exposed to the status reporter.
type Stats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// Store is a process-wide key to entry map. Entries are immutable values
// replaced whole on write, so readers never observe a partial write and
// never wait for a writer.
type Store struct {
	entries sync.Map // string -> Entry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set overwrites key with payload fetched now.
func (s *Store) Set(key string, payload []byte, ttl time.Duration) Entry {
	e := Entry{
		Key:       key,
		Payload:   payload,
		FetchedAt: s.now(),
		TTL:       ttl,
	}
	return s.Put(e)
}

// Put overwrites the entry for e.Key. The payload is copied.
func (s *Store) Put(e Entry) Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	s.entries.Store(e.Key, e)
	return e
}

// Get returns the entry for key regardless of freshness.
func (s *Store) Get(key string) (Entry, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Delete evicts key.
func (s *Store) Delete(key string) {
	s.entries.Delete(key)
}

// Stats returns the number of entries and their sorted keys.
func (s *Store) Stats() Stats {
	keys := make([]string, 0)
	s.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return Stats{Count: len(keys), Keys: keys}
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}
