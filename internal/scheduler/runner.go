package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/metrics"
	"ncaaf_v5/feedcache/internal/source"
	"ncaaf_v5/feedcache/internal/window"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// completed is a finished fetch on its way to the source's cache writer.
type completed struct {
	seq     uint64
	attempt string
	outcome fetcher.Outcome
	ack     chan error
}

// runner owns one source: its timer entry, its sequence counter and the
// single goroutine allowed to write its cache key.
type runner struct {
	s       *Scheduler
	desc    source.Descriptor
	sched   source.Schedule
	entryID cron.EntryID

	seq     atomic.Uint64
	results chan completed
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	applied uint64
	stats   runnerStats
}

type runnerStats struct {
	attempts      uint64
	successes     uint64
	failures      uint64
	rateLimited   uint64
	windowClosed  uint64
	discarded     uint64
	lastAttempt   time.Time
	lastSuccess   time.Time
	lastFailureAt time.Time
	lastFailure   string
}

func newRunner(s *Scheduler, d source.Descriptor, sched source.Schedule) *runner {
	return &runner{
		s:       s,
		desc:    d,
		sched:   sched,
		results: make(chan completed, 4),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *runner) stop() {
	r.once.Do(func() { close(r.quit) })
}

// scheduledTick is the cron job body.
func (r *runner) scheduledTick() {
	if err := r.tick(r.s.ctx); errors.Is(err, ErrSourceStopped) {
		log.Debug().Str("source", r.desc.ID).Msg("Tick fired after source stopped")
	}
}

// tick authorizes and performs one fetch, then hands the result to the
// consumer and waits for its verdict.
func (r *runner) tick(ctx context.Context) error {
	id := r.desc.ID
	now := r.s.now()

	if !window.IsWithinWindow(&r.desc, now) {
		r.mu.Lock()
		r.stats.windowClosed++
		r.mu.Unlock()

		metrics.RecordSkip(id, "window_closed")
		log.Trace().Str("source", id).Time("now", now).Msg("Outside active window, skipping")
		return ErrWindowClosed
	}

	// Budget is taken before the call and never refunded.
	if !r.s.limiter.TryAcquire(id) {
		r.mu.Lock()
		r.stats.rateLimited++
		r.mu.Unlock()

		metrics.RecordSkip(id, "rate_limited")
		log.Trace().Str("source", id).Msg("Rate limited, skipping")
		return ErrRateLimited
	}
	metrics.UpdateRateLimitUsage(id, r.s.limiter.Usage(id).Count)

	seq := r.seq.Add(1)
	attempt := uuid.NewString()

	r.mu.Lock()
	r.stats.attempts++
	r.stats.lastAttempt = now
	r.mu.Unlock()

	log.Trace().
		Str("source", id).
		Str("attempt", attempt).
		Uint64("seq", seq).
		Msg("Fetching source")

	out := r.s.fetcher.Fetch(ctx, &r.desc, now)

	c := completed{seq: seq, attempt: attempt, outcome: out, ack: make(chan error, 1)}
	select {
	case r.results <- c:
	case <-r.quit:
		return ErrSourceStopped
	}

	select {
	case err := <-c.ack:
		return err
	case <-r.quit:
		return ErrSourceStopped
	}
}

// consume is the only writer of this source's cache key.
func (r *runner) consume() {
	defer close(r.done)

	for {
		select {
		case c := <-r.results:
			c.ack <- r.apply(c)
		case <-r.quit:
			return
		}
	}
}

// apply decides between cache write, discard and no-op for one result.
func (r *runner) apply(c completed) error {
	id := r.desc.ID

	if !c.outcome.OK() {
		f := c.outcome.Failure

		r.mu.Lock()
		r.stats.failures++
		r.stats.lastFailure = f.Error()
		r.stats.lastFailureAt = r.s.now()
		r.mu.Unlock()

		metrics.RecordError("fetcher", f.Reason.String())
		log.Warn().
			Err(f).
			Str("source", id).
			Str("attempt", c.attempt).
			Str("reason", f.Reason.String()).
			Int("status", f.StatusCode).
			Dur("duration", c.outcome.Duration).
			Msg("Fetch failed, keeping cached value")
		return f
	}

	r.mu.Lock()
	if c.seq <= r.applied {
		r.stats.discarded++
		applied := r.applied
		r.mu.Unlock()

		metrics.RecordDiscard(id)
		log.Debug().
			Str("source", id).
			Str("attempt", c.attempt).
			Uint64("seq", c.seq).
			Uint64("applied_seq", applied).
			Msg("Discarding result older than cached entry")
		return ErrStaleResult
	}

	now := r.s.now()
	entry := r.s.store.Put(cache.Entry{
		Key:       r.desc.CacheKey,
		SourceID:  id,
		Payload:   c.outcome.Payload,
		FetchedAt: now,
		TTL:       r.desc.TTL,
		Seq:       c.seq,
	})
	r.applied = c.seq
	r.stats.successes++
	r.stats.lastSuccess = now
	r.mu.Unlock()

	metrics.RecordCacheWrite(id, r.s.store.Stats().Count)
	log.Debug().
		Str("source", id).
		Str("attempt", c.attempt).
		Str("cache_key", entry.Key).
		Int("size", len(entry.Payload)).
		Dur("duration", c.outcome.Duration).
		Msg("Cache updated")

	r.s.publish(entry)
	return nil
}
