package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/metrics"
	"ncaaf_v5/feedcache/internal/ratelimit"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Fetcher performs one upstream call for a source.
type Fetcher interface {
	Fetch(ctx context.Context, d *source.Descriptor, now time.Time) fetcher.Outcome
	CheckTarget(d *source.Descriptor) error
}

// Sink receives every entry written to the cache, after the write.
type Sink interface {
	Save(ctx context.Context, e cache.Entry) error
}

type namedSink struct {
	name string
	sink Sink
}

// Scheduler drives one timer per registered source. It owns the cache store
// and the rate limiter; consumers read through the store it exposes.
type Scheduler struct {
	cron    *cron.Cron
	store   *cache.Store
	limiter *ratelimit.Limiter
	fetcher Fetcher
	sinks   []namedSink
	now     func() time.Time

	sinkTimeout time.Duration

	// ctx bounds scheduled fetches; it is cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	runners map[string]*runner // by source id
	keys    map[string]string  // cache key -> source id
	running bool
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for window checks, rate limiting and cache
// timestamps. Timers still fire on wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithStore shares an existing cache store instead of creating one.
func WithStore(store *cache.Store) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// WithSink forwards every cache write to sink.
func WithSink(name string, sink Sink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
	}
}

// WithSinkTimeout bounds each sink write.
func WithSinkTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.sinkTimeout = d
	}
}

// New creates a scheduler. Sources are added with Register; timers only
// fire after Start.
func New(f Fetcher, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		fetcher:     f,
		now:         time.Now,
		sinkTimeout: 5 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
		runners:     make(map[string]*runner),
		keys:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = cache.NewStore(cache.WithClock(s.now))
	}
	s.limiter = ratelimit.New(ratelimit.WithClock(s.now))
	s.cron = cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)

	return s
}

// Store returns the cache store the scheduler writes into.
func (s *Scheduler) Store() *cache.Store {
	return s.store
}

// Now is the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Register validates a private copy of d and starts its timer. Registering
// the same id with the same cache key again is a no-op.
func (s *Scheduler) Register(d source.Descriptor) error {
	d = d.Clone()
	if err := d.Validate(); err != nil {
		return err
	}
	sched, err := source.ParseSchedule(&d)
	if err != nil {
		return err
	}
	if err := s.fetcher.CheckTarget(&d); err != nil {
		return fmt.Errorf("source %s: %w", d.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.runners[d.ID]; ok {
		if existing.desc.CacheKey == d.CacheKey {
			log.Debug().Str("source", d.ID).Msg("Source already registered")
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateSource, d.ID)
	}
	if owner, ok := s.keys[d.CacheKey]; ok {
		return fmt.Errorf("%w: %q is used by source %s", ErrDuplicateCacheKey, d.CacheKey, owner)
	}

	r := newRunner(s, d, sched)

	max, window := d.Limit()
	s.limiter.Register(d.ID, max, window)

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(r.scheduledTick))
	r.entryID = s.cron.Schedule(sched, job)

	s.runners[d.ID] = r
	s.keys[d.CacheKey] = d.ID
	go r.consume()

	metrics.UpdateRegisteredSources(len(s.runners))

	log.Info().
		Str("source", d.ID).
		Str("cache_key", d.CacheKey).
		Str("schedule", sched.String()).
		Str("kind", sched.Kind.String()).
		Str("timezone", d.Location().String()).
		Int("rate_limit", max).
		Msg("Source registered")

	return nil
}

// Unregister stops id's timer. Its rate limit counter is kept, so registering
// it again does not reset the budget. Its last cache entry stays in the
// store; the read API stops serving it once the TTL elapses.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	r, ok := s.runners[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	delete(s.runners, id)
	delete(s.keys, r.desc.CacheKey)
	s.cron.Remove(r.entryID)
	n := len(s.runners)
	s.mu.Unlock()

	r.stop()
	metrics.UpdateRegisteredSources(n)

	log.Info().Str("source", id).Msg("Source unregistered")
	return nil
}

// Start begins firing timers. The scheduler stops when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	n := len(s.runners)
	s.cron.Start()
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()

	log.Info().Int("sources", n).Msg("Scheduler started")
	return nil
}

// Stop stops all timers, aborts in-flight fetches and waits for every
// source's consumer to exit. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	log.Info().Msg("Stopping scheduler...")

	done := s.cron.Stop()
	s.cancel()
	<-done.Done()

	for _, r := range runners {
		r.stop()
		<-r.done
	}

	log.Info().Msg("Scheduler stopped")
}

// ForceTick runs one tick for id synchronously, through the same window,
// rate limit and ordering checks as a timer fire. It returns nil when the
// cache was updated.
func (s *Scheduler) ForceTick(ctx context.Context, id string) error {
	s.mu.RLock()
	r, ok := s.runners[id]
	stopped := s.stopped
	s.mu.RUnlock()

	if stopped {
		return ErrStopped
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return r.tick(ctx)
}

// ActiveTimers is the number of timers currently scheduled.
func (s *Scheduler) ActiveTimers() int {
	return len(s.cron.Entries())
}

// LookupKey returns the descriptor of the source that owns cacheKey.
func (s *Scheduler) LookupKey(cacheKey string) (source.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[cacheKey]
	if !ok {
		return source.Descriptor{}, false
	}
	return s.runners[id].desc.Clone(), true
}

// Sources returns the registered descriptors sorted by id.
func (s *Scheduler) Sources() []source.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]source.Descriptor, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r.desc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// publish forwards a written entry to every sink. Failures are logged and
// counted; they never affect the cache.
func (s *Scheduler) publish(e cache.Entry) {
	for _, ns := range s.sinks {
		ctx, cancel := context.WithTimeout(s.ctx, s.sinkTimeout)
		err := ns.sink.Save(ctx, e)
		cancel()

		metrics.RecordSinkWrite(ns.name, err)
		if err != nil {
			metrics.RecordError("sink", ns.name)
			log.Warn().
				Err(err).
				Str("sink", ns.name).
				Str("cache_key", e.Key).
				Msg("Failed to forward cache entry to sink")
		}
	}
}
