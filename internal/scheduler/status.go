package scheduler

import (
	"sort"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/metrics"
)

// SourceStatus is the observable state of one source.
type SourceStatus struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CacheKey    string `json:"cache_key"`
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone"`

	RequestsThisWindow int   `json:"requests_this_window"`
	Limit              int   `json:"limit"`
	Remaining          int   `json:"remaining"` // -1 when unlimited
	WindowResetInMs    int64 `json:"window_reset_in_ms"`

	NextRun       *time.Time `json:"next_run,omitempty"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastFailure   string     `json:"last_failure,omitempty"`

	Attempts     uint64 `json:"attempts"`
	Successes    uint64 `json:"successes"`
	Failures     uint64 `json:"failures"`
	RateLimited  uint64 `json:"rate_limited"`
	WindowClosed uint64 `json:"window_closed"`
	Discarded    uint64 `json:"discarded"`
}

// Status is the status reporter's view: derived, read-only state.
type Status struct {
	PerSource    []SourceStatus `json:"per_source"`
	Cache        cache.Stats    `json:"cache"`
	ActiveTimers int            `json:"active_timers"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Status reports rate limit counters, cache statistics and per-source
// descriptions and outcomes.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.RUnlock()

	entries := s.cron.Entries()
	next := make(map[int]time.Time, len(entries))
	for _, e := range entries {
		next[int(e.ID)] = e.Next
	}

	out := Status{
		PerSource:    make([]SourceStatus, 0, len(runners)),
		Cache:        s.store.Stats(),
		ActiveTimers: len(entries),
		GeneratedAt:  s.now(),
	}

	for _, r := range runners {
		usage := s.limiter.Usage(r.desc.ID)
		remaining := s.limiter.Remaining(r.desc.ID)

		r.mu.Lock()
		st := r.stats
		r.mu.Unlock()

		out.PerSource = append(out.PerSource, SourceStatus{
			ID:                 r.desc.ID,
			Description:        r.desc.Description,
			CacheKey:           r.desc.CacheKey,
			Schedule:           r.sched.String(),
			Timezone:           r.desc.Location().String(),
			RequestsThisWindow: usage.Count,
			Limit:              usage.Limit,
			Remaining:          remaining,
			WindowResetInMs:    usage.ResetIn.Milliseconds(),
			NextRun:            timePtr(next[int(r.entryID)]),
			LastAttempt:        timePtr(st.lastAttempt),
			LastSuccess:        timePtr(st.lastSuccess),
			LastFailureAt:      timePtr(st.lastFailureAt),
			LastFailure:        st.lastFailure,
			Attempts:           st.attempts,
			Successes:          st.successes,
			Failures:           st.failures,
			RateLimited:        st.rateLimited,
			WindowClosed:       st.windowClosed,
			Discarded:          st.discarded,
		})

		metrics.UpdateRateLimitUsage(r.desc.ID, usage.Count)
	}

	sort.Slice(out.PerSource, func(i, j int) bool {
		return out.PerSource[i].ID < out.PerSource[j].ID
	})
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
