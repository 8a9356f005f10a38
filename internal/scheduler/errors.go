package scheduler

import "errors"

var (
	// ErrDuplicateCacheKey is returned when a second source claims a cache key.
	ErrDuplicateCacheKey = errors.New("duplicate cache key")
	// ErrDuplicateSource is returned when an id is registered twice with different settings.
	ErrDuplicateSource = errors.New("duplicate source id")
	ErrUnknownSource   = errors.New("unknown source")

	// ErrRateLimited and ErrWindowClosed are expected skips, not failures.
	ErrRateLimited  = errors.New("rate limited")
	ErrWindowClosed = errors.New("outside active window")

	// ErrStaleResult means a fetch completed after a newer one had already
	// been cached, and was discarded.
	ErrStaleResult = errors.New("result older than cached entry")

	ErrSourceStopped = errors.New("source stopped")
	ErrStopped       = errors.New("scheduler stopped")
)
