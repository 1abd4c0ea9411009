package harnessports

import "context"

// RateLimiter bounds throughput per key (provider call, session turn).
// The returned release func must be called once the guarded work is done.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
