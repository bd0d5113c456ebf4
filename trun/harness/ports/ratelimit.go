package harnessports

import "context"

// RateLimiter bounds how many interactions hit the remote service at once.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
