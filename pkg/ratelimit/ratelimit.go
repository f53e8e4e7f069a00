package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Lock serializes requests and spaces them at least wait apart.
type Lock interface {
	// Lock blocks until the caller may issue a request and returns the
	// function that must be called once the request is done.
	Lock(ctx context.Context) func()
}

type lock struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// New returns a lock that allows one request at a time and at most one
// request every wait. A zero wait only serializes.
func New(wait time.Duration) Lock {
	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	return &lock{
		sem:     make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (l *lock) Lock(ctx context.Context) func() {
	select {
	case <-ctx.Done():
		// The request will fail on its own with the context error.
		return func() {}
	case l.sem <- struct{}{}:
	}
	if err := l.limiter.Wait(ctx); err != nil {
		<-l.sem
		return func() {}
	}
	return func() {
		<-l.sem
	}
}
