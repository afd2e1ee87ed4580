package fetchclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter enforces a minimum delay between requests to the same host,
// with a small random jitter on top. Burst traffic against fragile leak-site
// infrastructure is the fastest way to get the collector banned.
type hostLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	delay     time.Duration
	jitterMax time.Duration
}

func newHostLimiter(delay, jitterMax time.Duration) *hostLimiter {
	return &hostLimiter{
		limiters:  make(map[string]*rate.Limiter),
		delay:     delay,
		jitterMax: jitterMax,
	}
}

// Wait suspends until the host's minimum inter-request delay has elapsed.
// Returns the total time spent waiting so callers can record it.
func (l *hostLimiter) Wait(ctx context.Context, host string) (time.Duration, error) {
	if l.delay <= 0 || host == "" {
		return 0, nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.delay), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	res := limiter.Reserve()
	wait := res.Delay()
	if wait > 0 {
		// Jitter only when we actually throttled; an idle host gets
		// through immediately.
		wait += randomJitter(l.jitterMax)
		if err := pause(ctx, wait); err != nil {
			res.Cancel()
			return 0, err
		}
	}
	return wait, nil
}

// pause sleeps for delay or until the context finishes.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
