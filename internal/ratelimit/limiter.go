// Package ratelimit paces browser navigations against a site.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces navigations per origin. Scans started by one process share
// a Limiter, so concurrent scans of the same site draw from one budget.
// A nil *Limiter never waits.
type Limiter struct {
	mu           sync.Mutex
	perOrigin    map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	originDelay  time.Duration
	lastRequest  map[string]time.Time
}

// NewLimiter creates a limiter allowing requestsPerSecond per origin. A
// non-positive rate means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perOrigin:    make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		lastRequest:  make(map[string]time.Time),
	}
}

// Wait blocks until a navigation to origin is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, origin string) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	lim := l.limiterFor(origin)

	var delay time.Duration
	if l.originDelay > 0 {
		now := time.Now()
		next := now
		if last, ok := l.lastRequest[origin]; ok && last.Add(l.originDelay).After(now) {
			next = last.Add(l.originDelay)
		}
		l.lastRequest[origin] = next
		delay = next.Sub(now)
	}
	l.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lim.Wait(ctx)
}

// Allow reports whether a navigation to origin may happen now.
func (l *Limiter) Allow(origin string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim := l.limiterFor(origin)
	l.mu.Unlock()
	return lim.Allow()
}

// SetOriginRate sets a custom rate for one origin.
func (l *Limiter) SetOriginRate(origin string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perOrigin[origin] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// SetOriginDelay sets the minimum spacing between navigations to the same
// origin.
func (l *Limiter) SetOriginDelay(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.originDelay = delay
}

// limiterFor returns the origin's limiter. Callers hold l.mu.
func (l *Limiter) limiterFor(origin string) *rate.Limiter {
	lim, ok := l.perOrigin[origin]
	if !ok {
		lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perOrigin[origin] = lim
	}
	return lim
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		OriginCount:  len(l.perOrigin),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
		OriginDelay:  l.originDelay,
	}
}

// LimiterStats contains limiter statistics.
type LimiterStats struct {
	OriginCount  int           `json:"origin_count"`
	DefaultRate  float64       `json:"default_rate"`
	DefaultBurst int           `json:"default_burst"`
	OriginDelay  time.Duration `json:"origin_delay"`
}
