// Package ratelimit enforces a minimum interval between requests to a
// provider, shared by every goroutine in the process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces grants at least interval apart. Callers queue in arrival
// order; a cancelled context removes the caller from the queue.
type Limiter struct {
	interval time.Duration
	pace     *rate.Limiter
	turn     chan struct{}
	last     time.Time
	now      func() time.Time
}

// New creates a Limiter allowing one request per interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		pace:     rate.NewLimiter(rate.Every(interval), 1),
		turn:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Wait blocks until the caller may send its request and returns the time
// the slot was granted. It fails fast when ctx would expire before then.
func (l *Limiter) Wait(ctx context.Context) (time.Time, error) {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
	defer func() { <-l.turn }()

	if err := l.pace.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	// The previous holder may have woken late, so measure from its real
	// grant time rather than from its reservation.
	if !l.last.IsZero() {
		if gap := l.now().Sub(l.last); gap < l.interval {
			if err := sleep(ctx, l.interval-gap); err != nil {
				return time.Time{}, err
			}
		}
	}

	l.last = l.now()
	return l.last, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry holds one Limiter per provider name. Providers without a
// Limiter are not throttled.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Set installs a limiter with the given interval for provider. A zero or
// negative interval removes any existing limiter.
func (r *Registry) Set(provider string, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if interval <= 0 {
		delete(r.limiters, provider)
		return
	}
	r.limiters[provider] = New(interval)
}

// Get returns the limiter for provider, if any.
func (r *Registry) Get(provider string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[provider]
	return l, ok
}

// Throttle blocks until provider may be called.
func (r *Registry) Throttle(ctx context.Context, provider string) error {
	l, ok := r.Get(provider)
	if !ok {
		return nil
	}
	if _, err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter for %s: %w", provider, err)
	}
	return nil
}
