// Package ratelimit implements a keyed fixed-window request limiter.
//
// Each Limiter owns a private Store unless one is passed explicitly with
// WithStore; two limiters only share counters when they are handed the same store.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// Config describes one fixed-window policy.
type Config struct {
	Name   string
	Window time.Duration
	Max    int

	// Refund the hit once the downstream handler reports success (status < 400).
	SkipSuccessfulRequests bool
	// Refund the hit once the downstream handler reports failure (status >= 400).
	SkipFailedRequests bool
}

// Result is the admission decision for one Check call.
type Result struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetTime         time.Time
	RetryAfterSeconds int
}

// Limiter admits or rejects requests per key under a fixed-window quota.
type Limiter struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Limiter)

// WithStore replaces the limiter's private store. Passing the same store to
// several limiters makes them share counters, so give each a distinct Name.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	if cfg.Max < 1 {
		return nil, errors.New("ratelimit: max must be at least 1")
	}

	l := &Limiter{
		cfg:    cfg,
		store:  NewMemoryStore(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the policy this limiter enforces.
func (l *Limiter) Config() Config { return l.cfg }

// Check counts one request for key and reports whether it is admitted.
// The hit is recorded even when rejected.
func (l *Limiter) Check(key string) Result {
	now := l.now()
	e := l.store.Update(l.storeKey(key), func(e Entry, ok bool) Entry {
		if !ok || e.Stale(now) {
			e = Entry{ResetTime: now.Add(l.cfg.Window)}
		}
		e.Count++
		return e
	})

	res := Result{
		Allowed:   e.Count <= l.cfg.Max,
		Limit:     l.cfg.Max,
		Remaining: max(0, l.cfg.Max-e.Count),
		ResetTime: e.ResetTime,
	}
	if !res.Allowed {
		res.RetryAfterSeconds = max(1, int(math.Ceil(e.ResetTime.Sub(now).Seconds())))
		l.logger.Debug("rate limit exceeded",
			zap.String("limiter", l.cfg.Name),
			zap.String("key", key),
			zap.Int("count", e.Count),
			zap.Int("retry_after", res.RetryAfterSeconds),
		)
	}
	return res
}

// Refund gives back one hit for key in the current window.
func (l *Limiter) Refund(key string) {
	now := l.now()
	l.store.Update(l.storeKey(key), func(e Entry, ok bool) Entry {
		if ok && !e.Stale(now) && e.Count > 0 {
			e.Count--
		}
		return e
	})
}

// Reset forgets key entirely.
func (l *Limiter) Reset(key string) {
	l.store.Delete(l.storeKey(key))
}

// Sweep drops expired entries and returns how many were removed.
func (l *Limiter) Sweep() int {
	return l.store.DeleteExpired(l.now())
}

// StartJanitor sweeps expired entries every interval until ctx is cancelled.
func (l *Limiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug("rate limit sweep",
						zap.String("limiter", l.cfg.Name),
						zap.Int("removed", n),
					)
				}
			}
		}
	}()
}

func (l *Limiter) storeKey(key string) string {
	if l.cfg.Name == "" {
		return key
	}
	return l.cfg.Name + ":" + key
}
