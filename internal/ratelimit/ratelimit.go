// Package ratelimit implements the per-service token-bucket limiter of
// spec §5/§6: a default rate applied to every external call plus optional
// per-service overrides. An optional PersistentStore file records the
// buckets' token levels after each call; a new process reads it back only
// for Levels, starts every bucket full, and shares no bucket state with
// other processes. Grounded on r3e-network-service_layer's
// infrastructure/ratelimit package, which wraps two independent
// golang.org/x/time/rate.Limiters (per-second and per-minute) behind one
// type; this package keeps that shape and adds the persistence layer the
// original didn't need.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config is one service's rate_limit.services[name] entry (spec §6).
type Config struct {
	RequestsPerSecond float64
	RequestsPerMinute float64
}

// limiter wraps the two independent x/time/rate limiters a single service
// is checked against, same dual-limiter shape r3e's RateLimiter uses.
type limiter struct {
	perSecond *rate.Limiter
	perMinute *rate.Limiter
}

func newLimiter(cfg Config) *limiter {
	l := &limiter{}
	if cfg.RequestsPerSecond > 0 {
		l.perSecond = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	if cfg.RequestsPerMinute > 0 {
		l.perMinute = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), max(1, int(cfg.RequestsPerMinute)))
	}
	return l
}

func (l *limiter) wait(ctx context.Context) error {
	if l.perSecond != nil {
		if err := l.perSecond.Wait(ctx); err != nil {
			return err
		}
	}
	if l.perMinute != nil {
		if err := l.perMinute.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *limiter) allow() bool {
	if l.perSecond != nil && !l.perSecond.Allow() {
		return false
	}
	if l.perMinute != nil && !l.perMinute.Allow() {
		return false
	}
	return true
}

// Limiter is the process-wide rate limiter: a default bucket plus named
// per-service overrides, matching spec §6's rate_limit.default_* and
// rate_limit.services{name: {rps, rpm}} shape.
type Limiter struct {
	mu       sync.Mutex
	def      *limiter
	services map[string]*limiter
	store    *PersistentStore
}

// New builds a Limiter from a default config and per-service overrides.
// store may be nil, in which case no state survives a process restart —
// acceptable for a single-process deployment; spec §5 calls the persisted
// store out specifically for sharing across processes.
func New(defaultConfig Config, services map[string]Config, store *PersistentStore) *Limiter {
	l := &Limiter{
		def:      newLimiter(defaultConfig),
		services: make(map[string]*limiter, len(services)),
		store:    store,
	}
	for name, cfg := range services {
		l.services[name] = newLimiter(cfg)
	}
	if store != nil {
		l.restore()
	}
	return l
}

func (l *Limiter) limiterFor(service string) *limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if svc, ok := l.services[service]; ok {
		return svc
	}
	return l.def
}

// Wait blocks until service's bucket admits one request or ctx is
// cancelled.
func (l *Limiter) Wait(ctx context.Context, service string) error {
	lim := l.limiterFor(service)
	if lim == nil {
		return nil
	}
	err := lim.wait(ctx)
	l.persist()
	return err
}

// Allow reports whether service's bucket currently admits one request,
// without blocking.
func (l *Limiter) Allow(service string) bool {
	lim := l.limiterFor(service)
	if lim == nil {
		return true
	}
	ok := lim.allow()
	l.persist()
	return ok
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
