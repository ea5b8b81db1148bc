package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// failureWindow and failureLimit implement the activation policy: at most
	// 5 failed attempts per remote IP per 15 minutes. Successes never count.
	failureWindow = 15 * time.Minute
	failureLimit  = 5
)

// ActivationLimiter tracks failed license activations per remote IP. A small
// global token bucket sits in front of the per-IP windows so that a spray
// across many source addresses still fails fast.
type ActivationLimiter struct {
	mu        sync.Mutex
	failures  map[string][]time.Time
	lastSweep time.Time
	global    *rate.Limiter

	now func() time.Time // test hook
}

// NewActivationLimiter builds a limiter with the default policy.
func NewActivationLimiter() *ActivationLimiter {
	return &ActivationLimiter{
		failures: make(map[string][]time.Time),
		global:   rate.NewLimiter(rate.Limit(2), 20),
		now:      time.Now,
	}
}

// Check reports whether an activation attempt from ip may proceed. When
// blocked, retryAfter says how long until the window frees up.
func (l *ActivationLimiter) Check(ip string) (blocked bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	recent := l.pruneLocked(ip, now)
	if len(recent) >= failureLimit {
		oldest := recent[0]
		return true, failureWindow - now.Sub(oldest)
	}

	if !l.global.AllowN(now, 1) {
		return true, time.Second
	}

	return false, 0
}

// RecordFailure notes a failed attempt from ip. Callers must not record
// successful activations.
func (l *ActivationLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.pruneLocked(ip, now)
	l.failures[ip] = append(recent, now)
}

// pruneLocked drops entries older than the window for one IP.
func (l *ActivationLimiter) pruneLocked(ip string, now time.Time) []time.Time {
	entries := l.failures[ip]
	cutoff := now.Add(-failureWindow)
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, ip)
		return nil
	}
	l.failures[ip] = kept
	return kept
}

// sweepLocked clears fully-expired IPs at most once per window so the map
// cannot grow without bound.
func (l *ActivationLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < failureWindow {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-failureWindow)
	for ip, entries := range l.failures {
		alive := false
		for _, t := range entries {
			if t.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.failures, ip)
		}
	}
}
