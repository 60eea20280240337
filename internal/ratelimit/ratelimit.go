package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter keyed by caller. It is owned by
// the server and passed to handlers explicitly; the clock is injectable so
// tests can drive the window without sleeping.
type Limiter struct {
	mu      sync.Mutex
	perKey  map[string][]time.Time
	global  []time.Time
	window  time.Duration
	perMax  int
	allMax  int
	nowFunc func() time.Time
}

// New builds a limiter allowing perMax hits per key and allMax hits across
// all keys within the window. A non-positive max disables that bound.
func New(window time.Duration, perMax, allMax int, now func() time.Time) *Limiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Limiter{
		perKey:  map[string][]time.Time{},
		window:  window,
		perMax:  perMax,
		allMax:  allMax,
		nowFunc: now,
	}
}

// Allow records a hit for key and reports whether it stays inside both the
// per-key and global bounds. A rejected hit is not recorded.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trim(l.global, cutoff)
	hits := trim(l.perKey[key], cutoff)

	if l.perMax > 0 && len(hits) >= l.perMax {
		l.perKey[key] = hits
		return false
	}
	if l.allMax > 0 && len(l.global) >= l.allMax {
		l.perKey[key] = hits
		return false
	}
	l.perKey[key] = append(hits, now)
	l.global = append(l.global, now)
	return true
}

func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
