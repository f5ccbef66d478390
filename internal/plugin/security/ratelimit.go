package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiters holds one token bucket per package id. Each bucket refills at
// the configured rate and holds at most one second's worth of calls.
type Limiters struct {
	mu    sync.Mutex
	rate  int
	now   func() time.Time
	byPkg map[string]*rate.Limiter
}

// NewLimiters creates per-package limiters with the given rate. A
// non-positive rate never limits.
func NewLimiters(ratePerSecond int) *Limiters {
	return NewLimitersWithClock(ratePerSecond, time.Now)
}

// NewLimitersWithClock is NewLimiters with an injected clock.
func NewLimitersWithClock(ratePerSecond int, now func() time.Time) *Limiters {
	if now == nil {
		now = time.Now
	}
	return &Limiters{rate: ratePerSecond, now: now, byPkg: make(map[string]*rate.Limiter)}
}

// Allow consumes a token from packageID's bucket.
func (l *Limiters) Allow(packageID string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byPkg[packageID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rate), l.rate)
		l.byPkg[packageID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1)
}

// Forget drops packageID's bucket.
func (l *Limiters) Forget(packageID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.byPkg, packageID)
	l.mu.Unlock()
}
