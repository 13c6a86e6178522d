package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiters hands out one token bucket per client IP. The table is reset
// hourly to bound memory.
type limiters struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	byIP        map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newLimiters(perSecond float64, burst int) *limiters {
	return &limiters{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		byIP:        make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *limiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Sub(l.lastCleanup) > time.Hour {
		l.byIP = make(map[string]*rate.Limiter)
		l.lastCleanup = l.now()
	}

	limiter, ok := l.byIP[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.byIP[ip] = limiter
	}
	return limiter.Allow()
}
