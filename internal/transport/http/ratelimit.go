package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedClients = 4096

// rateLimiter keeps a token bucket per key refilling limit tokens per minute.
type rateLimiter struct {
	limit int
	every rate.Limit
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	r := &rateLimiter{
		limit:    limit,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	if limit > 0 {
		r.every = rate.Every(time.Minute / time.Duration(limit))
	}
	return r
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	v, ok := r.visitors[key]
	if !ok {
		if len(r.visitors) >= maxTrackedClients {
			r.evictIdle(now)
		}
		v = &visitor{limiter: rate.NewLimiter(r.every, r.limit)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// evictIdle drops visitors idle long enough for their bucket to be full again.
func (r *rateLimiter) evictIdle(now time.Time) {
	for key, v := range r.visitors {
		if now.Sub(v.lastSeen) >= time.Minute {
			delete(r.visitors, key)
		}
	}
}
