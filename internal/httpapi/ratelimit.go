package httpapi

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client. Idle buckets are swept on
// access instead of by a background goroutine.
type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &rateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: map[string]*visitor{},
	}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) > time.Minute {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(r.visitors, k)
			}
		}
		r.lastSweep = now
	}
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (r *rateLimiter) retryAfterSeconds() int {
	seconds := int(math.Ceil(1 / float64(r.limit)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return host
}
