package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleEviction  = 3 * time.Minute
)

// clientLimiter hands out one token bucket per caller identity. Buckets
// idle long enough to have refilled completely are evicted on the next
// sweep so the map does not grow with one-off callers.
type clientLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		clients:   make(map[string]*clientBucket),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow consumes one token for the client, creating its bucket on first
// sight. A false return means the request must be rejected, not queued.
func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		for key, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) >= limiterIdleEviction {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	bucket, ok := l.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// clientKey identifies the caller: the API key header when present,
// otherwise the remote address left by the RealIP middleware.
func clientKey(r *http.Request, header string) string {
	if header != "" {
		if key := r.Header.Get(header); key != "" {
			return key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
