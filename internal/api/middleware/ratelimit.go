package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 10 * time.Minute
)

// RateLimiter implements a per-client token bucket. Clients are keyed by
// remote IP.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
	now            func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerMin requests per
// client per minute. Call Stop to release the cleanup goroutine.
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	rl := &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		now:            time.Now,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether the client may make another request and consumes a
// token when it may.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.clients[client]
	if !exists {
		rl.clients[client] = &bucket{
			tokens:     rl.requestsPerMin - 1,
			lastRefill: now,
			lastSeen:   now,
		}
		return rl.requestsPerMin > 0
	}
	b.lastSeen = now

	// Refill whole tokens only; the remainder keeps accruing from lastRefill.
	perToken := time.Minute / time.Duration(max(rl.requestsPerMin, 1))
	if add := int(now.Sub(b.lastRefill) / perToken); add > 0 {
		b.tokens = min(rl.requestsPerMin, b.tokens+add)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * perToken)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) retryAfterSeconds() int {
	secs := 60 / max(rl.requestsPerMin, 1)
	return max(secs, 1)
}

// cleanup removes clients idle for longer than staleAfter.
func (rl *RateLimiter) cleanup() {
	defer close(rl.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(rl.clients, client)
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
