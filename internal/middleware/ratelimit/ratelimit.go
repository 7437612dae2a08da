// Package ratelimit throttles requests per client address over a fixed
// one-minute window.
package ratelimit

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter counts requests per client. Start the cleanup loop with
// NewLimiter and release it with Stop.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	now     func() time.Time

	rejected     atomic.Int64
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type window struct {
	start    time.Time
	requests int
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	rl := &Limiter{
		clients:     make(map[string]*window),
		limit:       config.RequestsPerMinute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup(config.CleanupInterval)
	return rl
}

// Allow records one request from client and reports whether it fits the
// current window.
func (rl *Limiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= time.Minute {
		rl.clients[client] = &window{start: now, requests: 1}
		return true
	}

	w.requests++
	if w.requests > rl.limit {
		rl.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns how many requests were refused since start.
func (rl *Limiter) Rejected() int64 {
	return rl.rejected.Load()
}

func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *Limiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients idle for more than ten minutes.
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-10 * time.Minute)
	for client, w := range rl.clients {
		if w.start.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Middleware rejects requests over the limit. apply selects the requests
// that are counted; nil counts every request. onLimit writes the rejection.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, apply func(*http.Request) bool, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (apply == nil || apply(r)) && !rl.Allow(extractIP(r)) {
				w.Header().Set("Retry-After", "60")
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
