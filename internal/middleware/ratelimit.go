package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coah80/reelsave/internal/util"
)

const maxRateLimitEntries = 100000

// RateLimiter is a per-IP sliding window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	store  map[string][]time.Time
	window time.Duration
	max    int
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		store:  make(map[string][]time.Time),
		window: window,
		max:    max,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := util.GetClientIP(r)
		allowed, remaining, resetIn := l.check(ip)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.max))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetIn))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "Too many requests",
				"message": "Too many requests. Please slow down.",
				"code":    util.RateLimited,
				"resetIn": resetIn,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) check(ip string) (allowed bool, remaining int, resetIn int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	filtered := prune(l.store[ip], windowStart)

	if len(filtered) >= l.max {
		resetSec := int(filtered[0].Add(l.window).Sub(now).Seconds()) + 1
		l.store[ip] = filtered
		return false, 0, resetSec
	}

	if _, known := l.store[ip]; !known && len(l.store) >= maxRateLimitEntries {
		return false, 0, int(l.window.Seconds())
	}

	filtered = append(filtered, now)
	l.store[ip] = filtered
	return true, l.max - len(filtered), 0
}

func prune(requests []time.Time, windowStart time.Time) []time.Time {
	filtered := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Cleanup drops IPs with no requests inside the window.
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowStart := l.now().Add(-l.window)
	for ip, requests := range l.store {
		filtered := prune(requests, windowStart)
		if len(filtered) == 0 {
			delete(l.store, ip)
		} else {
			l.store[ip] = filtered
		}
	}
}

func (l *RateLimiter) StartCleanup(every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
