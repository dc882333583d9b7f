// Package ratelimit provides a simple in-memory token bucket rate limiter
// middleware for net/http.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter enforces a per-client token bucket. Tokens refill continuously at
// rate/interval, so a client that waits half an interval earns half a refill.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket

	refillPerSec float64 // tokens earned per second
	burst        float64 // bucket capacity
	maxClients   int     // entries kept before evicting the stalest
	rejected     prometheus.Counter

	stop chan struct{}
}

type bucket struct {
	tokens float64
	seen   time.Time // last time tokens were recomputed
}

// New creates a rate limiter allowing rate requests per interval with the
// given burst capacity.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		clients:      make(map[string]*bucket),
		refillPerSec: float64(rate) / interval.Seconds(),
		burst:        float64(burst),
		maxClients:   100000,
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter sets a Prometheus counter incremented on each rejected request.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.rejected = c }
}

// Middleware enforces the limit per client IP. The X-Real-IP header wins over
// RemoteAddr so the limiter works behind a reverse proxy.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			if l.rejected != nil {
				l.rejected.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Allow reports whether a request from the given client may proceed, spending
// one token if so.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.evictStalest()
		}
		b = &bucket{tokens: l.burst, seen: now}
		l.clients[key] = b
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * l.refillPerSec
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.seen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictStalest drops the client that has been idle longest.
// Caller must hold l.mu.
func (l *Limiter) evictStalest() {
	var stalest string
	var when time.Time
	for k, b := range l.clients {
		if stalest == "" || b.seen.Before(when) {
			stalest = k
			when = b.seen
		}
	}
	if stalest != "" {
		delete(l.clients, stalest)
	}
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for k, b := range l.clients {
				if b.seen.Before(cutoff) {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
