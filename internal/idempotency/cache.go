// Package idempotency lets clients safely retry mutating requests. A client
// sends an Idempotency-Key header; the first response under that key is
// cached and replayed verbatim for later retries, so a timed-out outcome
// report does not count twice.
package idempotency

import (
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a stored response ready for replay.
type cachedResponse struct {
	status    int
	header    http.Header
	body      []byte
	storedAt  time.Time
	inFlight  bool
	completed chan struct{}
}

// Cache stores responses keyed by idempotency key.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cachedResponse
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewCache creates a cache that keeps responses for ttl and holds at most
// maxEntries of them.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &Cache{
		entries:    make(map[string]*cachedResponse),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// begin claims a key. It returns the cached response when one exists, or a
// channel to wait on when another request with the same key is in flight.
// When both are nil the caller owns the key and must finish with commit or
// abandon.
func (c *Cache) begin(key string) (*cachedResponse, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if e.inFlight {
			return nil, e.completed
		}
		if time.Since(e.storedAt) < c.ttl {
			return e, nil
		}
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &cachedResponse{
		inFlight:  true,
		completed: make(chan struct{}),
	}
	return nil, nil
}

// commit stores the response for the key and wakes any waiters.
func (c *Cache) commit(key string, status int, header http.Header, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.inFlight {
		return
	}
	e.status = status
	e.header = header
	e.body = body
	e.storedAt = time.Now()
	e.inFlight = false
	close(e.completed)
}

// abandon drops an in-flight claim without storing a response, so the next
// retry runs the handler fresh.
func (c *Cache) abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.inFlight {
		return
	}
	delete(c.entries, key)
	close(e.completed)
}

// get returns the completed cached response for a key, if present and fresh.
func (c *Cache) get(key string) *cachedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.inFlight || time.Since(e.storedAt) >= c.ttl {
		return nil
	}
	return e
}

// Len returns the number of cached entries, in-flight claims included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the background sweeper.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if e.inFlight {
			continue
		}
		if first || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if !e.inFlight && time.Since(e.storedAt) >= c.ttl {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
