package idempotency

import (
	"bytes"
	"net/http"
)

const headerKey = "Idempotency-Key"

// replayedHeader marks responses served from the cache.
const replayedHeader = "Idempotent-Replayed"

// capture buffers a handler's response so it can be cached.
type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated Idempotency-Key values on
// mutating requests. Requests without the header pass through untouched.
func Middleware(cache *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerKey)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}

			for {
				cached, wait := cache.begin(key)
				if cached != nil {
					replay(w, cached)
					return
				}
				if wait == nil {
					break
				}
				// Another request with the same key is running. Wait for it
				// and serve its result, or retry the claim if it abandoned.
				select {
				case <-wait:
					if e := cache.get(key); e != nil {
						replay(w, e)
						return
					}
				case <-r.Context().Done():
					w.WriteHeader(http.StatusRequestTimeout)
					return
				}
			}

			rec := &capture{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					cache.abandon(key)
					panic(p)
				}
				// Only cache successful responses. Errors should be retried
				// against the real handler.
				if rec.status >= 200 && rec.status < 300 {
					cache.commit(key, rec.status, rec.Header().Clone(), rec.body.Bytes())
				} else {
					cache.abandon(key)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func replay(w http.ResponseWriter, e *cachedResponse) {
	for k, vals := range e.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(e.status)
	_, _ = w.Write(e.body)
}
