package idempotency

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newCountingHandler(calls *atomic.Int64, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"recorded":1}`))
	})
}

func TestMiddlewareReplaysSecondRequest(t *testing.T) {
	c := NewCache(time.Minute, 10)
	defer c.Stop()

	var calls atomic.Int64
	h := Middleware(c)(newCountingHandler(&calls, http.StatusOK))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/outcomes", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
		if rec.Body.String() != `{"recorded":1}` {
			t.Fatalf("request %d: body %q", i, rec.Body.String())
		}
		replayed := rec.Header().Get("Idempotent-Replayed") == "true"
		if i == 0 && replayed {
			t.Error("first request should not be a replay")
		}
		if i > 0 && !replayed {
			t.Errorf("request %d should be a replay", i)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
}

func TestMiddlewareNoKeyPassesThrough(t *testing.T) {
	c := NewCache(time.Minute, 10)
	defer c.Stop()

	var calls atomic.Int64
	h := Middleware(c)(newCountingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/outcomes", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestMiddlewareIgnoresGet(t *testing.T) {
	c := NewCache(time.Minute, 10)
	defer c.Stop()

	var calls atomic.Int64
	h := Middleware(c)(newCountingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/thing", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestMiddlewareDoesNotCacheErrors(t *testing.T) {
	c := NewCache(time.Minute, 10)
	defer c.Stop()

	var calls atomic.Int64
	h := Middleware(c)(newCountingHandler(&calls, http.StatusBadRequest))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/outcomes", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("error responses should not be cached; handler ran %d times", calls.Load())
	}
}
