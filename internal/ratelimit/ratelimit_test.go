package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(10, 3, time.Second)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("request beyond burst should be rejected")
	}
}

func TestRefillOverTime(t *testing.T) {
	// 100 tokens per second so a short sleep earns a token back.
	l := New(100, 1, time.Second)
	defer l.Stop()

	if !l.Allow("client") {
		t.Fatal("first request should pass")
	}
	if l.Allow("client") {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("bucket should have refilled after waiting")
	}
}

func TestClientsIndependent(t *testing.T) {
	l := New(1, 1, time.Hour)
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("client a first request should pass")
	}
	if !l.Allow("b") {
		t.Error("client b should have its own bucket")
	}
	if l.Allow("a") {
		t.Error("client a should be exhausted")
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejected_total"})
	l := New(1, 1, time.Hour, WithCounter(counter))
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("expected Retry-After header on 429")
	}
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
}

func TestMiddlewarePrefersRealIPHeader(t *testing.T) {
	l := New(1, 1, time.Hour)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Same RemoteAddr but distinct X-Real-IP values are separate clients.
	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("ip %s: status %d, want 200", ip, rec.Code)
		}
	}
}

func TestEvictStalest(t *testing.T) {
	l := New(1, 1, time.Hour)
	defer l.Stop()
	l.maxClients = 2

	l.Allow("a")
	time.Sleep(5 * time.Millisecond)
	l.Allow("b")
	time.Sleep(5 * time.Millisecond)
	l.Allow("c") // evicts a

	l.mu.Lock()
	_, hasA := l.clients["a"]
	_, hasC := l.clients["c"]
	n := len(l.clients)
	l.mu.Unlock()

	if hasA {
		t.Error("stalest client should have been evicted")
	}
	if !hasC {
		t.Error("newest client should be present")
	}
	if n != 2 {
		t.Errorf("client count = %d, want 2", n)
	}
}
