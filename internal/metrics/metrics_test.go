package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.AllocationsTotal == nil {
		t.Fatal("expected non-nil AllocationsTotal counter")
	}
	if r.AllocationLatency == nil {
		t.Fatal("expected non-nil AllocationLatency histogram")
	}
	if r.OutcomesTotal == nil {
		t.Fatal("expected non-nil OutcomesTotal counter")
	}
	if r.RateLimited == nil {
		t.Fatal("expected non-nil RateLimited counter")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	h := r.Handler()
	if h == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.AllocationsTotal.WithLabelValues("checkout", "epsilon_greedy", "ok").Inc()
	r.AllocationLatency.WithLabelValues("checkout", "epsilon_greedy").Observe(42.0)
	r.OutcomesTotal.WithLabelValues("checkout", "red", "win").Inc()
	r.RateLimited.Inc()

	// Gather metrics from the registry; this exercises the full collection path.
	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"moebandit_allocations_total",
		"moebandit_allocation_latency_us",
		"moebandit_outcomes_total",
		"moebandit_rate_limited_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.AllocationsTotal.WithLabelValues("checkout", "epsilon_greedy", "ok").Inc()

	// r2 should have zero metrics gathered (no observations made).
	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}

func TestRegisteredMetricDescriptions(t *testing.T) {
	r := New()

	// Describe should emit descriptors for all registered metrics.
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		r.AllocationsTotal.Describe(ch)
		r.AllocationLatency.Describe(ch)
		r.OutcomesTotal.Describe(ch)
		r.RateLimited.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 4 {
		t.Errorf("expected 4 metric descriptors, got %d", count)
	}
}
