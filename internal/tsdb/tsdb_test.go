package tsdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteAndQuery(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	s.Write(Point{Timestamp: base, Metric: "allocation_prob", Experiment: "exp1", Arm: "a", Value: 0.9})
	s.Write(Point{Timestamp: base.Add(time.Second), Metric: "allocation_prob", Experiment: "exp1", Arm: "a", Value: 0.8})
	s.Write(Point{Timestamp: base, Metric: "allocation_prob", Experiment: "exp1", Arm: "b", Value: 0.1})

	series, err := s.Query(context.Background(), QueryParams{Metric: "allocation_prob", Experiment: "exp1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	total := 0
	for _, sr := range series {
		total += len(sr.Points)
	}
	if total != 3 {
		t.Errorf("expected 3 points total, got %d", total)
	}
}

func TestQueryArmFilter(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	s.Write(Point{Timestamp: now, Metric: "win_rate", Experiment: "exp1", Arm: "a", Value: 0.5})
	s.Write(Point{Timestamp: now, Metric: "win_rate", Experiment: "exp1", Arm: "b", Value: 0.2})

	series, err := s.Query(context.Background(), QueryParams{Metric: "win_rate", Arm: "b"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(series) != 1 || series[0].Arm != "b" {
		t.Fatalf("expected only arm b, got %+v", series)
	}
	if series[0].Points[0].Value != 0.2 {
		t.Errorf("expected value 0.2, got %v", series[0].Points[0].Value)
	}
}

func TestQueryTimeRange(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	s.Write(Point{Timestamp: base.Add(-2 * time.Hour), Metric: "win_rate", Experiment: "exp1", Arm: "a", Value: 1})
	s.Write(Point{Timestamp: base, Metric: "win_rate", Experiment: "exp1", Arm: "a", Value: 2})

	series, err := s.Query(context.Background(), QueryParams{
		Metric: "win_rate",
		Start:  base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(series) != 1 || len(series[0].Points) != 1 {
		t.Fatalf("expected single point in range, got %+v", series)
	}
	if series[0].Points[0].Value != 2 {
		t.Errorf("expected recent point, got %v", series[0].Points[0].Value)
	}
}

func TestDownsample(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Minute)
	// Four points in the same minute bucket.
	for i, v := range []float64{1, 2, 3, 4} {
		s.Write(Point{Timestamp: base.Add(time.Duration(i) * time.Second), Metric: "m", Experiment: "e", Arm: "a", Value: v})
	}

	series, err := s.Query(context.Background(), QueryParams{Metric: "m", StepMs: 60_000})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(series) != 1 || len(series[0].Points) != 1 {
		t.Fatalf("expected single downsampled point, got %+v", series)
	}
	if got := series[0].Points[0].Value; got != 2.5 {
		t.Errorf("expected average 2.5, got %v", got)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	s.SetRetention(time.Hour)
	now := time.Now().UTC()
	s.Write(Point{Timestamp: now.Add(-2 * time.Hour), Metric: "m", Value: 1})
	s.Write(Point{Timestamp: now, Metric: "m", Value: 2})

	n, err := s.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}

	series, err := s.Query(context.Background(), QueryParams{Metric: "m"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(series) != 1 || len(series[0].Points) != 1 {
		t.Fatalf("expected single surviving point, got %+v", series)
	}
}

func TestMetricsList(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	s.Write(Point{Timestamp: now, Metric: "b_metric", Value: 1})
	s.Write(Point{Timestamp: now, Metric: "a_metric", Value: 1})

	metrics, err := s.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(metrics) != 2 || metrics[0] != "a_metric" || metrics[1] != "b_metric" {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
}

func TestBufferFlushOnThreshold(t *testing.T) {
	s := newTestStore(t)
	s.bufMax = 5
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Write(Point{Timestamp: now, Metric: "m", Experiment: "e", Arm: "a", Value: float64(i)})
	}
	// Buffer hit bufMax so all points should already be on disk.
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM history_points`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 rows flushed, got %d", count)
	}
}
