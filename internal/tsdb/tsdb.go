// Package tsdb is a lightweight embedded time-series store for allocation
// and win-rate history, backed by the service's SQLite database. It feeds
// the admin history endpoints; Prometheus remains the live metrics surface.
package tsdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Point is a single time-series data point.
type Point struct {
	Timestamp  time.Time `json:"timestamp"`
	Metric     string    `json:"metric"`
	Experiment string    `json:"experiment,omitempty"`
	Arm        string    `json:"arm,omitempty"`
	Value      float64   `json:"value"`
}

// Series represents a named time series with its data points.
type Series struct {
	Metric     string   `json:"metric"`
	Experiment string   `json:"experiment,omitempty"`
	Arm        string   `json:"arm,omitempty"`
	Points     []DataPt `json:"points"`
}

// DataPt is a timestamp+value pair for JSON output.
type DataPt struct {
	T     time.Time `json:"t"`
	Value float64   `json:"v"`
}

// QueryParams controls which data is returned.
type QueryParams struct {
	Metric     string
	Experiment string
	Arm        string
	Start      time.Time
	End        time.Time
	StepMs     int64 // downsample to this bucket size (0 = raw)
}

// Store buffers writes and persists them to a history table.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// Retention: auto-delete points older than this.
	retention time.Duration

	// Write buffer for batching inserts.
	buf    []Point
	bufMax int
}

// New creates a history store using the given SQLite DB handle.
func New(db *sql.DB) (*Store, error) {
	s := &Store{
		db:        db,
		retention: 7 * 24 * time.Hour, // 7 day default
		bufMax:    100,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRetention sets the data retention period.
func (s *Store) SetRetention(d time.Duration) {
	s.retention = d
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS history_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			metric TEXT NOT NULL,
			experiment TEXT NOT NULL DEFAULT '',
			arm TEXT NOT NULL DEFAULT '',
			value REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_ts ON history_points(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_history_metric ON history_points(metric, ts)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("history migrate: %w", err)
		}
	}
	return nil
}

// Write stores a single data point.
func (s *Store) Write(p Point) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.buf = append(s.buf, p)
	if len(s.buf) >= s.bufMax {
		buf := s.buf
		s.buf = nil
		s.mu.Unlock()
		s.flush(buf)
		return
	}
	s.mu.Unlock()
}

// Flush forces all buffered points to disk.
func (s *Store) Flush() {
	s.mu.Lock()
	buf := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(buf) > 0 {
		s.flush(buf)
	}
}

func (s *Store) flush(points []Point) {
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO history_points (ts, metric, experiment, arm, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		_, _ = stmt.Exec(p.Timestamp.UnixMilli(), p.Metric, p.Experiment, p.Arm, p.Value)
	}
	_ = tx.Commit()
}

// Query returns time-series data matching the given parameters.
func (s *Store) Query(ctx context.Context, q QueryParams) ([]Series, error) {
	s.Flush() // ensure buffered data is visible

	where := "WHERE metric = ?"
	args := []any{q.Metric}

	if q.Experiment != "" {
		where += " AND experiment = ?"
		args = append(args, q.Experiment)
	}
	if q.Arm != "" {
		where += " AND arm = ?"
		args = append(args, q.Arm)
	}
	if !q.Start.IsZero() {
		where += " AND ts >= ?"
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		where += " AND ts <= ?"
		args = append(args, q.End.UnixMilli())
	}

	var query string
	if q.StepMs > 0 {
		// Downsample: bucket by step, average values.
		query = fmt.Sprintf(
			`SELECT (ts / %d) * %d AS bucket, experiment, arm, AVG(value)
			 FROM history_points %s
			 GROUP BY bucket, experiment, arm
			 ORDER BY bucket ASC`, q.StepMs, q.StepMs, where)
	} else {
		query = fmt.Sprintf(
			`SELECT ts, experiment, arm, value
			 FROM history_points %s
			 ORDER BY ts ASC`, where)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	// Group into series by experiment+arm combo.
	type seriesKey struct{ experiment, arm string }
	grouped := make(map[seriesKey][]DataPt)
	var order []seriesKey

	for rows.Next() {
		var tsMs int64
		var experiment, arm string
		var value float64
		if err := rows.Scan(&tsMs, &experiment, &arm, &value); err != nil {
			return nil, err
		}
		k := seriesKey{experiment, arm}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], DataPt{
			T:     time.UnixMilli(tsMs),
			Value: value,
		})
	}

	var result []Series
	for _, k := range order {
		result = append(result, Series{
			Metric:     q.Metric,
			Experiment: k.experiment,
			Arm:        k.arm,
			Points:     grouped[k],
		})
	}
	return result, rows.Err()
}

// Prune removes data points older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.Flush()
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM history_points WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Metrics returns the list of distinct metric names.
func (s *Store) Metrics(ctx context.Context) ([]string, error) {
	s.Flush()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric FROM history_points ORDER BY metric`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var metrics []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
