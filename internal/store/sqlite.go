package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying database handle so auxiliary stores can share
// the same SQLite file and connection pool.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			subtype TEXT NOT NULL DEFAULT 'epsilon_greedy',
			epsilon REAL NOT NULL DEFAULT 0.1,
			arms TEXT NOT NULL DEFAULT '[]',
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS outcome_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			experiment_id TEXT NOT NULL,
			arm TEXT NOT NULL,
			win INTEGER NOT NULL DEFAULT 0,
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_logs_ts ON outcome_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_logs_exp_arm ON outcome_logs(experiment_id, arm)`,
		`CREATE TABLE IF NOT EXISTS allocation_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			experiment_id TEXT NOT NULL,
			subtype TEXT NOT NULL DEFAULT '',
			epsilon REAL NOT NULL DEFAULT 0,
			num_arms INTEGER NOT NULL DEFAULT 0,
			winning_arms TEXT NOT NULL DEFAULT '',
			chosen_arm TEXT NOT NULL DEFAULT '',
			latency_us INTEGER NOT NULL DEFAULT 0,
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_allocation_logs_ts ON allocation_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_allocation_logs_exp ON allocation_logs(experiment_id)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '["allocate","sample","outcomes"]',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			expires_at TEXT,
			rotation_days INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Experiments

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subtype, epsilon, arms, enabled FROM experiments`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var experiments []ExperimentRecord
	for rows.Next() {
		var e ExperimentRecord
		var arms string
		if err := rows.Scan(&e.ID, &e.Subtype, &e.Epsilon, &arms, &e.Enabled); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(arms), &e.Arms); err != nil {
			return nil, fmt.Errorf("unmarshal arms for %s: %w", e.ID, err)
		}
		experiments = append(experiments, e)
	}
	return experiments, rows.Err()
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error) {
	var e ExperimentRecord
	var arms string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subtype, epsilon, arms, enabled FROM experiments WHERE id = ?`, id).
		Scan(&e.ID, &e.Subtype, &e.Epsilon, &arms, &e.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(arms), &e.Arms); err != nil {
		return nil, fmt.Errorf("unmarshal arms for %s: %w", e.ID, err)
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertExperiment(ctx context.Context, e ExperimentRecord) error {
	arms, err := json.Marshal(e.Arms)
	if err != nil {
		return fmt.Errorf("marshal arms: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, subtype, epsilon, arms, enabled)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   subtype=excluded.subtype,
		   epsilon=excluded.epsilon,
		   arms=excluded.arms,
		   enabled=excluded.enabled`,
		e.ID, e.Subtype, e.Epsilon, string(arms), e.Enabled)
	return err
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	return err
}

// Outcome Logs

func (s *SQLiteStore) LogOutcome(ctx context.Context, entry OutcomeRecord) error {
	winInt := 0
	if entry.Win {
		winInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcome_logs (timestamp, experiment_id, arm, win, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ExperimentID, entry.Arm, winInt, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int, offset int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, experiment_id, arm, win, request_id
		 FROM outcome_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var ts string
		var winInt int
		if err := rows.Scan(&o.ID, &ts, &o.ExperimentID, &o.Arm, &winInt, &o.RequestID); err != nil {
			return nil, err
		}
		o.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		o.Win = winInt != 0
		logs = append(logs, o)
	}
	return logs, rows.Err()
}

// OutcomeSummary aggregates the full outcome log into per-(experiment, arm)
// win/loss/total counts. Used to seed the in-memory tracker at startup.
func (s *SQLiteStore) OutcomeSummary(ctx context.Context) ([]OutcomeSummaryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, arm, SUM(win), COUNT(*) - SUM(win), COUNT(*)
		 FROM outcome_logs GROUP BY experiment_id, arm`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []OutcomeSummaryRow
	for rows.Next() {
		var r OutcomeSummaryRow
		if err := rows.Scan(&r.ExperimentID, &r.Arm, &r.Wins, &r.Losses, &r.Total); err != nil {
			return nil, err
		}
		summaries = append(summaries, r)
	}
	return summaries, rows.Err()
}

// Allocation Logs

func (s *SQLiteStore) LogAllocation(ctx context.Context, entry AllocationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO allocation_logs (timestamp, experiment_id, subtype, epsilon,
		 num_arms, winning_arms, chosen_arm, latency_us, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ExperimentID, entry.Subtype, entry.Epsilon, entry.NumArms,
		entry.WinningArms, entry.ChosenArm, entry.LatencyUs, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAllocations(ctx context.Context, limit int, offset int) ([]AllocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, experiment_id, subtype, epsilon, num_arms, winning_arms, chosen_arm, latency_us, request_id
		 FROM allocation_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AllocationRecord
	for rows.Next() {
		var a AllocationRecord
		var ts string
		if err := rows.Scan(&a.ID, &ts, &a.ExperimentID, &a.Subtype, &a.Epsilon,
			&a.NumArms, &a.WinningArms, &a.ChosenArm, &a.LatencyUs, &a.RequestID); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		logs = append(logs, a)
	}
	return logs, rows.Err()
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// API Keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at, rotation_days, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		key.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(key.LastUsedAt), nullableTime(key.ExpiresAt),
		key.RotationDays, enabledInt)
	return err
}

func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at, rotation_days, enabled
		 FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at, rotation_days, enabled
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, scopes=?, last_used_at=?, expires_at=?, rotation_days=?, enabled=?
		 WHERE id=?`,
		key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		nullableTime(key.LastUsedAt), nullableTime(key.ExpiresAt),
		key.RotationDays, enabledInt, key.ID)
	return err
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

// scanner abstracts *sql.Row and *sql.Rows for scanAPIKey.
type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row scanner) (*APIKeyRecord, error) {
	var k APIKeyRecord
	var createdAt string
	var lastUsed, expires sql.NullString
	var enabledInt int
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Scopes,
		&createdAt, &lastUsed, &expires, &k.RotationDays, &enabledInt); err != nil {
		return nil, err
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastUsed.String)
		k.LastUsedAt = &t
	}
	if expires.Valid {
		t, _ := time.Parse(time.RFC3339Nano, expires.String)
		k.ExpiresAt = &t
	}
	k.Enabled = enabledInt != 0
	return &k, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
