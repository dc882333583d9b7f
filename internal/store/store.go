package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for moebandit.
type Store interface {
	// Experiments
	ListExperiments(ctx context.Context) ([]ExperimentRecord, error)
	GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error)
	UpsertExperiment(ctx context.Context, e ExperimentRecord) error
	DeleteExperiment(ctx context.Context, id string) error

	// Outcome log (source of truth for arm counters)
	LogOutcome(ctx context.Context, entry OutcomeRecord) error
	ListOutcomes(ctx context.Context, limit int, offset int) ([]OutcomeRecord, error)
	OutcomeSummary(ctx context.Context) ([]OutcomeSummaryRow, error)

	// Allocation log (for audit and dashboard)
	LogAllocation(ctx context.Context, entry AllocationRecord) error
	ListAllocations(ctx context.Context, limit int, offset int) ([]AllocationRecord, error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// API keys
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ExperimentRecord is the persisted configuration of one bandit experiment.
// Epsilon is the experiment's exploration rate; Arms lists the arm names so
// never-tried arms still participate in allocation.
type ExperimentRecord struct {
	ID      string   `json:"id"`
	Subtype string   `json:"subtype"`
	Epsilon float64  `json:"epsilon"`
	Arms    []string `json:"arms"`
	Enabled bool     `json:"enabled"`
}

// OutcomeRecord is a persisted trial outcome for one (experiment, arm).
type OutcomeRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ExperimentID string    `json:"experiment_id"`
	Arm          string    `json:"arm"`
	Win          bool      `json:"win"`
	RequestID    string    `json:"request_id,omitempty"`
}

// OutcomeSummaryRow holds aggregated outcome counts for one
// (experiment, arm), used to seed the tracker at startup.
type OutcomeSummaryRow struct {
	ExperimentID string
	Arm          string
	Wins         int64
	Losses       int64
	Total        int64
}

// AllocationRecord captures a single computed allocation for audit/dashboard.
type AllocationRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ExperimentID string    `json:"experiment_id"`
	Subtype      string    `json:"subtype"`
	Epsilon      float64   `json:"epsilon"`
	NumArms      int       `json:"num_arms"`
	WinningArms  string    `json:"winning_arms,omitempty"` // JSON array of top arms
	ChosenArm    string    `json:"chosen_arm,omitempty"`   // set by /v1/sample only
	LatencyUs    int64     `json:"latency_us"`
	RequestID    string    `json:"request_id,omitempty"`
}

// AuditEntry captures an admin mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`               // e.g. "experiment.upsert", "apikey.rotate"
	Resource  string    `json:"resource"`             // e.g. experiment or key ID
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// APIKeyRecord is the persisted form of an API key. Only the bcrypt hash is
// stored; the plaintext is returned exactly once at generation time.
type APIKeyRecord struct {
	ID           string     `json:"id"`
	KeyHash      string     `json:"-"`
	KeyPrefix    string     `json:"key_prefix"`
	Name         string     `json:"name"`
	Scopes       string     `json:"scopes"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RotationDays int        `json:"rotation_days"`
	Enabled      bool       `json:"enabled"`
}
