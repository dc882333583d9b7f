package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestExperimentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := ExperimentRecord{
		ID:      "checkout-button",
		Subtype: "epsilon_greedy",
		Epsilon: 0.12,
		Arms:    []string{"red", "green", "blue"},
		Enabled: true,
	}
	if err := s.UpsertExperiment(ctx, exp); err != nil {
		t.Fatalf("UpsertExperiment: %v", err)
	}

	got, err := s.GetExperiment(ctx, "checkout-button")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got == nil {
		t.Fatal("expected experiment, got nil")
	}
	if got.Epsilon != 0.12 {
		t.Errorf("epsilon = %v, want 0.12", got.Epsilon)
	}
	if len(got.Arms) != 3 || got.Arms[0] != "red" {
		t.Errorf("arms = %v, want [red green blue]", got.Arms)
	}

	// Upsert updates in place.
	exp.Epsilon = 0.3
	exp.Arms = []string{"red", "green"}
	if err := s.UpsertExperiment(ctx, exp); err != nil {
		t.Fatalf("UpsertExperiment update: %v", err)
	}
	got, err = s.GetExperiment(ctx, "checkout-button")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got.Epsilon != 0.3 || len(got.Arms) != 2 {
		t.Errorf("after update: epsilon=%v arms=%v", got.Epsilon, got.Arms)
	}

	all, err := s.ListExperiments(ctx)
	if err != nil {
		t.Fatalf("ListExperiments: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListExperiments returned %d, want 1", len(all))
	}

	if err := s.DeleteExperiment(ctx, "checkout-button"); err != nil {
		t.Fatalf("DeleteExperiment: %v", err)
	}
	got, err = s.GetExperiment(ctx, "checkout-button")
	if err != nil {
		t.Fatalf("GetExperiment after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetExperimentMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetExperiment(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing experiment, got %+v", got)
	}
}

func TestOutcomeLogAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []struct {
		arm string
		win bool
	}{
		{"red", true}, {"red", true}, {"red", false},
		{"green", false}, {"green", false},
	}
	for i, e := range entries {
		err := s.LogOutcome(ctx, OutcomeRecord{
			Timestamp:    now.Add(time.Duration(i) * time.Second),
			ExperimentID: "exp1",
			Arm:          e.arm,
			Win:          e.win,
			RequestID:    "req-1",
		})
		if err != nil {
			t.Fatalf("LogOutcome: %v", err)
		}
	}

	logs, err := s.ListOutcomes(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(logs))
	}
	// Newest first.
	if logs[0].Arm != "green" {
		t.Errorf("first log arm = %s, want green (newest)", logs[0].Arm)
	}

	summary, err := s.OutcomeSummary(ctx)
	if err != nil {
		t.Fatalf("OutcomeSummary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("got %d summary rows, want 2", len(summary))
	}
	for _, row := range summary {
		switch row.Arm {
		case "red":
			if row.Wins != 2 || row.Losses != 1 || row.Total != 3 {
				t.Errorf("red: %+v", row)
			}
		case "green":
			if row.Wins != 0 || row.Losses != 2 || row.Total != 2 {
				t.Errorf("green: %+v", row)
			}
		default:
			t.Errorf("unexpected arm %q", row.Arm)
		}
	}
}

func TestListOutcomesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 10; i++ {
		err := s.LogOutcome(ctx, OutcomeRecord{
			Timestamp:    now.Add(time.Duration(i) * time.Second),
			ExperimentID: "exp1",
			Arm:          "a",
			Win:          true,
		})
		if err != nil {
			t.Fatalf("LogOutcome: %v", err)
		}
	}
	page, err := s.ListOutcomes(ctx, 3, 4)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(page) != 3 {
		t.Errorf("got %d, want 3", len(page))
	}
}

func TestAllocationLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.LogAllocation(ctx, AllocationRecord{
		Timestamp:    time.Now(),
		ExperimentID: "exp1",
		Subtype:      "epsilon_greedy",
		Epsilon:      0.1,
		NumArms:      3,
		WinningArms:  `["red"]`,
		ChosenArm:    "red",
		LatencyUs:    42,
		RequestID:    "req-2",
	})
	if err != nil {
		t.Fatalf("LogAllocation: %v", err)
	}

	logs, err := s.ListAllocations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d allocations, want 1", len(logs))
	}
	a := logs[0]
	if a.ChosenArm != "red" || a.NumArms != 3 || a.LatencyUs != 42 {
		t.Errorf("unexpected record: %+v", a)
	}
}

func TestAuditLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.LogAudit(ctx, AuditEntry{
		Timestamp: time.Now(),
		Action:    "experiment_created",
		Resource:  "exp1",
		Detail:    `{"epsilon":0.1}`,
		RequestID: "req-3",
	})
	if err != nil {
		t.Fatalf("LogAudit: %v", err)
	}

	logs, err := s.ListAuditLogs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "experiment_created" {
		t.Errorf("unexpected audit logs: %+v", logs)
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now()
	key := APIKeyRecord{
		ID:        "key1",
		KeyHash:   "$2a$10$abcdefg",
		KeyPrefix: "moe_abc1",
		Name:      "ci",
		Scopes:    `["allocate","outcomes"]`,
		CreatedAt: created,
		Enabled:   true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, "key1")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got == nil {
		t.Fatal("expected key, got nil")
	}
	if got.KeyPrefix != "moe_abc1" || !got.Enabled {
		t.Errorf("unexpected key: %+v", got)
	}
	if got.LastUsedAt != nil || got.ExpiresAt != nil {
		t.Errorf("expected nil timestamps, got last_used=%v expires=%v", got.LastUsedAt, got.ExpiresAt)
	}

	used := time.Now().Add(time.Minute)
	got.LastUsedAt = &used
	got.Enabled = false
	if err := s.UpdateAPIKey(ctx, *got); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	got, err = s.GetAPIKey(ctx, "key1")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Enabled {
		t.Error("expected disabled key")
	}
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}

	if err := s.DeleteAPIKey(ctx, "key1"); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	got, err = s.GetAPIKey(ctx, "key1")
	if err != nil {
		t.Fatalf("GetAPIKey after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}
