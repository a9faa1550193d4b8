package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-control4/migrations"
)

// setupStateHistoryTestDB opens an in-memory database with the embedded
// migrations applied.
func setupStateHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// insertStateHistoryRow inserts a state history row with a specific timestamp.
func insertStateHistoryRow(t *testing.T, db *sql.DB, deviceID, stateJSON, source string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		deviceID,
		stateJSON,
		source,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert state history row: %v", err)
	}
}

func TestRecordStateChange(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	state := State{"available": true, "state": map[string]any{"hvac_mode": "heat", "target_temperature": 70}}
	if err := repo.RecordStateChange(ctx, "101", state, SourceSnapshot); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "101", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "101" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "101")
	}
	if entry.Source != SourceSnapshot {
		t.Errorf("Source = %q, want %q", entry.Source, SourceSnapshot)
	}
	if entry.CreatedAt.IsZero() || time.Since(entry.CreatedAt) > time.Minute {
		t.Errorf("CreatedAt = %v, want about now", entry.CreatedAt)
	}
	if avail, ok := entry.State["available"].(bool); !ok || !avail {
		t.Errorf("State[\"available\"] = %v, want true", entry.State["available"])
	}
	inner, ok := entry.State["state"].(map[string]any)
	if !ok || inner["target_temperature"] != float64(70) {
		t.Errorf("State[\"state\"] = %v", entry.State["state"])
	}
}

func TestRecordStateChange_Defaults(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, "", State{}, SourcePush); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("empty id error = %v, want ErrDeviceIDRequired", err)
	}

	if err := repo.RecordStateChange(ctx, "7", nil, ""); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}
	entries, err := repo.GetHistory(ctx, "7", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Source != SourcePush || len(entries[0].State) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestGetHistory(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertStateHistoryRow(t, db, "101", `{"available":false}`, SourceSnapshot, now.Add(-2*time.Hour))
	insertStateHistoryRow(t, db, "101", `{"available":true}`, SourcePush, now.Add(-1*time.Hour))
	insertStateHistoryRow(t, db, "101", `{"available":true}`, SourceCommand, now)
	insertStateHistoryRow(t, db, "202", `{"available":true}`, SourcePush, now)

	entries, err := repo.GetHistory(ctx, "101", 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now) || entries[0].Source != SourceCommand {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if !entries[1].CreatedAt.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("entry[1] CreatedAt = %s, want %s", entries[1].CreatedAt, now.Add(-1*time.Hour))
	}

	if _, err := repo.GetHistory(ctx, "", 10); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("empty id error = %v", err)
	}
}

func TestGetHistorySince(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		insertStateHistoryRow(t, db, "303", `{}`, SourcePush, now.Add(-time.Duration(i)*time.Hour))
	}

	entries, err := repo.GetHistorySince(ctx, "303", now.Add(-150*time.Minute), 100)
	if err != nil {
		t.Fatalf("GetHistorySince() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("entries length = %d, want 3", len(entries))
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultHistoryLimit},
		{-5, defaultHistoryLimit},
		{10, 10},
		{maxHistoryLimit + 1, maxHistoryLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPruneHistory(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertStateHistoryRow(t, db, "101", `{"available":true}`, SourcePush, now.Add(-40*24*time.Hour))
	insertStateHistoryRow(t, db, "101", `{"available":false}`, SourcePush, now.Add(-12*time.Hour))

	deleted, err := repo.PruneHistory(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.GetHistory(ctx, "101", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now.Add(-12 * time.Hour)) {
		t.Errorf("remaining CreatedAt = %s, want %s", entries[0].CreatedAt, now.Add(-12*time.Hour))
	}

	if _, err := repo.PruneHistory(ctx, 0); !errors.Is(err, ErrInvalidRetention) {
		t.Errorf("PruneHistory(0) error = %v, want ErrInvalidRetention", err)
	}
}

func TestParseHistoryTimestamp(t *testing.T) {
	if _, err := parseHistoryTimestamp(""); err == nil {
		t.Error("expected error for empty value")
	}
	if _, err := parseHistoryTimestamp("not a time"); err == nil {
		t.Error("expected error for garbage")
	}
	got, err := parseHistoryTimestamp("2026-03-01T09:00:00Z")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("parseHistoryTimestamp() = %v, %v", got, err)
	}
}
