package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("enables WAL", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "wal.db")
		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 1})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // test cleanup

		var mode string
		if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("PRAGMA journal_mode: %v", err)
		}
		if !strings.EqualFold(mode, "wal") {
			t.Errorf("journal_mode = %q, want wal", mode)
		}
	})

	t.Run("enables foreign keys", func(t *testing.T) {
		db := openTestDB(t)
		var fk int
		if err := db.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("PRAGMA foreign_keys: %v", err)
		}
		if fk != 1 {
			t.Errorf("foreign_keys = %d, want 1", fk)
		}
	})
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err == nil {
		t.Fatal("Open() with cancelled context should fail")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDSN(t *testing.T) {
	got := dsn(Config{Path: "/data/c4.db", WALMode: true, BusyTimeout: 5})
	want := "file:/data/c4.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"
	if got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}

	if got := dsn(Config{Path: memoryPath, WALMode: true}); strings.Contains(got, "WAL") {
		t.Errorf("in-memory dsn should not request WAL: %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	db.Close() //nolint:errcheck // closing to force failure
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	empty := &DB{}
	if err := empty.Close(); err != nil {
		t.Errorf("Close() on empty DB error = %v", err)
	}
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	t.Run("commit", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		assertCount(t, db, 1)
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (2)"); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		assertCount(t, db, 1)
	})
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil || !strings.Contains(err.Error(), "executing query") {
		t.Errorf("ExecContext() error = %v, want wrapped error", err)
	}
}

func assertCount(t *testing.T, db *DB, want int) {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != want {
		t.Errorf("row count = %d, want %d", n, want)
	}
}

// openTestDB opens a private in-memory database closed at test end.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: memoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}
