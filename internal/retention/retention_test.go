package retention

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manpreetbhatti/codesync-relay/internal/db"
)

func setupTestDB(t *testing.T) *db.Database {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codesync-retention-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})
	return database
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != time.Hour {
		t.Errorf("Expected hourly interval, got %v", cfg.Interval)
	}
	if cfg.MaxAge != 168*time.Hour {
		t.Errorf("Expected one week max age, got %v", cfg.MaxAge)
	}
}

func TestPruneNow(t *testing.T) {
	database := setupTestDB(t)
	now := time.Now()

	old, _ := database.OpenSession("room", now.Add(-10*24*time.Hour))
	database.CloseSession(old, db.SessionStats{}, now.Add(-9*24*time.Hour))
	fresh, _ := database.OpenSession("room", now.Add(-time.Hour))
	database.CloseSession(fresh, db.SessionStats{}, now)
	database.RecordExecution(db.Execution{Language: "go", CreatedAt: now.Add(-8 * 24 * time.Hour)})

	p := New(database, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }

	sessions, executions := p.PruneNow()
	if sessions != 1 || executions != 1 {
		t.Errorf("Expected 1/1 pruned, got %d/%d", sessions, executions)
	}

	left, err := database.ListSessions("room", 10, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(left) != 1 || left[0].ID != fresh {
		t.Errorf("Expected only the fresh session to remain, got %+v", left)
	}
}

func TestStartStop(t *testing.T) {
	database := setupTestDB(t)
	p := New(database, Config{Interval: 10 * time.Millisecond, MaxAge: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
}
