package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codesync-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	opened := time.Now().Add(-time.Hour)
	id, err := db.OpenSession("test-room", opened)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}

	if err := db.UpdateSession(id, SessionStats{PeakMembers: 3, PeakVoice: 1, Deltas: 10, Language: "python"}); err != nil {
		t.Fatalf("Failed to update session: %v", err)
	}

	// Peaks never shrink
	if err := db.CloseSession(id, SessionStats{PeakMembers: 1, Deltas: 12, Language: "go"}, time.Now()); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	s, err := db.GetSession(id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s == nil {
		t.Fatal("Session should exist")
	}
	if s.RoomID != "test-room" {
		t.Errorf("Expected room ID 'test-room', got '%s'", s.RoomID)
	}
	if s.PeakMembers != 3 || s.PeakVoice != 1 {
		t.Errorf("Expected peaks 3/1, got %d/%d", s.PeakMembers, s.PeakVoice)
	}
	if s.Deltas != 12 || s.Language != "go" {
		t.Errorf("Expected 12 deltas in go, got %d in %s", s.Deltas, s.Language)
	}
	if s.ClosedAt == nil {
		t.Error("Session should be closed")
	}
}

func TestGetMissingSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s, err := db.GetSession(999)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s != nil {
		t.Error("Expected nil for a missing session")
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Now().Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := db.OpenSession("room-a", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Failed to open session: %v", err)
		}
	}
	db.OpenSession("room-b", base)

	sessions, err := db.ListSessions("room-a", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}
	if !sessions[0].OpenedAt.After(sessions[2].OpenedAt) {
		t.Error("Expected newest session first")
	}

	page, err := db.ListSessions("room-a", 1, 1)
	if err != nil {
		t.Fatalf("Failed to page sessions: %v", err)
	}
	if len(page) != 1 || page[0].ID != sessions[1].ID {
		t.Errorf("Expected second session on page 2, got %+v", page)
	}

	empty, err := db.ListSessions("nobody", 10, 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil list, got %v (%v)", empty, err)
	}
}

func TestCloseOrphanedSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("a", time.Now())
	db.OpenSession("b", time.Now())
	closedID, _ := db.OpenSession("c", time.Now())
	db.CloseSession(closedID, SessionStats{}, time.Now())

	n, err := db.CloseOrphanedSessions(time.Now())
	if err != nil {
		t.Fatalf("Failed to close orphans: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 orphaned sessions, got %d", n)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["open_sessions"] != 0 {
		t.Errorf("Expected no open sessions, got %v", stats["open_sessions"])
	}
}

func TestDeleteBefore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	old, _ := db.OpenSession("room", now.Add(-48*time.Hour))
	db.CloseSession(old, SessionStats{}, now.Add(-47*time.Hour))
	recent, _ := db.OpenSession("room", now.Add(-time.Hour))
	db.CloseSession(recent, SessionStats{}, now.Add(-30*time.Minute))
	db.OpenSession("room", now.Add(-72*time.Hour)) // still open

	db.RecordExecution(Execution{Language: "python", CreatedAt: now.Add(-48 * time.Hour)})
	db.RecordExecution(Execution{Language: "go", IsError: true, DurationMs: 20})

	sessions, executions, err := db.DeleteBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if sessions != 1 || executions != 1 {
		t.Errorf("Expected 1 session and 1 execution pruned, got %d/%d", sessions, executions)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["session_count"] != 2 {
		t.Errorf("Expected 2 sessions left, got %v", stats["session_count"])
	}
	if stats["execution_count"] != 1 {
		t.Errorf("Expected 1 execution left, got %v", stats["execution_count"])
	}
}
