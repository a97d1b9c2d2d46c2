package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the relay's activity journal. It records room sessions and
// code executions; live room state is never read back from it.
type Database struct {
	db *sql.DB
}

type Session struct {
	ID          int64      `json:"id"`
	RoomID      string     `json:"room_id"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	PeakMembers int        `json:"peak_members"`
	PeakVoice   int        `json:"peak_voice"`
	Deltas      int64      `json:"deltas"`
	Language    string     `json:"language"`
}

// Running totals written while a session is open
type SessionStats struct {
	PeakMembers int
	PeakVoice   int
	Deltas      int64
	Language    string
}

type Execution struct {
	ID         int64     `json:"id"`
	Language   string    `json:"language"`
	IsError    bool      `json:"is_error"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		peak_members INTEGER NOT NULL DEFAULT 0,
		peak_voice INTEGER NOT NULL DEFAULT 0,
		deltas INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_room_id ON room_sessions(room_id, opened_at DESC);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		language TEXT NOT NULL,
		is_error BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Session operations

func (d *Database) OpenSession(roomID string, openedAt time.Time) (int64, error) {
	result, err := d.db.Exec(
		"INSERT INTO room_sessions (room_id, opened_at) VALUES (?, ?)",
		roomID, openedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (d *Database) UpdateSession(id int64, stats SessionStats) error {
	_, err := d.db.Exec(`
		UPDATE room_sessions
		SET peak_members = MAX(peak_members, ?), peak_voice = MAX(peak_voice, ?), deltas = ?, language = ?
		WHERE id = ?
	`, stats.PeakMembers, stats.PeakVoice, stats.Deltas, stats.Language, id)
	return err
}

func (d *Database) CloseSession(id int64, stats SessionStats, closedAt time.Time) error {
	if err := d.UpdateSession(id, stats); err != nil {
		return err
	}
	_, err := d.db.Exec(
		"UPDATE room_sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL",
		closedAt.UTC(), id,
	)
	return err
}

// Closes sessions left open by a previous process
func (d *Database) CloseOrphanedSessions(closedAt time.Time) (int64, error) {
	result, err := d.db.Exec(
		"UPDATE room_sessions SET closed_at = ? WHERE closed_at IS NULL",
		closedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *Database) GetSession(id int64) (*Session, error) {
	row := d.db.QueryRow(`
		SELECT id, room_id, opened_at, closed_at, peak_members, peak_voice, deltas, language
		FROM room_sessions WHERE id = ?
	`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns a room's sessions, newest first
func (d *Database) ListSessions(roomID string, limit, offset int) ([]Session, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, opened_at, closed_at, peak_members, peak_voice, deltas, language
		FROM room_sessions
		WHERE room_id = ?
		ORDER BY opened_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var closed sql.NullTime
	if err := row.Scan(&s.ID, &s.RoomID, &s.OpenedAt, &closed, &s.PeakMembers, &s.PeakVoice, &s.Deltas, &s.Language); err != nil {
		return nil, err
	}
	if closed.Valid {
		t := closed.Time
		s.ClosedAt = &t
	}
	return &s, nil
}

// Execution operations

func (d *Database) RecordExecution(e Execution) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result, err := d.db.Exec(
		"INSERT INTO executions (language, is_error, duration_ms, created_at) VALUES (?, ?, ?, ?)",
		e.Language, e.IsError, e.DurationMs, e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Retention

// Deletes closed sessions and executions older than cutoff
func (d *Database) DeleteBefore(cutoff time.Time) (sessions, executions int64, err error) {
	cutoff = cutoff.UTC()

	result, err := d.db.Exec(
		"DELETE FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, 0, err
	}
	if sessions, err = result.RowsAffected(); err != nil {
		return 0, 0, err
	}

	result, err = d.db.Exec("DELETE FROM executions WHERE created_at < ?", cutoff)
	if err != nil {
		return sessions, 0, err
	}
	executions, err = result.RowsAffected()
	return sessions, executions, err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_sessions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	var openCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_sessions WHERE closed_at IS NULL").Scan(&openCount); err != nil {
		return nil, err
	}
	stats["open_sessions"] = openCount

	var executionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&executionCount); err != nil {
		return nil, err
	}
	stats["execution_count"] = executionCount

	return stats, nil
}
