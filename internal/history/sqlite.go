package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    key_fingerprint TEXT NOT NULL DEFAULT '',
    resolution TEXT NOT NULL DEFAULT '',
    framerate INTEGER NOT NULL DEFAULT 0,
    bitrate TEXT NOT NULL DEFAULT '',
    preset TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    ended_at TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    exit_code INTEGER,
    last_fps INTEGER NOT NULL DEFAULT 0,
    last_bitrate REAL NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_session_history_ended ON session_history (ended_at);
`

// SQLiteStore persists entries in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	var exitCode sql.NullInt64
	if entry.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*entry.ExitCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_history (
    session_id, key_fingerprint, resolution, framerate, bitrate, preset,
    started_at, ended_at, reason, exit_code, last_fps, last_bitrate, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.KeyFingerprint,
		entry.Resolution,
		entry.FrameRate,
		entry.Bitrate,
		entry.Preset,
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		entry.EndedAt.UTC().Format(time.RFC3339Nano),
		entry.Reason,
		exitCode,
		entry.LastFPS,
		entry.LastBitrate,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, key_fingerprint, resolution, framerate, bitrate, preset,
       started_at, ended_at, reason, exit_code, last_fps, last_bitrate, error
FROM session_history
ORDER BY id DESC
LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry     Entry
			startedAt string
			endedAt   string
			exitCode  sql.NullInt64
		)
		if err := rows.Scan(
			&entry.SessionID, &entry.KeyFingerprint, &entry.Resolution, &entry.FrameRate,
			&entry.Bitrate, &entry.Preset, &startedAt, &endedAt, &entry.Reason,
			&exitCode, &entry.LastFPS, &entry.LastBitrate, &entry.Error,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.StartedAt = parseTime(startedAt)
		entry.EndedAt = parseTime(endedAt)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			entry.ExitCode = &code
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
