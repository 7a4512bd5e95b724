package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_history (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    key_fingerprint TEXT NOT NULL DEFAULT '',
    resolution TEXT NOT NULL DEFAULT '',
    framerate INTEGER NOT NULL DEFAULT 0,
    bitrate TEXT NOT NULL DEFAULT '',
    preset TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    exit_code INTEGER,
    last_fps INTEGER NOT NULL DEFAULT 0,
    last_bitrate DOUBLE PRECISION NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_session_history_ended ON session_history (ended_at DESC);
`

// PostgresStore persists entries to Postgres so several studio instances
// can share one history.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects using dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres history dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres history config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres history pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if s.pool == nil {
		return fmt.Errorf("postgres history pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO session_history (
    session_id, key_fingerprint, resolution, framerate, bitrate, preset,
    started_at, ended_at, reason, exit_code, last_fps, last_bitrate, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, entry.SessionID, entry.KeyFingerprint, entry.Resolution, entry.FrameRate, entry.Bitrate, entry.Preset,
		entry.StartedAt.UTC(), entry.EndedAt.UTC(), entry.Reason, entry.ExitCode, entry.LastFPS, entry.LastBitrate, entry.Error)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres history pool not configured")
	}
	rows, err := s.pool.Query(ctx, `
SELECT session_id, key_fingerprint, resolution, framerate, bitrate, preset,
       started_at, ended_at, reason, exit_code, last_fps, last_bitrate, error
FROM session_history
ORDER BY id DESC
LIMIT $1
`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.SessionID, &entry.KeyFingerprint, &entry.Resolution, &entry.FrameRate,
			&entry.Bitrate, &entry.Preset, &entry.StartedAt, &entry.EndedAt, &entry.Reason,
			&entry.ExitCode, &entry.LastFPS, &entry.LastBitrate, &entry.Error,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close releases the pool, giving up when ctx ends first.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
