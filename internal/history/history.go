// Package history records finished sessions.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultLimit       = 50
	defaultMemoryLimit = 500
)

// Entry is one finished session lifecycle.
type Entry struct {
	SessionID      string    `json:"sessionId"`
	KeyFingerprint string    `json:"keyFingerprint"`
	Resolution     string    `json:"resolution"`
	FrameRate      int       `json:"framerate"`
	Bitrate        string    `json:"bitrate"`
	Preset         string    `json:"preset"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	Reason         string    `json:"reason"`
	ExitCode       *int      `json:"exitCode,omitempty"`
	LastFPS        int       `json:"lastFps"`
	LastBitrate    float64   `json:"lastBitrate"`
	Error          string    `json:"error,omitempty"`
}

// Duration is the time between start and end.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.EndedAt.Before(e.StartedAt) {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Store persists entries.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close(ctx context.Context) error
}

// Open selects a store by driver name: memory, sqlite or postgres.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemoryStore(0), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func validate(entry Entry) error {
	if strings.TrimSpace(entry.SessionID) == "" {
		return fmt.Errorf("history entry session id is required")
	}
	return nil
}

// MemoryStore keeps the most recent entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemoryStore keeps at most max entries, dropping the oldest.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = defaultMemoryLimit
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.max {
		s.entries = append([]Entry(nil), s.entries[len(s.entries)-s.max:]...)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
