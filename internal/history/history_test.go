package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func sampleEntry(id string, ended time.Time) Entry {
	code := 1
	return Entry{
		SessionID:      id,
		KeyFingerprint: "abc123def456",
		Resolution:     "1280x720",
		FrameRate:      30,
		Bitrate:        "2500k",
		Preset:         "veryfast",
		StartedAt:      ended.Add(-time.Minute),
		EndedAt:        ended,
		Reason:         "encoder-exit",
		ExitCode:       &code,
		LastFPS:        29,
		LastBitrate:    2412.5,
		Error:          "encoder exited with code 1",
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Record(ctx, Entry{}); err == nil {
		t.Fatal("expected error for entry without session id")
	}
	for i, id := range []string{"stream_a", "stream_b", "stream_c"} {
		if err := store.Record(ctx, sampleEntry(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	entries, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "stream_c" || entries[1].SessionID != "stream_b" {
		t.Fatalf("expected newest first, got %s, %s", entries[0].SessionID, entries[1].SessionID)
	}
	got := entries[0]
	if got.ExitCode == nil || *got.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", got.ExitCode)
	}
	if !got.EndedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected ended at %s", got.EndedAt)
	}
	if got.Duration() != time.Minute {
		t.Fatalf("expected 1m duration, got %s", got.Duration())
	}
	if got.LastFPS != 29 || got.LastBitrate != 2412.5 || got.Resolution != "1280x720" {
		t.Fatalf("unexpected entry %+v", got)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List default: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries with default limit, got %d", len(all))
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"one", "two", "three"} {
		if err := store.Record(ctx, sampleEntry(id, now)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, _ := store.List(ctx, 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "three" || entries[1].SessionID != "two" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	entry := sampleEntry("stream_keep", time.Now().UTC())
	entry.ExitCode = nil
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)
	entries, err := reopened.List(ctx, 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "stream_keep" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].ExitCode != nil {
		t.Fatalf("expected nil exit code, got %d", *entries[0].ExitCode)
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "memory", "")
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, err := Open(ctx, "mongo", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(ctx, "sqlite", ""); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
	if _, err := Open(ctx, "postgres", " "); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}
