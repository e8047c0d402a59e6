package journal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralWritesNoDatabase(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "ephemeral"}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	if j.Enabled() {
		t.Fatal("ephemeral journal must not be enabled")
	}
	if err := j.AppendSession(context.Background(), "s1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := j.AppendEvent(context.Background(), Event{SessionID: "s1", Type: EventChunkSkipped}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if _, err := os.Stat(cfg.Path); !os.IsNotExist(err) {
		t.Fatal("ephemeral journal must not create a database file")
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	sessionID := "session-123"
	if err := j.AppendSession(context.Background(), sessionID); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := j.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventChunkTranscribed, ChunkIndex: 0, Level: 0.2}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := j.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventChunkSkipped, ChunkIndex: 1, Level: 0.001}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := j.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventChunkTranscribed || events[0].ChunkIndex != 0 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EventChunkSkipped || events[1].ChunkIndex != 1 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	j.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := j.AppendSession(context.Background(), "old-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := j.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventChunkTranscribed}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	j.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := j.AppendSession(context.Background(), "new-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := j.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := j.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatal("expected old session pruned")
	}
}
