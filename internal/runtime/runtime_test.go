package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
	"github.com/80nF1R3H34D/dictwhisperer/internal/session"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Pre-flight failures must surface before any device or note file is
// touched, and Start must still release telemetry on those early
// returns.

func TestStartFailsFastOnMissingVault(t *testing.T) {
	cfg := config.Default()
	cfg.Vault.Path = filepath.Join(t.TempDir(), "missing-vault")
	cfg.STT.Mode = "mock"

	r := New(cfg, newTestLogger(), session.Callbacks{})
	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing vault")
	}
	if !strings.Contains(err.Error(), "vault path does not exist") {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.NotePath() != "" {
		t.Fatal("no note may be created when the vault check fails")
	}
}

func TestStartFailsBeforeNoteWhenTranscriberMissing(t *testing.T) {
	vault := t.TempDir()
	cfg := config.Default()
	cfg.Vault.Path = vault
	cfg.STT.Command = "no-such-transcriber-binary --output-json"

	r := New(cfg, newTestLogger(), session.Callbacks{})
	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing transcriber binary")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, readErr := os.ReadDir(vault)
	if readErr != nil {
		t.Fatalf("read vault: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no note file before pre-flight failure, found %d entries", len(entries))
	}
}
