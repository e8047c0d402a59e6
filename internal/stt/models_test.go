package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T, serverURL, checksum string) *ModelManager {
	t.Helper()
	m, err := NewModelManager(config.STTConfig{
		ModelDir:      t.TempDir(),
		ModelChecksum: checksum,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("new model manager: %v", err)
	}
	m.baseURL = serverURL
	return m
}

func sumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestEnsureDownloadsAndCaches(t *testing.T) {
	weights := []byte("pretend ggml weights")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/ggml-tiny.bin" {
			http.NotFound(w, r)
			return
		}
		w.Write(weights)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL, sumOf(weights))

	path, err := m.Ensure(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read weights: %v", err)
	}
	if string(got) != string(weights) {
		t.Fatal("downloaded weights do not match served bytes")
	}

	// Second call hits the cache, not the server.
	if _, err := m.Ensure(context.Background(), "tiny"); err != nil {
		t.Fatalf("ensure cached: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 download, got %d", hits.Load())
	}
}

func TestEnsureRetriesChecksumMismatchOnce(t *testing.T) {
	weights := []byte("good weights")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte("truncated garbage"))
			return
		}
		w.Write(weights)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL, sumOf(weights))

	path, err := m.Ensure(context.Background(), "base")
	if err != nil {
		t.Fatalf("ensure after retry: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(weights) {
		t.Fatal("expected retried download to win")
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 downloads, got %d", hits.Load())
	}
}

func TestEnsurePersistentMismatchSurfacesGuidance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("always wrong"))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL, sumOf([]byte("what we wanted")))

	_, err := m.Ensure(context.Background(), "small")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch error, got %v", err)
	}
	// No weight file may be left behind.
	if _, statErr := os.Stat(filepath.Join(m.dir, "ggml-small.bin")); !os.IsNotExist(statErr) {
		t.Fatal("expected no weight file after failed download")
	}
}

func TestEnsureCorruptedCacheIsRedownloaded(t *testing.T) {
	weights := []byte("fresh weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(weights)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL, sumOf(weights))

	corrupted := filepath.Join(m.dir, "ggml-medium.bin")
	if err := os.WriteFile(corrupted, []byte("bit rot"), 0o644); err != nil {
		t.Fatalf("write corrupted cache: %v", err)
	}

	path, err := m.Ensure(context.Background(), "medium")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(weights) {
		t.Fatal("expected corrupted cache to be replaced")
	}
}

func TestEnsureServerErrorIsNotRetriedAsChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL, "")
	if _, err := m.Ensure(context.Background(), "tiny"); err == nil {
		t.Fatal("expected error for server failure")
	}
}
