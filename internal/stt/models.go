package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

// Weight files in whisper.cpp's ggml layout, one per model size.
const defaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ErrChecksumMismatch indicates the downloaded weights did not match the
// configured checksum, after a retry. Recoverable by fetching manually.
var ErrChecksumMismatch = errors.New("model checksum mismatch")

// ModelManager resolves model sizes to on-disk ggml weight files,
// downloading them into a local cache on first use.
type ModelManager struct {
	dir      string
	baseURL  string
	checksum string
	client   *http.Client
	logger   *slog.Logger
}

func NewModelManager(cfg config.STTConfig, logger *slog.Logger) (*ModelManager, error) {
	dir := cfg.ModelDir
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(cache, "dictwhisperer", "models")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &ModelManager{
		dir:      dir,
		baseURL:  defaultModelBaseURL,
		checksum: strings.ToLower(strings.TrimSpace(cfg.ModelChecksum)),
		client:   &http.Client{Timeout: 30 * time.Minute},
		logger:   logger,
	}, nil
}

// Ensure returns the path of the weight file for the given size,
// downloading it first if the cache does not hold it yet. A checksum
// mismatch is retried once with a fresh download before giving up.
func (m *ModelManager) Ensure(ctx context.Context, size string) (string, error) {
	name := fmt.Sprintf("ggml-%s.bin", size)
	path := filepath.Join(m.dir, name)

	if ok, err := m.verifyExisting(path); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	m.logger.Info("downloading model weights",
		slog.String("size", size),
		slog.String("path", path))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			m.logger.Warn("model download failed, retrying", slog.String("error", lastErr.Error()))
		}
		if err := m.download(ctx, name, path); err != nil {
			lastErr = err
			if errors.Is(err, ErrChecksumMismatch) {
				continue
			}
			return "", err
		}
		return path, nil
	}

	return "", fmt.Errorf("%w: fetch %s/%s manually and place it at %s",
		ErrChecksumMismatch, m.baseURL, name, path)
}

// verifyExisting reports whether a cached weight file is present and,
// when a checksum is configured, intact. A corrupted file is removed so
// the caller re-downloads it.
func (m *ModelManager) verifyExisting(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat model file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return false, nil
	}
	if m.checksum == "" {
		return true, nil
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	if sum != m.checksum {
		m.logger.Warn("cached model weights corrupted, re-downloading",
			slog.String("path", path))
		_ = os.Remove(path)
		return false, nil
	}
	return true, nil
}

func (m *ModelManager) download(ctx context.Context, name, path string) error {
	url := m.baseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch model weights: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch model weights: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(m.dir, name+".partial_*")
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write model weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}

	if m.checksum != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if sum != m.checksum {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, m.checksum)
		}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move model weights into place: %w", err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash model file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
