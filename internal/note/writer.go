package note

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	filePrefix      = "LiveDictation_"
	timestampLayout = "2006-01-02_15-04-05"
)

// Writer appends transcript fragments to a single session note. The
// file is created once at session start and only ever appended to;
// every fragment is synced to disk before the next chunk begins, so a
// crash loses at most the in-flight chunk.
type Writer struct {
	file *os.File
	path string
}

// VerifyVault checks that the vault directory (and the optional
// subfolder) exists and is a directory. Failures are startup-fatal.
func VerifyVault(vaultPath, subfolder string) (string, error) {
	info, err := os.Stat(vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("vault path does not exist: %s", vaultPath)
		}
		return "", fmt.Errorf("stat vault path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("vault path is not a directory: %s", vaultPath)
	}

	dir := vaultPath
	if subfolder != "" {
		dir = filepath.Join(vaultPath, subfolder)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("vault subfolder does not exist: %s", dir)
			}
			return "", fmt.Errorf("stat vault subfolder: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("vault subfolder is not a directory: %s", dir)
		}
	}
	return dir, nil
}

// Create opens the session note named by the session start time and
// writes its header. An unwritable vault surfaces here, before any
// audio is captured.
func Create(dir string, start time.Time) (*Writer, error) {
	stamp := start.Format(timestampLayout)
	path := filepath.Join(dir, filePrefix+stamp+".md")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create session note: %w", err)
	}

	header := fmt.Sprintf("# Live Dictation - %s\n\n*Started at: %s*\n\n",
		stamp, start.Format("2006-01-02 15:04:05"))
	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write note header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("sync note header: %w", err)
	}

	return &Writer{file: file, path: path}, nil
}

// Append writes one transcript fragment as its own newline-terminated
// block and flushes it. Empty fragments are dropped.
func (w *Writer) Append(fragment string) error {
	if fragment == "" {
		return nil
	}
	if _, err := w.file.WriteString(fragment + "\n\n"); err != nil {
		return fmt.Errorf("append fragment: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync fragment: %w", err)
	}
	return nil
}

// Path returns the note's location for status output.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
