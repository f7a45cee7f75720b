package log

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Used when the configuration leaves size or backups unset.
const (
	DefaultMaxSize    int64 = 10 << 20
	DefaultMaxBackups       = 3
)

// RotatingFile appends to a log file. When a write would push the file past
// its size limit, the file becomes path.1, older backups shift up by one and
// the oldest beyond the backup count is dropped.
type RotatingFile struct {
	path    string
	limit   int64
	backups int

	mu      sync.Mutex
	f       *os.File
	written int64
}

// NewRotatingFile opens path for appending, creating its directory. A
// non-positive maxSize means DefaultMaxSize. With no backups the file is
// simply truncated when full.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	rf := &RotatingFile{path: path, limit: maxSize, backups: max(maxBackups, 0)}
	if err := rf.reopen(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Path is the file currently written to.
func (rf *RotatingFile) Path() string { return rf.path }

// reopen opens the file owner-only; log lines name hosts and accounts.
func (rf *RotatingFile) reopen() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0o700); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	f, err := os.OpenFile(rf.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("log: %w", err)
	}
	rf.f, rf.written = f, st.Size()
	return nil
}

// Write appends p. An oversized p is written whole to a fresh file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, os.ErrClosed
	}
	if rf.written > 0 && rf.written+int64(len(p)) > rf.limit {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("log: rotate: %w", err)
		}
	}
	n, err := rf.f.Write(p)
	rf.written += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	err := rf.f.Close()
	rf.f = nil
	if err != nil {
		return err
	}

	if rf.backups == 0 {
		if err := removeIfExists(rf.path); err != nil {
			return err
		}
		return rf.reopen()
	}

	if err := removeIfExists(rf.backup(rf.backups)); err != nil {
		return err
	}
	for n := rf.backups; n > 1; n-- {
		if err := renameIfExists(rf.backup(n-1), rf.backup(n)); err != nil {
			return err
		}
	}
	if err := renameIfExists(rf.path, rf.backup(1)); err != nil {
		return err
	}
	return rf.reopen()
}

func (rf *RotatingFile) backup(n int) string {
	return rf.path + "." + fmt.Sprint(n)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func renameIfExists(from, to string) error {
	if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close closes the file. Later calls and writes after it are harmless.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}
