// ABOUTME: File-backed subscription ledger with serialized read-modify-write
// ABOUTME: Tolerates missing or corrupt documents and writes via temp file + rename

package subscription

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LedgerStore is the persistence contract the service and reconciler need.
type LedgerStore interface {
	Read(ctx context.Context) Ledger
	Update(ctx context.Context, fn func(Ledger) error) error
}

// FileStore persists the ledger as a single JSON document.
//
// Every mutation holds mu (and an advisory lock on path+".lock" where the
// platform supports it) from read to rename, so concurrent extensions never
// overwrite each other. Read takes neither lock; it sees the document before
// or after a rename, never a partial one.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a store for the ledger document at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "ledger"),
	}
}

// Path returns the ledger document location.
func (s *FileStore) Path() string {
	return s.path
}

// Init creates the ledger document as {} if it does not exist yet.
func (s *FileStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking ledger file: %w", err)
	}

	if err := s.writeLocked(Ledger{}); err != nil {
		return err
	}
	s.logger.Info("created empty ledger", "path", s.path)
	return nil
}

// Read returns the latest durable ledger. A missing, unreadable, or corrupt
// document yields an empty ledger.
func (s *FileStore) Read(_ context.Context) Ledger {
	return s.load()
}

// Write replaces the whole document with l.
func (s *FileStore) Write(ctx context.Context, l Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeLocked(l)
}

// Update runs fn against the current ledger and persists the result, holding
// the store lock for the full span. If fn fails nothing is written.
func (s *FileStore) Update(ctx context.Context, fn func(Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	ledger := s.load()
	if err := fn(ledger); err != nil {
		return err
	}
	return s.writeLocked(ledger)
}

// acquire takes the cross-process file lock. Must be called with mu held.
func (s *FileStore) acquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return lockFile(s.path + ".lock")
}

func (s *FileStore) load() Ledger {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Ledger{}
	}
	if err != nil {
		s.logger.Warn("reading ledger failed, treating as empty", "path", s.path, "error", err)
		return Ledger{}
	}

	ledger, err := decodeLedger(data)
	if err != nil {
		s.logger.Warn("ledger is corrupt, treating as empty", "path", s.path, "error", err)
		return Ledger{}
	}
	return ledger
}

// writeLocked writes the document atomically. Must be called with mu held.
func (s *FileStore) writeLocked(l Ledger) error {
	data, err := encodeLedger(l)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting ledger permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	tmpPath = ""

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	s.logger.Debug("ledger written", "path", s.path, "entries", len(l))
	return nil
}
