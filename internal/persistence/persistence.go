// Package persistence loads the State Store from a JSON file at startup and
// periodically flushes it back to disk.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sitegui/knockd/internal/store"
)

// Persister owns the data file path and the background flush loop.
type Persister struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// New returns a Persister for the given data file path and flush interval.
func New(path string, interval time.Duration, logger *slog.Logger) *Persister {
	return &Persister{path: path, interval: interval, logger: logger}
}

// Load reads and parses the data file. A missing file yields an empty
// store; an unreadable or unparseable file is logged and also yields an
// empty store, per the gateway's load-or-default contract.
func (p *Persister) Load() *store.Store {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Info("data file not found, starting with an empty store", "path", p.path)
		} else {
			p.logger.Warn("failed to read data file, starting with an empty store", "path", p.path, "error", err)
		}
		return store.New()
	}

	s, err := store.Unmarshal(data)
	if err != nil {
		p.logger.Warn("failed to parse data file, starting with an empty store", "path", p.path, "error", err)
		return store.New()
	}
	return s
}

// Run flushes s to disk every interval until ctx is cancelled, then
// performs one final flush so the last in-flight interval is not lost on a
// graceful shutdown.
func (p *Persister) Run(ctx context.Context, s *store.Store) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.save(s); err != nil {
				p.logger.Error("final persistence flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := p.save(s); err != nil {
				p.logger.Error("persistence flush failed", "error", err)
			}
		}
	}
}

// save snapshots s and writes it atomically enough that the next load will
// see either the old or the new contents in full: flock against concurrent
// writers from another process, a .bak copy of the previous contents, then
// write-to-tmp, fsync, rename.
func (p *Persister) save(s *store.Store) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("persistence: marshal store: %w", err)
	}

	lockPath := p.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("persistence: open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("persistence: acquire file lock: %w", err)
	}
	defer func() { _ = flockUnlock(lockFile.Fd()) }()

	if current, readErr := os.ReadFile(p.path); readErr == nil {
		if writeErr := os.WriteFile(p.path+".bak", current, 0o600); writeErr != nil {
			p.logger.Warn("failed to write backup data file", "error", writeErr)
		}
	}

	return writeAtomic(p.path, data)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("persistence: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persistence: rename temp to data file: %w", err)
	}
	return os.Chmod(path, 0o600)
}
