package persistence

import (
	"context"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitegui/knockd/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	p := New(filepath.Join(dir, "missing.json"), time.Hour, discardLogger())

	s := p.Load()
	if _, ok := s.ValidLoginSession(time.Now(), [32]byte{}); ok {
		t.Fatal("expected empty store")
	}
}

func TestLoadCorruptFileYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := New(path, time.Hour, discardLogger())

	s := p.Load()
	if _, ok := s.ValidLoginSession(time.Now(), [32]byte{}); ok {
		t.Fatal("expected empty store for corrupt file")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	p := New(path, time.Hour, discardLogger())

	s := store.New()
	now := time.Now().Truncate(time.Second).UTC()
	_, hash, err := s.CreateLoginSession(now, "alice", netip.MustParseAddr("9.9.9.9"), time.Hour)
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	if err := p.save(s); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := p.Load()
	session, ok := reloaded.ValidLoginSession(now, hash)
	if !ok {
		t.Fatal("expected reloaded store to contain the login session")
	}
	if session.UserName != "alice" {
		t.Fatalf("expected user alice, got %s", session.UserName)
	}

	if _, err := os.Stat(path + ".bak"); err == nil {
		t.Fatal("did not expect a .bak file before any prior save existed")
	}

	// A second save should now produce a backup of the first.
	if err := p.save(s); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expected a .bak file after a second save: %v", err)
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	p := New(path, time.Hour, discardLogger())

	s := store.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx, s)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a final flush to have written the data file: %v", err)
	}
}
