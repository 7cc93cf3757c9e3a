// Package ratelimit implements the forward-auth path's secondary GCRA
// (Generic Cell Rate Algorithm) rate limiter: defense in depth against
// request floods from a single (IP, host) pair, independent of BanTimer,
// which only counts failed login attempts.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Config is a single rate limit: Rate events per Period, with Burst allowed
// to happen at once.
type Config struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result reports the outcome of one Allow call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is a GCRA limiter keyed by a 64-bit hash of the caller-supplied
// key (ip + "|" + host for the forward-auth hot path), with a background
// goroutine that evicts entries older than MaxTTL so memory usage stays
// bounded under a long-running process.
type Limiter struct {
	cells           map[uint64]time.Time
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	stopOnce        sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
	logger          *slog.Logger
}

// New returns a Limiter with the given cleanup cadence and entry lifetime.
func New(cleanupInterval, maxTTL time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		cells:           make(map[uint64]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		logger:          logger,
	}
}

// Key hashes ip and host into the limiter's bucket key.
func Key(ip, host string) uint64 {
	return xxhash.Sum64String(ip + "|" + host)
}

// Allow reports whether a request identified by key is allowed under cfg,
// advancing the bucket's theoretical arrival time on success.
func (l *Limiter) Allow(key uint64, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}
	emission := cfg.Period / time.Duration(rate)

	burst := cfg.Burst
	if burst <= 0 {
		burst = rate
	}
	burstOffset := time.Duration(burst-1) * emission

	tat, exists := l.cells[key]
	if !exists || tat.Before(now) {
		tat = now
	}

	allowAt := tat.Add(-burstOffset)
	if now.Before(allowAt) {
		return Result{Allowed: false, RetryAfter: allowAt.Sub(now)}
	}

	newTAT := tat.Add(emission)
	if newTAT.Before(now) {
		newTAT = now.Add(emission)
	}
	l.cells[key] = newTAT
	return Result{Allowed: true}
}

// StartCleanup launches the background eviction goroutine and returns at
// once; the goroutine exits once ctx is cancelled or Stop is called.
func (l *Limiter) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.maxTTL)
	cleaned := 0
	for key, tat := range l.cells {
		if tat.Before(cutoff) {
			delete(l.cells, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		l.logger.Debug("rate limiter cleanup completed", "cleaned_keys", cleaned, "remaining_keys", len(l.cells))
	}
}

// Stop terminates the cleanup goroutine and waits for it to exit. Safe to
// call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Size returns the number of tracked keys, for tests and diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cells)
}
