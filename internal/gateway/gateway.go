// Package gateway wires every lower-level package into the single shared,
// rooted value the three HTTP servers are built around: constructed once at
// startup, read (and occasionally mutated through its own locked Store) by
// every request.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/config"
	"github.com/sitegui/knockd/internal/i18n"
	"github.com/sitegui/knockd/internal/metrics"
	"github.com/sitegui/knockd/internal/persistence"
	"github.com/sitegui/knockd/internal/policyrules"
	"github.com/sitegui/knockd/internal/ratelimit"
	"github.com/sitegui/knockd/internal/store"
	"github.com/sitegui/knockd/internal/throttle"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway bundles everything a request handler needs: the persisted state,
// the ambient infrastructure around it, and the resolved configuration.
type Gateway struct {
	Config Config
	Store  *store.Store
	Users  config.Users
	I18n   *i18n.I18n

	PolicyRules []policyrules.Rule

	Audit        *audit.Log
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	LoginThrottle  *throttle.Throttle
	UnlockThrottle *throttle.Throttle
	RateLimiter    *ratelimit.Limiter

	persister *persistence.Persister
}

// Config is an alias kept local to the package so callers read
// gateway.Config instead of reaching into config.Config directly.
type Config = config.Config

// New loads every on-disk resource (state file, users file, i18n file,
// optional policy rules file), opens the audit log, and returns the wired
// Gateway. Apart from the audit log's drain goroutine, started by
// audit.Open, it does not start any background goroutine; call Run for that.
func New(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Gateway, error) {
	persister := persistence.New(cfg.DataFile, cfg.DataPersistenceInterval, logger)
	s := persister.Load()

	users, err := config.LoadUsers(cfg.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("gateway: load users: %w", err)
	}

	translations, err := i18n.Load(cfg.I18nFile)
	if err != nil {
		return nil, fmt.Errorf("gateway: load i18n: %w", err)
	}

	var rules []policyrules.Rule
	if cfg.PolicyRulesFile != "" {
		rules, err = policyrules.LoadFile(cfg.PolicyRulesFile)
		if err != nil {
			return nil, fmt.Errorf("gateway: load policy rules: %w", err)
		}
	}

	// forward_auth_log_file is optional: the Rust original only installs an
	// audit logger when the config key is set (Option<Logger>), and Report
	// is a no-op on a nil *audit.Log, so this stays unguarded everywhere else.
	var auditLog *audit.Log
	if cfg.ForwardAuthLogFile != "" {
		auditLog, err = audit.Open(cfg.ForwardAuthLogFile, logger)
		if err != nil {
			return nil, fmt.Errorf("gateway: open audit log: %w", err)
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.ForwardAuthRateEnabled {
		limiter = ratelimit.New(cfg.ForwardAuthRateCleanupInterval, cfg.ForwardAuthRateMaxTTL, logger)
	}

	m := metrics.New(reg)
	auditLog.SetDropCounter(m.AuditDropsTotal)

	return &Gateway{
		Config:         cfg,
		Store:          s,
		Users:          users,
		I18n:           translations,
		PolicyRules:    rules,
		Audit:          auditLog,
		Logger:         logger,
		Metrics:        m,
		LoginThrottle:  throttle.New(),
		UnlockThrottle: throttle.New(),
		RateLimiter:    limiter,
		persister:      persister,
	}, nil
}

// Run starts every background goroutine (periodic persistence flush, rate
// limiter cleanup) and blocks until ctx is cancelled, flushing state one
// last time before returning.
func (g *Gateway) Run(ctx context.Context) {
	if g.RateLimiter != nil {
		g.RateLimiter.StartCleanup(ctx)
		go g.reportMetricsPeriodically(ctx, g.Config.ForwardAuthRateCleanupInterval)
	}
	g.persister.Run(ctx, g.Store)
}

// Close tears down resources Run does not own: the audit log writer and the
// rate limiter's cleanup goroutine, if any.
func (g *Gateway) Close() error {
	if g.RateLimiter != nil {
		g.RateLimiter.Stop()
	}
	return g.Audit.Close()
}

// reportMetricsPeriodically keeps the rate_limit_keys gauge current. Run
// starts it in its own goroutine, ticking at the rate limiter's cleanup
// interval.
func (g *Gateway) reportMetricsPeriodically(ctx context.Context, interval time.Duration) {
	if g.RateLimiter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Metrics.RateLimitKeys.Set(float64(g.RateLimiter.Size()))
		}
	}
}
