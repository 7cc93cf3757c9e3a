package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sitegui/knockd/internal/config"
	"github.com/sitegui/knockd/internal/forwardauth"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/loginserver"
	"github.com/sitegui/knockd/internal/portalserver"
	"github.com/sitegui/knockd/internal/render"
	"github.com/sitegui/knockd/internal/telemetry"
	"github.com/sitegui/knockd/internal/unlockapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forward-auth, login, and portal servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// server is the subset of forwardauth.Server/loginserver.Server/
// portalserver.Server that runServe needs to start and stop each
// concurrently.
type server interface {
	ListenAndServe(ctx context.Context) error
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C kills
	// the process immediately instead of waiting on the drain.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.TracingEnabled, "knockd")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	gw, err := gateway.New(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("gateway close failed", "error", err)
		}
	}()

	renderer, err := render.New(gw.I18n, logger)
	if err != nil {
		return fmt.Errorf("build renderer: %w", err)
	}

	unlockClient := unlockapi.New(cfg.UnlockAPIHost)

	forwardAuthAddr := net.JoinHostPort(cfg.ForwardAuthBind, strconv.Itoa(cfg.ForwardAuthPort))
	loginAddr := net.JoinHostPort(cfg.LoginBind, strconv.Itoa(cfg.LoginPort))
	portalAddr := net.JoinHostPort(cfg.PortalBind, strconv.Itoa(cfg.PortalPort))

	servers := []server{
		forwardauth.New(gw, forwardAuthAddr),
		loginserver.New(gw, renderer, loginAddr),
		portalserver.New(gw, renderer, unlockClient, portalAddr),
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(servers))
	for _, srv := range servers {
		wg.Add(1)
		go func(srv server) {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx); err != nil {
				errs <- err
			}
		}(srv)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.Run(ctx)
	}()

	logger.Info("knockd started",
		"forward_auth_addr", forwardAuthAddr,
		"login_addr", loginAddr,
		"portal_addr", portalAddr,
	)

	wg.Wait()
	close(errs)
	for err := range errs {
		logger.Error("server error", "error", err)
	}

	logger.Info("knockd stopped")
	return nil
}
