// Package app wires every subsystem together into one runnable daemon:
// config → registry → runtime adapter → broker → pool manager → health
// server → runner façade, plus signal-driven shutdown (spec.md §2).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/config"
	"github.com/grantharris33/clawdbot/internal/cage/health"
	"github.com/grantharris33/clawdbot/internal/cage/pool"
	"github.com/grantharris33/clawdbot/internal/cage/registry"
	"github.com/grantharris33/clawdbot/internal/cage/runner"
	"github.com/grantharris33/clawdbot/internal/cage/runtime/docker"
)

// App owns the constructed subsystems and their start/stop lifecycle.
type App struct {
	cfg config.Config

	reg *registry.Registry
	rt  *docker.Adapter
	brk *broker.Client
	mgr *pool.Manager

	healthServer *health.Server
	Runner       *runner.Runner
}

// New constructs every subsystem from cfg but starts none of them.
func New(cfg config.Config) (*App, error) {
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("app: open registry: %w", err)
	}

	rt, err := docker.New(cfg.DockerNetwork)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("app: docker adapter: %w", err)
	}

	opts, err := broker.OptionsFromURL(cfg.RedisURL)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	opts.Prefix = cfg.RedisKeyPrefix
	brk := broker.New(opts)

	mgr, err := pool.New(cfg.Pool, rt, reg, brk)
	if err != nil {
		reg.Close()
		brk.Close()
		return nil, fmt.Errorf("app: pool manager: %w", err)
	}

	monitor := health.New(rt, brk, mgr)
	healthServer := health.NewServer(cfg.HealthAddr, monitor)

	a := &App{
		cfg:          cfg,
		reg:          reg,
		rt:           rt,
		brk:          brk,
		mgr:          mgr,
		healthServer: healthServer,
		Runner:       runner.New(mgr, brk),
	}
	a.registerOperatorRoutes()
	return a, nil
}

// ServeHTTP exposes the health server's routes directly, letting tests
// exercise /health, /status, /pool, /events, and /drain without a live
// listener.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.healthServer.ServeHTTP(w, r)
}

// Run starts every subsystem and blocks until ctx is cancelled or a
// termination signal arrives, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.rt.EnsureNetwork(ctx); err != nil {
		return fmt.Errorf("app: ensure docker network: %w", err)
	}
	if err := a.rt.EnsureImage(ctx, a.cfg.Pool.Image); err != nil {
		return fmt.Errorf("app: ensure agent image: %w", err)
	}

	if err := a.healthServer.Start(ctx); err != nil {
		slog.Warn("health server failed to start; continuing without it", "error", err)
	}

	if err := a.mgr.Start(ctx); err != nil {
		return fmt.Errorf("app: start pool manager: %w", err)
	}

	slog.Info("cage is running", "image", a.cfg.Pool.Image, "minWarm", a.cfg.Pool.MinWarm, "maxTotal", a.cfg.Pool.MaxTotal)

	<-ctx.Done()

	slog.Info("shutting down")
	a.Stop()
	return nil
}

// Stop tears down every subsystem. Safe to call after Run returns.
func (a *App) Stop() {
	a.mgr.Stop()
	a.healthServer.Stop()

	shutdownCtx := context.Background()
	a.mgr.Shutdown(shutdownCtx)

	if err := a.brk.Close(); err != nil {
		slog.Warn("closing broker client", "error", err)
	}
	if err := a.reg.Close(); err != nil {
		slog.Warn("closing registry", "error", err)
	}
}
