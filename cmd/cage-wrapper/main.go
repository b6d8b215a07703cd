// cage-wrapper is a reference in-container process implementing the
// wrapper contract (spec.md §4.8): it reads its session identity and
// broker address from the environment, then loops popping input records
// off the broker and handing them to a Driver. The driver wired here is
// wrapperapi.MockDriver, a fixed responder with no external process and
// no API key requirement, so this binary is safe to run in integration
// tests and in image-build smoke checks alike.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/grantharris33/clawdbot/common/environment"
	"github.com/grantharris33/clawdbot/common/version"
	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/wrapperapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("cage-wrapper starting", "version", version.Version, "commit", version.GitCommit)

	session, err := environment.RequiredString(wrapperapi.EnvSessionID)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	redisURL := environment.StringOr(wrapperapi.EnvRedisURL, wrapperapi.DefaultRedisURL)

	opts, err := broker.OptionsFromURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	opts.Prefix = environment.StringOr(wrapperapi.EnvBrokerPrefix, broker.DefaultKeyPrefix)

	brk := broker.New(opts)
	defer brk.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	loop := &wrapperapi.Loop{
		Session: session,
		Broker:  brk,
		Driver:  wrapperapi.MockDriver{},
		Logger:  logger,
	}

	if err := loop.Run(ctx); err != nil {
		logger.Error("wrapper loop exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("cage-wrapper exiting", "session", session)
}
