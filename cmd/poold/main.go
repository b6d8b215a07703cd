// poold is the container-pool scheduler daemon: it loads configuration,
// wires every subsystem together via internal/cage/app, and runs until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/grantharris33/clawdbot/common/version"
	"github.com/grantharris33/clawdbot/internal/cage/app"
	"github.com/grantharris33/clawdbot/internal/cage/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("poold starting", "version", version.Version, "commit", version.GitCommit)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if !cfg.Enabled {
		logger.Info("cage.enabled is false; exiting")
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := os.Getenv(config.EnvConfigFile)
	file, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config file: %w", err)
	}
	return config.Resolve(file)
}
