package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"pipedeck/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadDotenv(); err != nil {
		logger.Debug("no dotenv loaded", "error", err)
	}

	configPath := os.Getenv(shared.ConfigEnvVar)
	if configPath == "" {
		configPath = "config.toml"
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(configPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
	}

	runner := NewRunner(RunnerOpts{
		Config: config,
		Logger: logger,
	})

	app := &cli.Command{
		Name:     "pipedeck",
		Usage:    "Browser control panel for pipeline submission",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		err_ := errors.Unwrap(err)
		if errors.Is(err_, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		} else {
			logger.Fatalf("application error: %v", err)
		}
	}
}
