package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"pipedeck/internal/runner"
	"pipedeck/internal/shared"
	"pipedeck/internal/ui"
)

// TUI launches the interactive terminal UI for project submission.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	logPath := filepath.Join(os.TempDir(), "pipedeck-tui.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open TUI log file: %w", err)
	}
	defer logFile.Close()
	r.SetLogger(shared.NewFileLogger(logFile))

	run := runner.New(r.tool, r.sess, r.logger, nil)
	if err := ui.Run(ctx, r.sess, r.catalog, r.tool, run); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
