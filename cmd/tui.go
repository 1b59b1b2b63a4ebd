package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/korimako/fieldtest/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive recordings browser. Filter flags scope what
// it lists, same as 'recordings query'.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	logPath := filepath.Join("tmp", "fieldtest-tui.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger := shared.NewLogger(logFile)
	// The file log can afford debug detail the terminal never shows.
	shared.SetLogLevel(logger, log.DebugLevel)
	r.SetLogger(logger)

	model := ui.NewModel(ctx, user, queryFromFlags(cmd))
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
