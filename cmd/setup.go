package main

import (
	"context"
	"fmt"
	"os"

	"github.com/korimako/fieldtest/internal/harness"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the local run log and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err == nil {
		if err := r.reloadConfig(cmd); err != nil {
			return err
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
			if err := r.reloadConfig(cmd); err != nil {
				return err
			}
		}
	}

	r.logger.Info("initializing run log", "path", r.config.Database.Path)

	db, err := r.openRunLog()
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Infof("setup complete for run log: %v", r.config.Database.Path)
	return nil
}

// SetupServer bootstraps the target server: it logs in (or registers) the
// configured admin and makes sure the default group exists.
func (r *Runner) SetupServer(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	r.logger.Info("bootstrapping server", "url", r.config.API.ServerURL)

	h, err := harness.Setup(ctx, r.config, r.logger, cmd.String("scope"))
	if err != nil {
		return fmt.Errorf("server bootstrap failed: %w", err)
	}

	r.writePlain("✓ Server ready at %s\n", r.config.API.ServerURL)
	r.writePlain("Admin: %s (id %d)\n", h.Admin.Name(), h.Admin.ID())
	r.writePlain("Default group: %s\n", r.config.Admin.DefaultGroup)
	return nil
}
