package main

import (
	"context"
	"fmt"
	"time"

	"github.com/korimako/fieldtest/internal/repositories"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/urfave/cli/v3"
)

// RunsList lists recorded runs, newest first.
func (r *Runner) RunsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	db, err := r.openRunLog()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := repositories.NewRunRepository(db).List()
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if len(runs) == 0 {
		r.writePlain("No runs recorded yet. Try 'fieldtest smoke'.\n")
		return nil
	}

	for _, run := range runs {
		finished := "-"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format(time.RFC3339)
		}
		r.writePlain("%s  %-8s  %s  started %s  finished %s\n",
			run.ID, run.Outcome, run.ServerURL, run.StartedAt.Format(time.RFC3339), finished)
	}
	return nil
}

// RunsShow prints one run together with the uploads it logged.
func (r *Runner) RunsShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: run id", shared.ErrMissingArgument)
	}

	db, err := r.openRunLog()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := repositories.NewRunRepository(db).Get(id)
	if err != nil {
		return fmt.Errorf("could not load run %s: %w", id, err)
	}

	r.writePlainHeader(fmt.Sprintf("Run %s", run.ID))
	r.writePlain("Server: %s\n", run.ServerURL)
	r.writePlain("Outcome: %s\n", run.Outcome)
	r.writePlain("Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		r.writePlain("Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
	}

	uploads, err := repositories.NewUploadRepository(db).ForRun(run.ID)
	if err != nil {
		return fmt.Errorf("could not load uploads: %w", err)
	}

	r.writePlainln("Uploads: %d", len(uploads))
	for _, upload := range uploads {
		r.writePlain("  recording %d  %s  device %s\n", upload.ID, upload.RecordingType, upload.DeviceName)
	}
	return nil
}
