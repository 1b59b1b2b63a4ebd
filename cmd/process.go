package main

import (
	"context"
	"fmt"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/korimako/fieldtest/internal/tasks"
	"github.com/urfave/cli/v3"
)

func (r *Runner) processingClient() *api.ProcessingClient {
	client := api.NewProcessingClient(r.config.API.ProcessingURL)
	client.SetHTTPClient(r.httpClient)
	client.SetRateLimit(r.config.API.RequestsPerSecond)
	return client
}

// ProcessClaim claims one processing job and prints it.
func (r *Runner) ProcessClaim(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	client := r.processingClient()
	job, err := client.ClaimJob(ctx, cmd.String("type"), cmd.String("state"))
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if job == nil {
		return fmt.Errorf("%w: type %s, state %s", shared.ErrNoEligibleWork, cmd.String("type"), cmd.String("state"))
	}

	r.logger.Info("claimed job", "recording", job.ID, "state", job.State)
	return r.writeJSON(job.Raw, cmd.Bool("pretty"))
}

// ProcessWork drains the processing queue for one recording type, completing
// every claimed job successfully until no eligible work remains.
func (r *Runner) ProcessWork(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	engine := tasks.NewRecordingEngine(nil, r.processingClient())

	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("%s\n", update.Message)
		}
	}()

	result, err := engine.Drain(ctx, progress, cmd.String("type"), int(cmd.Int("max")))
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlain("✓ Completed %d processing jobs\n", result.Completed)
	return nil
}
