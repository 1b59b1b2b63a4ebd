package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/korimako/fieldtest/internal/harness"
	"github.com/korimako/fieldtest/internal/repositories"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/korimako/fieldtest/internal/verify"
	"github.com/urfave/cli/v3"
)

// Smoke runs one end-to-end scenario against the configured server: bootstrap
// the admin, register a device, upload a tagged recording, and verify the
// admin can find it by tag. The outcome lands in the local run log.
func (r *Runner) Smoke(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	db, err := r.openRunLog()
	if err != nil {
		return err
	}
	defer db.Close()

	runs := repositories.NewRunRepository(db)
	uploads := repositories.NewUploadRepository(db)

	run, err := runs.Start(r.config.API.ServerURL)
	if err != nil {
		return fmt.Errorf("could not record run: %w", err)
	}
	r.logger.Info("starting smoke run", "run", run.ID, "server", r.config.API.ServerURL)

	if err := r.smokeScenario(ctx, cmd.String("scope"), run.ID, uploads); err != nil {
		if ferr := runs.Finish(run.ID, "failed"); ferr != nil {
			r.logger.Warn("could not finish run", "error", ferr)
		}
		return fmt.Errorf("smoke run %s failed: %w", run.ID, err)
	}

	if err := runs.Finish(run.ID, "passed"); err != nil {
		r.logger.Warn("could not finish run", "error", err)
	}

	r.writePlainHeader("Smoke run passed")
	r.writePlain("Run id: %s\n", run.ID)
	return nil
}

func (r *Runner) smokeScenario(ctx context.Context, scope, runID string, uploads *repositories.UploadRepository) error {
	h, err := harness.Setup(ctx, r.config, r.logger, scope)
	if err != nil {
		return err
	}

	device, err := h.NewDevice(ctx, "camera", "")
	if err != nil {
		return err
	}
	r.writePlain("✓ Device registered: %s\n", device.Name())

	filePath := filepath.Join(os.TempDir(), "fieldtest-smoke-"+shared.ShortID()+".cptv")
	if err := os.WriteFile(filePath, []byte("CPTV smoke recording content"), 0o644); err != nil {
		return fmt.Errorf("could not write recording file: %w", err)
	}
	defer os.Remove(filePath)

	recording, _, tag, err := h.UploadTaggedRecording(ctx, device, h.Admin, filePath, "possum", false)
	if err != nil {
		return err
	}
	r.writePlain("✓ Uploaded and tagged recording %d as %q\n", recording.ID, tag.What)

	if err := uploads.Record(&repositories.UploadedRecording{
		ID:            recording.ID,
		RunID:         runID,
		DeviceName:    device.Name(),
		RecordingType: "thermalRaw",
	}); err != nil {
		r.logger.Warn("could not record upload in run log", "error", err)
	}

	if err := verify.Recordings(h.Admin).Tags(tag.What).CanSee(ctx, recording); err != nil {
		return err
	}
	r.writePlain("✓ Recording visible when querying by tag\n")
	return nil
}
