package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/repositories"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/urfave/cli/v3"
)

// Upload authenticates as a device and uploads one recording. With --run the
// upload is also recorded in the local run log.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	deviceName := cmd.String("device")
	password := cmd.String("password")
	if password == "" {
		password = shared.PasswordFor(deviceName)
	}

	var props map[string]any
	if raw := cmd.String("props"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return fmt.Errorf("%w: --props must be a JSON object: %v", shared.ErrInvalidFlag, err)
		}
	}

	device := api.NewDeviceClient(r.config.API.ServerURL, deviceName, password)
	device.SetHTTPClient(r.httpClient)
	device.SetRateLimit(r.config.API.RequestsPerSecond)
	if err := device.Login(ctx); err != nil {
		return fmt.Errorf("device login failed for %q: %w", deviceName, err)
	}

	filePath := cmd.String("file")
	r.logger.Info("uploading recording", "device", deviceName, "file", filePath)

	id, err := device.UploadRecording(ctx, filePath, props)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	if runID := cmd.String("run"); runID != "" {
		if err := r.logUpload(runID, id, deviceName, props); err != nil {
			r.logger.Warn("could not record upload in run log", "error", err)
		}
	}

	r.writePlain("✓ Uploaded recording %d\n", id)
	return nil
}

func (r *Runner) logUpload(runID string, recordingID int, deviceName string, props map[string]any) error {
	db, err := r.openRunLog()
	if err != nil {
		return err
	}
	defer db.Close()

	recordingType := "thermalRaw"
	if t, ok := props["type"].(string); ok && t != "" {
		recordingType = t
	}

	return repositories.NewUploadRepository(db).Record(&repositories.UploadedRecording{
		ID:            recordingID,
		RunID:         runID,
		DeviceName:    deviceName,
		RecordingType: recordingType,
		Props:         props,
	})
}
