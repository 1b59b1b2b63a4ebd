package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/models"
	tu "github.com/korimako/fieldtest/internal/testing"
)

var bedCounter atomic.Int64

// testBed is one isolated service instance with a user, a group and a device.
type testBed struct {
	baseURL string
	user    *api.UserClient
	device  *api.DeviceClient
}

func newTestBed(t *testing.T) *testBed {
	t.Helper()
	ctx := context.Background()
	n := bedCounter.Add(1)

	bed := &testBed{baseURL: tu.StartFakeService(t)}

	bed.user = api.NewUserClient(bed.baseURL, fmt.Sprintf("tasker%d", n), "pw")
	if err := bed.user.Register(ctx, "", ""); err != nil {
		t.Fatalf("Failed to register user: %v", err)
	}
	group := fmt.Sprintf("tasks-group%d", n)
	if _, err := bed.user.CreateGroup(ctx, group); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	bed.device = api.NewDeviceClient(bed.baseURL, fmt.Sprintf("taskcam%d", n), "pw")
	if err := bed.device.Register(ctx, group, ""); err != nil {
		t.Fatalf("Failed to register device: %v", err)
	}
	return bed
}

// upload creates one recording and returns it with tracks fetched lazily.
func (b *testBed) upload(t *testing.T, props map[string]any) *models.Recording {
	t.Helper()
	path := tu.WriteTempRecording(t, "tasks.cptv", nil)
	id, err := b.device.UploadRecording(context.Background(), path, props)
	if err != nil {
		t.Fatalf("Failed to upload recording: %v", err)
	}
	return &models.Recording{ID: id}
}

func collectProgress(progress <-chan ProgressUpdate, done chan<- []ProgressUpdate) {
	var updates []ProgressUpdate
	for update := range progress {
		updates = append(updates, update)
	}
	done <- updates
}

func TestBulkExport(t *testing.T) {
	ctx := context.Background()

	t.Run("exports each recording as JSON with a manifest", func(t *testing.T) {
		bed := newTestBed(t)
		first := bed.upload(t, nil)
		second := bed.upload(t, map[string]any{"type": "audio"})

		engine := NewRecordingEngine(bed.user, nil)
		outputDir := filepath.Join(t.TempDir(), "export")

		progress := make(chan ProgressUpdate, 100)
		done := make(chan []ProgressUpdate, 1)
		go collectProgress(progress, done)

		result, err := engine.BulkExport(ctx, progress, api.RecordingQuery{}, BulkExportOpts{
			Format:    "json",
			OutputDir: outputDir,
		})
		close(progress)
		updates := <-done

		if err != nil {
			t.Fatalf("BulkExport failed: %v", err)
		}
		if result.TotalRecordings != 2 || result.SuccessfulExports != 2 || result.FailedExports != 0 {
			t.Errorf("unexpected counts: %+v", result)
		}
		tu.AssertDirExists(t, outputDir)
		for _, id := range []int{first.ID, second.ID} {
			tu.AssertFileExists(t, filepath.Join(outputDir, fmt.Sprintf("%d.json", id)))
		}

		var manifest BulkExportResult
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, result.ManifestPath)), &manifest); err != nil {
			t.Fatalf("manifest should be valid JSON: %v", err)
		}
		if manifest.SuccessfulExports != 2 {
			t.Errorf("manifest should record 2 exports, got %+v", manifest)
		}
		if len(updates) == 0 {
			t.Error("expected progress updates")
		}
	})

	t.Run("csv format writes a recordings file and metadata per recording", func(t *testing.T) {
		bed := newTestBed(t)
		rec := bed.upload(t, nil)

		engine := NewRecordingEngine(bed.user, nil)
		outputDir := filepath.Join(t.TempDir(), "export")

		result, err := engine.BulkExport(ctx, nil, api.RecordingQuery{}, BulkExportOpts{
			Format:    "csv",
			OutputDir: outputDir,
		})
		if err != nil {
			t.Fatalf("BulkExport failed: %v", err)
		}
		if result.SuccessfulExports != 1 {
			t.Fatalf("expected one export, got %+v", result)
		}

		expected := []string{
			filepath.Join(outputDir, fmt.Sprintf("%d_recordings.csv", rec.ID)),
			filepath.Join(outputDir, fmt.Sprintf("%d_metadata.json", rec.ID)),
		}
		for _, path := range expected {
			tu.AssertFileExists(t, path)
		}
	})

	t.Run("empty query result still writes the manifest", func(t *testing.T) {
		bed := newTestBed(t)

		engine := NewRecordingEngine(bed.user, nil)
		outputDir := filepath.Join(t.TempDir(), "export")

		result, err := engine.BulkExport(ctx, nil, api.RecordingQuery{Type: "audio"}, BulkExportOpts{
			OutputDir: outputDir,
		})
		if err != nil {
			t.Fatalf("BulkExport failed: %v", err)
		}
		if result.TotalRecordings != 0 {
			t.Errorf("expected no recordings, got %d", result.TotalRecordings)
		}
		tu.AssertFileExists(t, result.ManifestPath)
	})

	t.Run("without a user client", func(t *testing.T) {
		engine := NewRecordingEngine(nil, nil)
		if _, err := engine.BulkExport(ctx, nil, api.RecordingQuery{}, BulkExportOpts{}); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("drives every recording to the end of the pipeline", func(t *testing.T) {
		bed := newTestBed(t)
		first := bed.upload(t, nil)
		second := bed.upload(t, nil)

		engine := NewRecordingEngine(bed.user, api.NewProcessingClient(bed.baseURL))

		progress := make(chan ProgressUpdate, 100)
		done := make(chan []ProgressUpdate, 1)
		go collectProgress(progress, done)

		result, err := engine.Drain(ctx, progress, "thermalRaw", 0)
		close(progress)
		updates := <-done

		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		// Two recordings, two pipeline states each.
		if result.Completed != 4 {
			t.Errorf("expected 4 completed jobs, got %d", result.Completed)
		}
		if result.ByState["getMetadata"] != 2 || result.ByState["toMp4"] != 2 {
			t.Errorf("unexpected state counts: %v", result.ByState)
		}
		if len(updates) == 0 {
			t.Error("expected progress updates")
		}

		for _, rec := range []*models.Recording{first, second} {
			got, err := bed.user.GetRecording(ctx, rec.ID, 0)
			if err != nil {
				t.Fatalf("Failed to fetch recording %d: %v", rec.ID, err)
			}
			if state := got.Get("processingState"); state != "FINISHED" {
				t.Errorf("expected recording %d FINISHED, got %v", rec.ID, state)
			}
		}
	})

	t.Run("honors the job cap", func(t *testing.T) {
		bed := newTestBed(t)
		bed.upload(t, nil)
		bed.upload(t, nil)

		engine := NewRecordingEngine(nil, api.NewProcessingClient(bed.baseURL))
		result, err := engine.Drain(ctx, nil, "thermalRaw", 1)
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if result.Completed != 1 {
			t.Errorf("expected 1 completed job, got %d", result.Completed)
		}
	})

	t.Run("unknown recording type", func(t *testing.T) {
		engine := NewRecordingEngine(nil, api.NewProcessingClient("http://127.0.0.1:1"))
		if _, err := engine.Drain(ctx, nil, "video", 0); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("empty queue completes zero jobs", func(t *testing.T) {
		bed := newTestBed(t)

		engine := NewRecordingEngine(nil, api.NewProcessingClient(bed.baseURL))
		result, err := engine.Drain(ctx, nil, "audio", 0)
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if result.Completed != 0 {
			t.Errorf("expected empty queue, got %d jobs", result.Completed)
		}
	})
}
