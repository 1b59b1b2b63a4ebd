package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/formatter"
	"github.com/korimako/fieldtest/internal/models"
	"golang.org/x/time/rate"
)

// BulkExportOpts contains configuration for bulk recording exports.
type BulkExportOpts struct {
	Format     string  // Export format: json, csv, markdown, txt
	OutputDir  string  // Base output directory (default: recordings_export_{epoch})
	NumWorkers int     // Concurrent workers (default: 5)
	RateLimit  float64 // Requests per second against the service (default: 5)
}

// RecordingExportJob is one recording with its track detail already fetched.
type RecordingExportJob struct {
	Recording *models.Recording
	Tracks    []models.Track
}

// RecordingExportResult is the outcome for one recording.
type RecordingExportResult struct {
	RecordingID int      `json:"recordingId"`
	Success     bool     `json:"success"`
	Files       []string `json:"files,omitempty"`
	Error       error    `json:"-"`
	ErrorText   string   `json:"error,omitempty"`
}

// BulkExportResult summarizes a bulk export.
type BulkExportResult struct {
	TotalRecordings   int                     `json:"totalRecordings"`
	SuccessfulExports int                     `json:"successfulExports"`
	FailedExports     int                     `json:"failedExports"`
	OutputDirectory   string                  `json:"outputDirectory"`
	ManifestPath      string                  `json:"manifestPath"`
	Results           []RecordingExportResult `json:"results"`
}

// BulkExport exports every recording matching the query, one file set per
// recording, with rate limiting and progress tracking.
//
// Track detail is fetched on the feeder goroutine under the rate limiter;
// a worker pool does the disk writes. Partial failures are collected rather
// than aborting the export, and a manifest file summarizes the outcome.
func (e *RecordingEngine) BulkExport(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	query api.RecordingQuery,
	opts BulkExportOpts,
) (*BulkExportResult, error) {
	if e.user == nil {
		return nil, fmt.Errorf("no user client configured")
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("recordings_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	e.sendProgress(prog, fetchRecordingsUpdate())
	recordings, _, err := e.user.QueryRecordings(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	e.sendProgress(prog, foundRecordingsUpdate(len(recordings)))

	result := &BulkExportResult{
		TotalRecordings: len(recordings),
		OutputDirectory: opts.OutputDir,
		Results:         make([]RecordingExportResult, 0, len(recordings)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan RecordingExportJob, len(recordings))
	results := make(chan RecordingExportResult, len(recordings))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.exportWorker(&wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, recording := range recordings {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := limiter.Wait(ctx); err != nil {
				return
			}

			e.sendProgress(prog, fetchDetailUpdate(i+1, len(recordings), recording.ID))
			tracks, err := e.user.GetTracks(ctx, recording.ID)
			if err != nil {
				results <- RecordingExportResult{
					RecordingID: recording.ID,
					Success:     false,
					Error:       fmt.Errorf("failed to fetch tracks: %w", err),
				}
				continue
			}

			jobs <- RecordingExportJob{Recording: recording, Tracks: tracks}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		if res.Error != nil {
			res.ErrorText = res.Error.Error()
		}
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			e.sendProgress(prog, exportCompletedUpdate(completed, len(recordings), res.RecordingID, len(res.Files)))
		} else {
			result.FailedExports++
			e.sendProgress(prog, exportFailedUpdate(completed, len(recordings), res.RecordingID, res.Error))
		}
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := writeManifest(result, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}

// exportWorker writes recordings from the jobs channel to disk.
func (e *RecordingEngine) exportWorker(
	wg *sync.WaitGroup,
	jobs <-chan RecordingExportJob,
	results chan<- RecordingExportResult,
	opts BulkExportOpts,
) {
	defer wg.Done()

	for job := range jobs {
		results <- exportSingleRecording(job, opts)
	}
}

// exportSingleRecording writes one recording in the requested format.
func exportSingleRecording(job RecordingExportJob, opts BulkExportOpts) RecordingExportResult {
	result := RecordingExportResult{
		RecordingID: job.Recording.ID,
		Success:     false,
		Files:       []string{},
	}
	job.Recording.Tracks = job.Tracks
	idName := strconv.Itoa(job.Recording.ID)

	queryResult := &formatter.QueryResult{
		Count:      1,
		Recordings: []*models.Recording{job.Recording},
	}

	switch opts.Format {
	case "csv":
		baseFilepath := filepath.Join(opts.OutputDir, idName)
		csvRes, err := formatter.WriteCSVExport(queryResult, baseFilepath)
		if err != nil {
			result.Error = fmt.Errorf("CSV export failed: %w", err)
			return result
		}
		result.Files = []string{csvRes.RecordingsFile, csvRes.MetadataFile}
		result.Success = true

	case "markdown", "md":
		data, err := formatter.ExportToMarkdown(queryResult)
		if err != nil {
			result.Error = fmt.Errorf("markdown export failed: %w", err)
			return result
		}
		mdPath := filepath.Join(opts.OutputDir, idName+".md")
		if err := os.WriteFile(mdPath, data, 0o644); err != nil {
			result.Error = fmt.Errorf("markdown write failed: %w", err)
			return result
		}
		result.Files = []string{mdPath}
		result.Success = true

	case "txt":
		data, err := formatter.ExportToText(queryResult)
		if err != nil {
			result.Error = fmt.Errorf("text export failed: %w", err)
			return result
		}
		txtPath := filepath.Join(opts.OutputDir, idName+".txt")
		if err := os.WriteFile(txtPath, data, 0o644); err != nil {
			result.Error = fmt.Errorf("text write failed: %w", err)
			return result
		}
		result.Files = []string{txtPath}
		result.Success = true

	case "json":
		fallthrough
	default:
		payload := map[string]any{
			"id":     job.Recording.ID,
			"props":  job.Recording.Props,
			"tracks": job.Tracks,
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			result.Error = fmt.Errorf("JSON marshal failed: %w", err)
			return result
		}
		jsonPath := filepath.Join(opts.OutputDir, idName+".json")
		if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
			result.Error = fmt.Errorf("JSON write failed: %w", err)
			return result
		}
		result.Files = []string{jsonPath}
		result.Success = true
	}
	return result
}

func writeManifest(result *BulkExportResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
