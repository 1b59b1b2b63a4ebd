// package tasks implements long-running operations against a recordings
// service.
//
// The core abstraction is Engine, which orchestrates bulk exports and
// processing-queue drains. Operations emit progress updates via channels for
// non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"

	"github.com/korimako/fieldtest/internal/api"
)

// Engine defines the long-running operations exposed to CLI and UI layers.
type Engine interface {
	// BulkExport writes every recording matching the query to disk,
	// fetching track detail concurrently.
	BulkExport(ctx context.Context, progress chan<- ProgressUpdate, query api.RecordingQuery, opts BulkExportOpts) (*BulkExportResult, error)

	// Drain claims and completes processing jobs for one recording type
	// until the queue is empty.
	Drain(ctx context.Context, progress chan<- ProgressUpdate, recordingType string, maxJobs int) (*DrainResult, error)
}

// RecordingEngine implements Engine against the live service.
type RecordingEngine struct {
	user       *api.UserClient
	processing *api.ProcessingClient
}

var _ Engine = (*RecordingEngine)(nil)

// NewRecordingEngine creates an engine from an authenticated user client and
// a processing client. Either may be nil when only the other's operations
// are used.
func NewRecordingEngine(user *api.UserClient, processing *api.ProcessingClient) *RecordingEngine {
	return &RecordingEngine{user: user, processing: processing}
}

// sendProgress delivers an update without ever blocking the operation. A
// slow or absent consumer only loses updates.
func (e *RecordingEngine) sendProgress(prog chan<- ProgressUpdate, update ProgressUpdate) {
	if prog == nil {
		return
	}
	select {
	case prog <- update:
	default:
	}
}
