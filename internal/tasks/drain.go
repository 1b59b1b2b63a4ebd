package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/shared"
)

// PipelineStates lists the non-terminal processing states per recording
// type, in pipeline order.
var PipelineStates = map[string][]string{
	"thermalRaw": {"getMetadata", "toMp4"},
	"audio":      {"analyse", "toMp3"},
}

// DrainResult summarizes one queue drain.
type DrainResult struct {
	Completed int
	ByState   map[string]int
}

// Drain claims processing jobs of the given type and completes each one
// successfully until no eligible work remains or maxJobs is reached
// (0 means unlimited). Every completed job advances its recording one state.
func (e *RecordingEngine) Drain(ctx context.Context, prog chan<- ProgressUpdate, recordingType string, maxJobs int) (*DrainResult, error) {
	if e.processing == nil {
		return nil, fmt.Errorf("no processing client configured")
	}
	states, ok := PipelineStates[recordingType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown recording type %q", shared.ErrInvalidInput, recordingType)
	}

	result := &DrainResult{ByState: map[string]int{}}
	for {
		job, err := e.claimAny(ctx, recordingType, states)
		if err != nil {
			return result, fmt.Errorf("claim failed: %w", err)
		}
		if job == nil {
			break
		}

		e.sendProgress(prog, processingJobUpdate(result.Completed+1, job.ID, job.State))

		updates := map[string]any{"fieldtestWorker": map[string]any{"state": job.State}}
		if err := e.processing.ReportDone(ctx, job, true, true, updates, uuid.NewString()); err != nil {
			return result, fmt.Errorf("report failed for recording %d: %w", job.ID, err)
		}

		result.Completed++
		result.ByState[job.State]++
		if maxJobs > 0 && result.Completed >= maxJobs {
			return result, nil
		}
	}

	e.sendProgress(prog, queueDrainedUpdate(result.Completed))
	return result, nil
}

// claimAny tries each pipeline state in order and returns the first job
// available, nil when the queue is empty.
func (e *RecordingEngine) claimAny(ctx context.Context, recordingType string, states []string) (*api.Job, error) {
	for _, state := range states {
		job, err := e.processing.ClaimJob(ctx, recordingType, state)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}
