package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchRecordings Phase = iota
	FetchDetail
	ExportRecording
	ProcessQueue
)

func (p Phase) String() string {
	switch p {
	case FetchRecordings:
		return "fetch_recordings"
	case FetchDetail:
		return "fetch_detail"
	case ExportRecording:
		return "export_recording"
	case ProcessQueue:
		return "process_queue"
	default:
		return ""
	}
}

func fetchRecordingsUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchRecordings,
		Message: "Querying recordings...",
	}
}

func foundRecordingsUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchRecordings,
		Total:   total,
		Message: fmt.Sprintf("Found %d recordings", total),
	}
}

func fetchDetailUpdate(step, total, recordingID int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchDetail,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching tracks for recording %d...", step, total, recordingID),
	}
}

func exportCompletedUpdate(step, total, recordingID, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportRecording,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ recording %d (%d files)", step, total, recordingID, filesCount),
	}
}

func exportFailedUpdate(step, total, recordingID int, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportRecording,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ recording %d: %v", step, total, recordingID, err),
	}
}

func processingJobUpdate(step, recordingID int, state string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessQueue,
		Step:    step,
		Message: fmt.Sprintf("[%d] Processing recording %d (%s)", step, recordingID, state),
	}
}

func queueDrainedUpdate(completed int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessQueue,
		Step:    completed,
		Total:   completed,
		Message: fmt.Sprintf("Queue drained after %d jobs", completed),
	}
}
