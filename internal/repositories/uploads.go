package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UploadedRecording is the local record of one recording pushed to the
// remote service: the server id plus enough context to find it again.
type UploadedRecording struct {
	ID            int // server-assigned recording id
	RunID         string
	DeviceName    string
	RecordingType string
	Props         map[string]any
	UploadedAt    time.Time
}

// UploadRepository persists [UploadedRecording] rows.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new [UploadRepository] with the given database connection
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Record inserts one uploaded recording into the run log.
func (r *UploadRepository) Record(upload *UploadedRecording) error {
	if upload.ID == 0 {
		return fmt.Errorf("upload has no server id")
	}
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now().UTC()
	}

	props, err := json.Marshal(upload.Props)
	if err != nil {
		return fmt.Errorf("failed to encode props: %w", err)
	}

	query := `
		INSERT INTO uploaded_recordings (id, run_id, device_name, recording_type, props, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, upload.ID, upload.RunID, upload.DeviceName, upload.RecordingType, string(props), upload.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	return nil
}

// ForRun returns the recordings uploaded during one run, in upload order.
func (r *UploadRepository) ForRun(runID string) ([]*UploadedRecording, error) {
	query := `
		SELECT id, run_id, device_name, recording_type, props, uploaded_at
		FROM uploaded_recordings WHERE run_id = ? ORDER BY uploaded_at
	`
	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*UploadedRecording
	for rows.Next() {
		var upload UploadedRecording
		var props string
		if err := rows.Scan(&upload.ID, &upload.RunID, &upload.DeviceName, &upload.RecordingType, &props, &upload.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &upload.Props); err != nil {
			return nil, fmt.Errorf("failed to decode props: %w", err)
		}
		uploads = append(uploads, &upload)
	}
	return uploads, rows.Err()
}

// Count returns how many recordings a run uploaded.
func (r *UploadRepository) Count(runID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM uploaded_recordings WHERE run_id = ?", runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return count, nil
}
