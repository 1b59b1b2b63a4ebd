package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/korimako/fieldtest/internal/models"
)

// ProcessingClient talks to the file-processing service, which runs on its
// own base URL and authenticates by job key rather than session token.
type ProcessingClient struct {
	*Client
}

// NewProcessingClient creates a client for the file-processing service.
func NewProcessingClient(baseURL string) *ProcessingClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:2008"
	}
	// The processing API has no principal; the embedded client only
	// contributes transport plumbing.
	return &ProcessingClient{Client: NewClient(baseURL, DevicePrincipal, "", "")}
}

// Job is one claimed unit of processing work. Raw carries the full recording
// row; ID and JobKey are what the report call needs back.
type Job struct {
	ID     int
	JobKey string
	State  string
	Raw    map[string]any
}

// ClaimJob atomically claims one recording of the given type and state for
// processing. Two concurrent claimants never receive the same recording.
// Returns nil when no eligible recording exists (HTTP 204).
func (p *ProcessingClient) ClaimJob(ctx context.Context, recordingType, state string) (*Job, error) {
	params := url.Values{"type": []string{recordingType}, "state": []string{state}}
	resp, err := p.send(ctx, http.MethodGet, "/api/fileProcessing", params, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body struct {
		Recording map[string]any `json:"recording"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode claim response: %w", err)
	}
	return jobFromRow(body.Recording)
}

func jobFromRow(row map[string]any) (*Job, error) {
	job := &Job{Raw: row}
	id, ok := row["id"].(float64)
	if !ok {
		return nil, fmt.Errorf("claimed recording carried no id")
	}
	job.ID = int(id)
	job.JobKey, _ = row["jobKey"].(string)
	job.State, _ = row["processingState"].(string)
	return job, nil
}

// ReportDone reports the outcome of a claimed job, advancing the recording's
// processing state. fieldUpdates merge into the recording (nested maps such
// as additionalMetadata merge rather than replace); newFileKey stores the
// processed object key.
func (p *ProcessingClient) ReportDone(ctx context.Context, job *Job, success, complete bool, fieldUpdates map[string]any, newFileKey string) error {
	payload := map[string]any{
		"id":       job.ID,
		"jobKey":   job.JobKey,
		"success":  success,
		"complete": complete,
	}
	if fieldUpdates != nil {
		result, err := json.Marshal(map[string]any{"fieldUpdates": fieldUpdates})
		if err != nil {
			return fmt.Errorf("failed to encode field updates: %w", err)
		}
		payload["result"] = string(result)
	}
	if newFileKey != "" {
		payload["newProcessedFileKey"] = newFileKey
	}

	resp, err := p.send(ctx, http.MethodPut, "/api/fileProcessing", nil, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// AlgorithmID finds or creates the detail record for an algorithm
// description. Byte-identical descriptions share one id.
func (p *ProcessingClient) AlgorithmID(ctx context.Context, algorithm map[string]any) (int, error) {
	algorithmJSON, err := json.Marshal(algorithm)
	if err != nil {
		return 0, fmt.Errorf("failed to encode algorithm: %w", err)
	}

	var body struct {
		AlgorithmID int `json:"algorithmId"`
	}
	if err := p.post(ctx, "/api/fileProcessing/algorithm", map[string]any{"algorithm": string(algorithmJSON)}, &body); err != nil {
		return 0, err
	}
	return body.AlgorithmID, nil
}

// AddTrack attaches a track produced by processing to a recording.
func (p *ProcessingClient) AddTrack(ctx context.Context, recordingID int, track *models.Track, algorithmID int) (int, error) {
	var body struct {
		TrackID int `json:"trackId"`
	}
	payload := map[string]any{"data": track.Data, "algorithmId": algorithmID}
	if err := p.post(ctx, "/api/fileProcessing/"+strconv.Itoa(recordingID)+"/tracks", payload, &body); err != nil {
		return 0, err
	}
	return body.TrackID, nil
}

// ClearTracks deletes all tracks of a recording.
func (p *ProcessingClient) ClearTracks(ctx context.Context, recordingID int) error {
	resp, err := p.send(ctx, http.MethodDelete, "/api/fileProcessing/"+strconv.Itoa(recordingID)+"/tracks", nil, nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// AddTrackTag attaches an automatic tag to a processed track.
func (p *ProcessingClient) AddTrackTag(ctx context.Context, recordingID int, tag *models.TrackTag) (int, error) {
	var body struct {
		TrackTagID int `json:"trackTagId"`
	}
	payload := map[string]any{
		"what":       tag.What,
		"confidence": tag.Confidence,
		"data":       tag.Data,
	}
	path := fmt.Sprintf("/api/fileProcessing/%d/tracks/%d/tags", recordingID, tag.TrackID)
	if err := p.post(ctx, path, payload, &body); err != nil {
		return 0, err
	}
	return body.TrackTagID, nil
}

func (p *ProcessingClient) post(ctx context.Context, path string, payload, result any) error {
	resp, err := p.send(ctx, http.MethodPost, path, nil, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
