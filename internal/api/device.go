package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DeviceClient exposes the operations available to an authenticated device
// principal.
type DeviceClient struct {
	*Client
}

// NewDeviceClient creates an unauthenticated device client; call Login or
// Register before issuing operations.
func NewDeviceClient(baseURL, devicename, password string) *DeviceClient {
	return &DeviceClient{Client: NewClient(baseURL, DevicePrincipal, devicename, password)}
}

// UploadRecording uploads a recording file with its JSON properties and
// returns the server-assigned recording id, immediately usable in queries.
// Nil props default to a thermal raw recording.
func (d *DeviceClient) UploadRecording(ctx context.Context, filePath string, props map[string]any) (int, error) {
	if props == nil {
		props = map[string]any{"type": "thermalRaw"}
	}
	return d.uploadID(ctx, "/api/v1/recordings", filePath, props, "recordingId")
}

// UploadAudioRecording uploads an audio recording. Props override the
// audio type default without mutating the caller's map.
func (d *DeviceClient) UploadAudioRecording(ctx context.Context, filePath string, props map[string]any) (int, error) {
	merged := map[string]any{"type": "audio"}
	for k, v := range props {
		merged[k] = v
	}
	return d.uploadID(ctx, "/api/v1/recordings", filePath, merged, "recordingId")
}

// UploadRecordingOnBehalf uploads for another device of the same group, used
// by gateway devices relaying recordings.
func (d *DeviceClient) UploadRecordingOnBehalf(ctx context.Context, deviceName, groupName, filePath string, props map[string]any) (int, error) {
	if props == nil {
		props = map[string]any{"type": "thermalRaw"}
	}
	path := fmt.Sprintf("/api/v1/recordings/%s", deviceName)
	if groupName != "" {
		path = fmt.Sprintf("/api/v1/recordings/%s/group/%s", deviceName, groupName)
	}
	return d.uploadID(ctx, path, filePath, props, "recordingId")
}

// Reregister gives the device a fresh identity under a new name, group and
// password. The service issues a new id and session token; the client swaps
// its credentials so subsequent calls act as the new device. The old device
// record stays on the server with its recording history.
func (d *DeviceClient) Reregister(ctx context.Context, newName, newGroup, newPassword string) error {
	payload := map[string]any{
		"newName":     newName,
		"newGroup":    newGroup,
		"newPassword": newPassword,
	}
	var body struct {
		Token string `json:"token"`
		ID    int    `json:"id"`
	}
	if err := d.do(ctx, http.MethodPost, "/api/v1/devices/reregister", nil, payload, &body); err != nil {
		return err
	}
	d.name = newName
	d.password = newPassword
	d.token = body.Token
	d.id = body.ID
	return nil
}

// DownloadAudioBait streams an audio bait file a user uploaded for this
// device to play. The id usually arrives via the device's schedule.
func (d *DeviceClient) DownloadAudioBait(ctx context.Context, fileID int) (*Download, error) {
	return d.DownloadFile(ctx, fileID)
}

// RecordEvent records a typed event with a detail payload at the given
// times. Identical (type, details) payloads resolve to the same server-side
// event detail id, regardless of device or how often they are recorded.
// Returns the number of events added and that shared detail id.
func (d *DeviceClient) RecordEvent(ctx context.Context, eventType string, details any, times ...time.Time) (int, int, error) {
	if len(times) == 0 {
		times = []time.Time{time.Now()}
	}
	payload := map[string]any{
		"description": map[string]any{"type": eventType, "details": details},
		"dateTimes":   formatTimes(times),
	}
	return d.postEvents(ctx, payload)
}

// RecordEventFromID records additional occurrences of an already-registered
// event detail.
func (d *DeviceClient) RecordEventFromID(ctx context.Context, eventDetailID int, times ...time.Time) (int, int, error) {
	if len(times) == 0 {
		times = []time.Time{time.Now()}
	}
	payload := map[string]any{
		"eventDetailId": eventDetailID,
		"dateTimes":     formatTimes(times),
	}
	return d.postEvents(ctx, payload)
}

func (d *DeviceClient) postEvents(ctx context.Context, payload map[string]any) (int, int, error) {
	var body struct {
		EventsAdded   int `json:"eventsAdded"`
		EventDetailID int `json:"eventDetailId"`
	}
	if err := d.do(ctx, http.MethodPost, "/api/v1/events", nil, payload, &body); err != nil {
		return 0, 0, err
	}
	return body.EventsAdded, body.EventDetailID, nil
}

func formatTimes(times []time.Time) []string {
	formatted := make([]string, len(times))
	for i, t := range times {
		formatted[i] = t.UTC().Format(time.RFC3339)
	}
	return formatted
}
