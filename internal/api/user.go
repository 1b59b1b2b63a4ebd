package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/korimako/fieldtest/internal/models"
)

// UserClient exposes the operations available to an authenticated user
// principal. Every operation is a thin HTTP call, response decode, and
// error-taxonomy mapping.
type UserClient struct {
	*Client
}

// NewUserClient creates an unauthenticated user client; call Login or
// Register before issuing operations.
func NewUserClient(baseURL, username, password string) *UserClient {
	return &UserClient{Client: NewClient(baseURL, UserPrincipal, username, password)}
}

// RecordingQuery is the accumulated filter state for a recordings search.
// Zero values mean "not filtered". It is built incrementally (directly or via
// the verify package) and consumed by one QueryRecordings call.
type RecordingQuery struct {
	MinDuration *int       // seconds, duration $gte; nil applies the service default of 5
	StartDate   *time.Time // recordingDateTime $gte
	EndDate     *time.Time // recordingDateTime $lte
	Type        string     // thermalRaw, audio, ...
	TagMode     string     // untagged, tagged, human-only, automatic-only, ...
	Tags        []string
	DeviceIDs   []int
	GroupIDs    []int
	Limit       int // 0 applies the service default of 100
	Offset      int
	LatLongPrec int // meters; 0 leaves the server default of 100
}

// where builds the JSON filter map the service expects.
func (q RecordingQuery) where() map[string]any {
	minSecs := 5
	if q.MinDuration != nil {
		minSecs = *q.MinDuration
	}
	where := map[string]any{"duration": map[string]any{"$gte": minSecs}}

	dateRange := map[string]any{}
	if q.StartDate != nil {
		dateRange["$gte"] = q.StartDate.UTC().Format(time.RFC3339)
	}
	if q.EndDate != nil {
		dateRange["$lte"] = q.EndDate.UTC().Format(time.RFC3339)
	}
	if len(dateRange) > 0 {
		where["recordingDateTime"] = dateRange
	}
	if q.Type != "" {
		where["type"] = q.Type
	}
	if len(q.DeviceIDs) > 0 {
		where["DeviceId"] = map[string]any{"$in": q.DeviceIDs}
	}
	if len(q.GroupIDs) > 0 {
		where["GroupId"] = map[string]any{"$in": q.GroupIDs}
	}
	return where
}

// values serializes the criteria as request parameters. Only set criteria are
// serialized.
func (q RecordingQuery) values() (url.Values, error) {
	whereJSON, err := json.Marshal(q.where())
	if err != nil {
		return nil, fmt.Errorf("failed to encode where clause: %w", err)
	}

	params := url.Values{"where": []string{string(whereJSON)}}
	limit := q.Limit
	if limit == 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Offset))

	if q.TagMode != "" {
		params.Set("tagMode", q.TagMode)
	}
	if q.Tags != nil {
		tagsJSON, err := json.Marshal(q.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
		params.Set("tags", string(tagsJSON))
	}
	if q.LatLongPrec > 0 {
		opts, err := json.Marshal(map[string]any{"latLongPrec": q.LatLongPrec})
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter options: %w", err)
		}
		params.Set("filterOptions", string(opts))
	}
	return params, nil
}

// QueryRecordings runs a filtered search and returns matching recordings
// most-recent-first, plus the total match count before pagination.
func (u *UserClient) QueryRecordings(ctx context.Context, q RecordingQuery) ([]*models.Recording, int, error) {
	params, err := q.values()
	if err != nil {
		return nil, 0, err
	}

	var body struct {
		Rows  []map[string]any `json:"rows"`
		Count int              `json:"count"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/recordings", params, nil, &body); err != nil {
		return nil, 0, err
	}

	rows := make([]*models.Recording, 0, len(body.Rows))
	for _, row := range body.Rows {
		rows = append(rows, recordingFromRow(row))
	}
	return rows, body.Count, nil
}

// GetRecording fetches one recording by id. latLongPrec above zero requests
// coarser or finer location precision; the server clamps non-privileged
// callers to 100 m.
func (u *UserClient) GetRecording(ctx context.Context, id, latLongPrec int) (*models.Recording, error) {
	var params url.Values
	if latLongPrec > 0 {
		opts, err := json.Marshal(map[string]any{"latLongPrec": latLongPrec})
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter options: %w", err)
		}
		params = url.Values{"filterOptions": []string{string(opts)}}
	}

	var body struct {
		Recording map[string]any `json:"recording"`
	}
	if err := u.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/recordings/%d", id), params, nil, &body); err != nil {
		return nil, err
	}
	return recordingFromRow(body.Recording), nil
}

// UpdateRecording patches recording fields. Nested maps such as
// additionalMetadata are merged server-side, not replaced.
func (u *UserClient) UpdateRecording(ctx context.Context, id int, updates map[string]any) error {
	return u.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/recordings/%d", id),
		nil, map[string]any{"updates": updates}, nil)
}

// DeleteRecording removes a recording.
func (u *UserClient) DeleteRecording(ctx context.Context, id int) error {
	return u.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/recordings/%d", id), nil, nil, nil)
}

// Reprocess marks one recording for reprocessing, archiving its tracks.
func (u *UserClient) Reprocess(ctx context.Context, id int) error {
	return u.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/reprocess/%d", id), nil, nil, nil)
}

// ReprocessBulk marks several recordings for reprocessing and returns the
// per-id success/failure partition. A non-nil error still carries the
// partition when the server processed part of the batch.
func (u *UserClient) ReprocessBulk(ctx context.Context, ids []int) (reprocessed, failed []int, err error) {
	var body struct {
		Reprocessed []int `json:"reprocessed"`
		Fail        []int `json:"fail"`
	}
	err = u.do(ctx, http.MethodPost, "/api/v1/reprocess", nil, map[string]any{"recordings": ids}, &body)
	if reqErr, ok := err.(*RequestError); ok {
		// Partial failure: the body still lists what went through.
		var partial struct {
			Reprocessed []int `json:"reprocessed"`
			Fail        []int `json:"fail"`
		}
		if jsonErr := json.Unmarshal([]byte(reqErr.Body), &partial); jsonErr == nil {
			return partial.Reprocessed, partial.Fail, err
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return body.Reprocessed, body.Fail, nil
}

// GetTracks lists the active tracks of a recording, including their tags.
func (u *UserClient) GetTracks(ctx context.Context, recordingID int) ([]models.Track, error) {
	var body struct {
		Tracks []struct {
			ID   int            `json:"id"`
			Data map[string]any `json:"data"`
			Tags []struct {
				ID         int            `json:"id"`
				What       string         `json:"what"`
				Confidence float64        `json:"confidence"`
				Automatic  bool           `json:"automatic"`
				Data       map[string]any `json:"data"`
			} `json:"TrackTags"`
		} `json:"tracks"`
	}
	if err := u.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/recordings/%d/tracks", recordingID), nil, nil, &body); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(body.Tracks))
	for _, t := range body.Tracks {
		track := models.Track{ID: t.ID, RecordingID: recordingID, Data: t.Data}
		for _, tag := range t.Tags {
			track.Tags = append(track.Tags, models.TrackTag{
				ID: tag.ID, TrackID: t.ID, What: tag.What,
				Confidence: tag.Confidence, Automatic: tag.Automatic, Data: tag.Data,
			})
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// AddTrack creates a track on a recording and returns its id.
func (u *UserClient) AddTrack(ctx context.Context, track *models.Track) (int, error) {
	var body struct {
		TrackID int `json:"trackId"`
	}
	err := u.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/recordings/%d/tracks", track.RecordingID),
		nil, map[string]any{"data": track.Data}, &body)
	if err != nil {
		return 0, err
	}
	return body.TrackID, nil
}

// AddTrackTag tags a track. With replace true the new tag supersedes prior
// tags of the same origin (automatic or human) only; tags from the other
// origin are preserved.
func (u *UserClient) AddTrackTag(ctx context.Context, recordingID int, tag *models.TrackTag, replace bool) (int, error) {
	var body struct {
		TrackTagID int `json:"trackTagId"`
	}
	payload := map[string]any{
		"what":       tag.What,
		"confidence": tag.Confidence,
		"automatic":  tag.Automatic,
		"data":       tag.Data,
		"replace":    replace,
	}
	err := u.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/recordings/%d/tracks/%d/tags", recordingID, tag.TrackID), nil, payload, &body)
	if err != nil {
		return 0, err
	}
	return body.TrackTagID, nil
}

// DeleteTrackTag removes one track tag.
func (u *UserClient) DeleteTrackTag(ctx context.Context, recordingID, trackID, tagID int) error {
	return u.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/recordings/%d/tracks/%d/tags/%d", recordingID, trackID, tagID), nil, nil, nil)
}

// TagRecording attaches a recording-level tag and returns its id.
func (u *UserClient) TagRecording(ctx context.Context, recordingID int, tag *models.RecordingTag) (int, error) {
	var body struct {
		TagID int `json:"tagId"`
	}
	payload := map[string]any{
		"what":       tag.What,
		"confidence": tag.Confidence,
		"automatic":  tag.Automatic,
		"data":       tag.Data,
	}
	err := u.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/recordings/%d/tags", recordingID), nil, payload, &body)
	if err != nil {
		return 0, err
	}
	return body.TagID, nil
}

// DeleteRecordingTag removes a recording-level tag.
func (u *UserClient) DeleteRecordingTag(ctx context.Context, recordingID, tagID int) error {
	return u.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/recordings/%d/tags/%d", recordingID, tagID), nil, nil, nil)
}

// Event is one recorded device event as returned by the events query.
type Event struct {
	ID            int            `json:"id"`
	DeviceID      int            `json:"DeviceId"`
	EventDetailID int            `json:"EventDetailId"`
	DateTime      time.Time      `json:"dateTime"`
	Type          string         `json:"-"`
	Details       map[string]any `json:"-"`
	EventDetail   struct {
		Type    string         `json:"type"`
		Details map[string]any `json:"details"`
	} `json:"EventDetail"`
}

// EventQuery filters the events listing. Zero values are not serialized.
type EventQuery struct {
	DeviceID   int
	StartTime  *time.Time
	EndTime    *time.Time
	Type       string
	LatestOnly bool
	Limit      int
	Offset     int
}

// QueryEvents lists events visible to the user, newest first when LatestOnly
// is set.
func (u *UserClient) QueryEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	params := url.Values{}
	if q.DeviceID != 0 {
		params.Set("deviceId", strconv.Itoa(q.DeviceID))
	}
	if q.StartTime != nil {
		params.Set("startTime", q.StartTime.UTC().Format(time.RFC3339))
	}
	if q.EndTime != nil {
		params.Set("endTime", q.EndTime.UTC().Format(time.RFC3339))
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.LatestOnly {
		params.Set("latest", "true")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var body struct {
		Rows []Event `json:"rows"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/events", params, nil, &body); err != nil {
		return nil, err
	}
	for i := range body.Rows {
		body.Rows[i].Type = body.Rows[i].EventDetail.Type
		body.Rows[i].Details = body.Rows[i].EventDetail.Details
	}
	return body.Rows, nil
}

// RecordEventForDevice records a typed event on behalf of a device the user
// can see, typically for devices that cannot report the event themselves.
// Returns the number of events added and the shared event detail id.
func (u *UserClient) RecordEventForDevice(ctx context.Context, deviceID int, eventType string, details any, times ...time.Time) (int, int, error) {
	if len(times) == 0 {
		times = []time.Time{time.Now()}
	}
	payload := map[string]any{
		"description": map[string]any{"type": eventType, "details": details},
		"dateTimes":   formatTimes(times),
	}
	var body struct {
		EventsAdded   int `json:"eventsAdded"`
		EventDetailID int `json:"eventDetailId"`
	}
	path := fmt.Sprintf("/api/v1/events/device/%d", deviceID)
	if err := u.do(ctx, http.MethodPost, path, nil, payload, &body); err != nil {
		return 0, 0, err
	}
	return body.EventsAdded, body.EventDetailID, nil
}

// CreateGroup creates a named group owned by the user and returns its id.
func (u *UserClient) CreateGroup(ctx context.Context, name string) (int, error) {
	var body struct {
		GroupID int `json:"groupId"`
	}
	err := u.do(ctx, http.MethodPost, "/api/v1/groups", nil, map[string]any{"groupname": name}, &body)
	if err != nil {
		return 0, err
	}
	return body.GroupID, nil
}

// Group is a summary row from the groups listing.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"groupname"`
}

// ListGroups returns the groups visible to the user.
func (u *UserClient) ListGroups(ctx context.Context) ([]Group, error) {
	var body struct {
		Groups []Group `json:"groups"`
	}
	params := url.Values{"where": []string{"{}"}}
	if err := u.do(ctx, http.MethodGet, "/api/v1/groups", params, nil, &body); err != nil {
		return nil, err
	}
	return body.Groups, nil
}

// GroupUser is a membership row from the group users listing.
type GroupUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isGroupAdmin"`
}

// AddGroupUser adds the named user to a group, or updates the admin flag of
// an existing member. The caller must administer the group.
func (u *UserClient) AddGroupUser(ctx context.Context, group, username string, admin bool) error {
	payload := map[string]any{"group": group, "username": username, "admin": admin}
	return u.do(ctx, http.MethodPost, "/api/v1/groups/users", nil, payload, nil)
}

// RemoveGroupUser removes the named user from a group. The caller must
// administer the group.
func (u *UserClient) RemoveGroupUser(ctx context.Context, group, username string) error {
	payload := map[string]any{"group": group, "username": username}
	return u.do(ctx, http.MethodDelete, "/api/v1/groups/users", nil, payload, nil)
}

// ListGroupUsers returns the members of a group the user belongs to.
func (u *UserClient) ListGroupUsers(ctx context.Context, group string) ([]GroupUser, error) {
	var body struct {
		Users []GroupUser `json:"users"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(group)+"/users", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

// DeviceSummary is a row from the devices listing.
type DeviceSummary struct {
	ID   int    `json:"id"`
	Name string `json:"devicename"`
}

// ListDevices returns the devices visible to the user.
func (u *UserClient) ListDevices(ctx context.Context) ([]DeviceSummary, error) {
	var body struct {
		Devices struct {
			Rows []DeviceSummary `json:"rows"`
		} `json:"devices"`
	}
	params := url.Values{"where": []string{"{}"}}
	if err := u.do(ctx, http.MethodGet, "/api/v1/devices", params, nil, &body); err != nil {
		return nil, err
	}
	return body.Devices.Rows, nil
}

// UserDetails fetches another user's public details.
func (u *UserClient) UserDetails(ctx context.Context, username string) (map[string]any, error) {
	var body struct {
		UserData map[string]any `json:"userData"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(username), nil, nil, &body); err != nil {
		return nil, err
	}
	return body.UserData, nil
}

// Station is a named point location within a group's area.
type Station struct {
	ID        int        `json:"id,omitempty"`
	Name      string     `json:"name"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`
}

// AddStations replaces a group's station list. Existing stations missing from
// the new list are retired, same-name stations update in place. Returns the
// added-or-updated ids plus proximity warnings.
func (u *UserClient) AddStations(ctx context.Context, group string, stations []Station) ([]int, []string, error) {
	stationsJSON, err := json.Marshal(stations)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode stations: %w", err)
	}

	var body struct {
		StationIDs []int    `json:"stationIdsAddedOrUpdated"`
		Warnings   []string `json:"warnings"`
	}
	err = u.do(ctx, http.MethodPost, "/api/v1/groups/"+url.PathEscape(group)+"/stations",
		nil, map[string]any{"stations": string(stationsJSON)}, &body)
	if err != nil {
		return nil, nil, err
	}
	return body.StationIDs, body.Warnings, nil
}

// ListStations returns all stations of a group, retired ones included.
func (u *UserClient) ListStations(ctx context.Context, group string) ([]Station, error) {
	var body struct {
		Stations []Station `json:"stations"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(group)+"/stations", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Stations, nil
}

// AlertCondition matches a tag classification for alerting.
type AlertCondition struct {
	Tag       string `json:"tag"`
	Automatic bool   `json:"automatic"`
}

// Alert subscribes a user to tag sightings on one device.
type Alert struct {
	ID               int              `json:"id,omitempty"`
	Name             string           `json:"name"`
	Conditions       []AlertCondition `json:"conditions"`
	FrequencySeconds *int             `json:"frequencySeconds"`
	DeviceID         int              `json:"DeviceId"`
	Logs             []AlertLog       `json:"AlertLogs,omitempty"`
}

// AlertLog records one firing of an alert.
type AlertLog struct {
	RecordingID int       `json:"recId"`
	TrackID     int       `json:"trackId"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateAlert registers an alert and returns its id.
func (u *UserClient) CreateAlert(ctx context.Context, alert Alert) (int, error) {
	var body struct {
		ID int `json:"id"`
	}
	if err := u.do(ctx, http.MethodPost, "/api/v1/alerts", nil, alert, &body); err != nil {
		return 0, err
	}
	return body.ID, nil
}

// GetAlert fetches an alert with its firing log, newest first.
func (u *UserClient) GetAlert(ctx context.Context, id int) (*Alert, error) {
	var body struct {
		Alert Alert `json:"alert"`
	}
	if err := u.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/alerts/%d", id), nil, nil, &body); err != nil {
		return nil, err
	}
	return &body.Alert, nil
}

// SetSchedule installs an audio schedule on the given devices. The caller
// must administer every listed device or the whole call is rejected.
func (u *UserClient) SetSchedule(ctx context.Context, deviceIDs []int, schedule map[string]any) error {
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	devicesJSON, err := json.Marshal(deviceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode device ids: %w", err)
	}
	return u.do(ctx, http.MethodPost, "/api/v1/schedules", nil,
		map[string]any{"devices": string(devicesJSON), "schedule": string(scheduleJSON)}, nil)
}

// GetSchedule fetches the audio schedule installed on a device.
func (u *UserClient) GetSchedule(ctx context.Context, deviceName string) (map[string]any, error) {
	var body struct {
		Schedule map[string]any `json:"schedule"`
	}
	if err := u.do(ctx, http.MethodGet, "/api/v1/schedules/"+url.PathEscape(deviceName), nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Schedule, nil
}

// UploadFile uploads an audio bait file and returns its id.
func (u *UserClient) UploadFile(ctx context.Context, filePath string, details map[string]any) (int, error) {
	props := map[string]any{"type": "audioBait", "details": details}
	return u.uploadID(ctx, "/api/v1/files", filePath, props, "id")
}

// DeleteFile removes an uploaded file.
func (u *UserClient) DeleteFile(ctx context.Context, fileID int) error {
	return u.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", fileID), nil, nil, nil)
}

// Report downloads the recordings report for the given criteria as parsed
// CSV rows, header first.
func (u *UserClient) Report(ctx context.Context, q RecordingQuery) ([][]string, error) {
	params, err := q.values()
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, http.MethodGet, "/api/v1/recordings/report", params, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return rows, nil
}

// recordingFromRow wraps a raw response row. The row keys stay opaque; only
// the id is lifted out because it is the entity's identity.
func recordingFromRow(row map[string]any) *models.Recording {
	rec := &models.Recording{Props: row}
	if id, ok := row["id"].(float64); ok {
		rec.ID = int(id)
	}
	return rec
}
