package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/korimako/fieldtest/internal/models"
)

func TestRecordingQueryParams(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		params, err := RecordingQuery{}.values()
		if err != nil {
			t.Fatalf("failed to build params: %v", err)
		}

		var where map[string]any
		if err := json.Unmarshal([]byte(params.Get("where")), &where); err != nil {
			t.Fatalf("where is not valid JSON: %v", err)
		}
		duration, ok := where["duration"].(map[string]any)
		if !ok || duration["$gte"] != float64(5) {
			t.Errorf("default where should require duration >= 5, got %v", where)
		}
		if params.Get("limit") != "100" {
			t.Errorf("default limit should be 100, got %q", params.Get("limit"))
		}
		if params.Has("tagMode") || params.Has("tags") || params.Has("filterOptions") {
			t.Error("unset criteria should not be serialized")
		}
	})

	t.Run("AllCriteria", func(t *testing.T) {
		minDuration := 0
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		end := start.Add(24 * time.Hour)
		q := RecordingQuery{
			MinDuration: &minDuration,
			StartDate:   &start,
			EndDate:     &end,
			Type:        "audio",
			TagMode:     "untagged",
			Tags:        []string{"possum", "cat"},
			DeviceIDs:   []int{3, 4},
			Limit:       10,
			Offset:      20,
			LatLongPrec: 200,
		}
		params, err := q.values()
		if err != nil {
			t.Fatalf("failed to build params: %v", err)
		}

		var where map[string]any
		json.Unmarshal([]byte(params.Get("where")), &where)
		if where["type"] != "audio" {
			t.Errorf("expected type filter, got %v", where)
		}
		duration := where["duration"].(map[string]any)
		if duration["$gte"] != float64(0) {
			t.Errorf("explicit zero min duration must override the default, got %v", duration)
		}
		dateRange := where["recordingDateTime"].(map[string]any)
		if dateRange["$gte"] != "2026-03-01T00:00:00Z" || dateRange["$lte"] != "2026-03-02T00:00:00Z" {
			t.Errorf("unexpected date range %v", dateRange)
		}
		if params.Get("tagMode") != "untagged" {
			t.Errorf("expected tagMode untagged, got %q", params.Get("tagMode"))
		}
		if params.Get("tags") != `["possum","cat"]` {
			t.Errorf("unexpected tags encoding %q", params.Get("tags"))
		}
		if params.Get("limit") != "10" || params.Get("offset") != "20" {
			t.Errorf("unexpected pagination %q/%q", params.Get("limit"), params.Get("offset"))
		}
	})
}

func TestRecordingLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("QueryVisibility", func(t *testing.T) {
		bed := newTestBed(t)
		id := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		rows, count, err := bed.user.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if count != 1 || len(rows) != 1 || rows[0].ID != id {
			t.Fatalf("group member should see the upload, got count=%d rows=%v", count, rows)
		}

		outsider := NewUserClient(bed.baseURL, uniqueName("outsider"), "passwd")
		if err := outsider.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register outsider: %v", err)
		}
		rows, _, err = outsider.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("outsider should see nothing, got %v", rows)
		}

		// The first registered user holds global read access.
		rows, _, err = bed.admin.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("admin should see all recordings, got %v", rows)
		}
	})

	t.Run("MinDurationFilter", func(t *testing.T) {
		bed := newTestBed(t)
		short := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 2})
		long := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		rows, _, err := bed.user.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 1 || rows[0].ID != long {
			t.Fatalf("default query should hide sub-5s recordings, got %v", rows)
		}

		zero := 0
		rows, _, err = bed.user.QueryRecordings(ctx, RecordingQuery{MinDuration: &zero})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("zero min duration should include %d, got %v", short, rows)
		}
	})

	t.Run("UpdateMergesNestedMetadata", func(t *testing.T) {
		bed := newTestBed(t)
		id := bed.upload(t, map[string]any{
			"type": "thermalRaw", "duration": 60,
			"additionalMetadata": map[string]any{"source": "camera-7"},
		})

		err := bed.user.UpdateRecording(ctx, id, map[string]any{
			"comment":            "checked",
			"additionalMetadata": map[string]any{"reviewed": true},
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		rec, err := bed.user.GetRecording(ctx, id, 0)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if rec.Props["comment"] != "checked" {
			t.Errorf("top-level field should update, got %v", rec.Props["comment"])
		}
		meta, _ := rec.Props["additionalMetadata"].(map[string]any)
		if meta["source"] != "camera-7" || meta["reviewed"] != true {
			t.Errorf("nested metadata should merge, not replace: %v", meta)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		bed := newTestBed(t)
		id := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		if err := bed.user.DeleteRecording(ctx, id); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := bed.user.GetRecording(ctx, id, 0); err == nil {
			t.Error("deleted recording should not be fetchable")
		}
	})

	t.Run("ForbiddenAccess", func(t *testing.T) {
		bed := newTestBed(t)
		id := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		outsider := NewUserClient(bed.baseURL, uniqueName("outsider"), "passwd")
		if err := outsider.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register outsider: %v", err)
		}
		_, err := outsider.GetRecording(ctx, id, 0)
		var authz *AuthorizationError
		if !errors.As(err, &authz) {
			t.Fatalf("cross-group access should be AuthorizationError, got %v", err)
		}
	})
}

func TestLocationPrecision(t *testing.T) {
	ctx := context.Background()

	coordinates := func(t *testing.T, rec *models.Recording) []float64 {
		t.Helper()
		location, ok := rec.Props["location"].(map[string]any)
		if !ok {
			t.Fatalf("recording carries no location: %v", rec.Props)
		}
		raw, ok := location["coordinates"].([]any)
		if !ok || len(raw) != 2 {
			t.Fatalf("unexpected coordinates %v", location)
		}
		return []float64{raw[0].(float64), raw[1].(float64)}
	}

	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-6 }

	bed := newTestBed(t)
	id := bed.upload(t, map[string]any{
		"type": "thermalRaw", "duration": 60,
		"location": map[string]any{"type": "Point", "coordinates": []float64{20, 20}},
	})

	t.Run("DefaultHundredMeters", func(t *testing.T) {
		rec, err := bed.user.GetRecording(ctx, id, 0)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		coords := coordinates(t, rec)
		if !near(coords[0], 20.00025) || !near(coords[1], 20.00025) {
			t.Errorf("expected (20.00025, 20.00025) at 100m, got %v", coords)
		}
	})

	t.Run("CoarserOnRequest", func(t *testing.T) {
		rec, err := bed.user.GetRecording(ctx, id, 200)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		coords := coordinates(t, rec)
		if !near(coords[0], 20.0007) {
			t.Errorf("expected 20.0007 at 200m, got %v", coords)
		}
	})

	t.Run("FineClampedForPlainUsers", func(t *testing.T) {
		rec, err := bed.user.GetRecording(ctx, id, 10)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		coords := coordinates(t, rec)
		if !near(coords[0], 20.00025) {
			t.Errorf("plain user requesting 10m should still get 100m, got %v", coords)
		}
	})

	t.Run("FineAllowedForAdmin", func(t *testing.T) {
		rec, err := bed.admin.GetRecording(ctx, id, 10)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		coords := coordinates(t, rec)
		if !near(coords[0], 20.000025) {
			t.Errorf("expected 20.000025 at 10m for admin, got %v", coords)
		}
	})
}

func TestTracksAndTags(t *testing.T) {
	ctx := context.Background()

	t.Run("AddTrackAndTag", func(t *testing.T) {
		bed := newTestBed(t)
		recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		track := models.NewTrack(recID)
		trackID, err := bed.user.AddTrack(ctx, track)
		if err != nil {
			t.Fatalf("failed to add track: %v", err)
		}

		tag := models.NewTrackTag(trackID, false)
		tag.What = "possum"
		tagID, err := bed.user.AddTrackTag(ctx, recID, tag, false)
		if err != nil {
			t.Fatalf("failed to tag track: %v", err)
		}
		if tagID == 0 {
			t.Fatal("tag id should be assigned")
		}

		tracks, err := bed.user.GetTracks(ctx, recID)
		if err != nil {
			t.Fatalf("failed to list tracks: %v", err)
		}
		if len(tracks) != 1 || len(tracks[0].Tags) != 1 {
			t.Fatalf("expected one track with one tag, got %v", tracks)
		}
		if tracks[0].Tags[0].What != "possum" {
			t.Errorf("expected possum tag, got %q", tracks[0].Tags[0].What)
		}
	})

	t.Run("ReplaceKeepsOtherOrigin", func(t *testing.T) {
		bed := newTestBed(t)
		recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
		trackID, err := bed.user.AddTrack(ctx, models.NewTrack(recID))
		if err != nil {
			t.Fatalf("failed to add track: %v", err)
		}

		automatic := models.NewTrackTag(trackID, true)
		automatic.What = "rat"
		if _, err := bed.user.AddTrackTag(ctx, recID, automatic, false); err != nil {
			t.Fatalf("failed to add automatic tag: %v", err)
		}
		human := models.NewTrackTag(trackID, false)
		human.What = "cat"
		if _, err := bed.user.AddTrackTag(ctx, recID, human, false); err != nil {
			t.Fatalf("failed to add human tag: %v", err)
		}

		correction := models.NewTrackTag(trackID, false)
		correction.What = "possum"
		if _, err := bed.user.AddTrackTag(ctx, recID, correction, true); err != nil {
			t.Fatalf("failed to replace human tag: %v", err)
		}

		tracks, err := bed.user.GetTracks(ctx, recID)
		if err != nil {
			t.Fatalf("failed to list tracks: %v", err)
		}
		whats := map[string]bool{}
		for _, tag := range tracks[0].Tags {
			whats[tag.What] = true
		}
		if !whats["rat"] || !whats["possum"] || whats["cat"] {
			t.Errorf("replace should supersede same-origin tags only, got %v", whats)
		}
	})

	t.Run("DeleteTrackTag", func(t *testing.T) {
		bed := newTestBed(t)
		recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
		trackID, _ := bed.user.AddTrack(ctx, models.NewTrack(recID))
		tag := models.NewTrackTag(trackID, false)
		tag.What = "possum"
		tagID, _ := bed.user.AddTrackTag(ctx, recID, tag, false)

		if err := bed.user.DeleteTrackTag(ctx, recID, trackID, tagID); err != nil {
			t.Fatalf("failed to delete tag: %v", err)
		}
		tracks, _ := bed.user.GetTracks(ctx, recID)
		if len(tracks[0].Tags) != 0 {
			t.Errorf("tag should be gone, got %v", tracks[0].Tags)
		}
	})

	t.Run("RecordingLevelTag", func(t *testing.T) {
		bed := newTestBed(t)
		recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		tagID, err := bed.user.TagRecording(ctx, recID, &models.RecordingTag{What: "cool", Confidence: 0.9})
		if err != nil {
			t.Fatalf("failed to tag recording: %v", err)
		}
		if err := bed.user.DeleteRecordingTag(ctx, recID, tagID); err != nil {
			t.Fatalf("failed to delete recording tag: %v", err)
		}
	})
}

func TestTagModeQueries(t *testing.T) {
	ctx := context.Background()
	bed := newTestBed(t)

	tagTrack := func(t *testing.T, recID int, what string, automatic bool) {
		t.Helper()
		trackID, err := bed.user.AddTrack(ctx, models.NewTrack(recID))
		if err != nil {
			t.Fatalf("failed to add track: %v", err)
		}
		tag := models.NewTrackTag(trackID, automatic)
		tag.What = what
		if _, err := bed.user.AddTrackTag(ctx, recID, tag, false); err != nil {
			t.Fatalf("failed to tag track: %v", err)
		}
	}

	untagged := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	humanOnly := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	tagTrack(t, humanOnly, "possum", false)
	autoOnly := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	tagTrack(t, autoOnly, "rat", true)
	both := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	tagTrack(t, both, "possum", true)
	tagTrack(t, both, "possum", false)

	ids := func(rows []*models.Recording) map[int]bool {
		out := map[int]bool{}
		for _, r := range rows {
			out[r.ID] = true
		}
		return out
	}

	cases := []struct {
		mode string
		tags []string
		want []int
	}{
		{"untagged", nil, []int{untagged}},
		{"tagged", nil, []int{humanOnly, autoOnly, both}},
		{"human-only", nil, []int{humanOnly}},
		{"automatic-only", nil, []int{autoOnly}},
		{"automatic+human", nil, []int{both}},
		{"no-human", nil, []int{untagged, autoOnly}},
		{"tagged", []string{"rat"}, []int{autoOnly}},
		{"any", []string{"possum"}, []int{humanOnly, both}},
	}
	for _, tc := range cases {
		name := tc.mode
		if tc.tags != nil {
			name += "+tags"
		}
		t.Run(name, func(t *testing.T) {
			rows, _, err := bed.user.QueryRecordings(ctx, RecordingQuery{TagMode: tc.mode, Tags: tc.tags})
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			got := ids(rows)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, rows)
			}
			for _, id := range tc.want {
				if !got[id] {
					t.Errorf("expected recording %d in result, got %v", id, rows)
				}
			}
		})
	}
}

func TestReprocess(t *testing.T) {
	ctx := context.Background()

	t.Run("ArchivesTagsAndClearsTracks", func(t *testing.T) {
		bed := newTestBed(t)
		recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
		trackID, _ := bed.user.AddTrack(ctx, models.NewTrack(recID))
		tag := models.NewTrackTag(trackID, true)
		tag.What = "rat"
		bed.user.AddTrackTag(ctx, recID, tag, false)
		if _, err := bed.user.TagRecording(ctx, recID, &models.RecordingTag{What: "cool"}); err != nil {
			t.Fatalf("failed to tag recording: %v", err)
		}

		if err := bed.user.Reprocess(ctx, recID); err != nil {
			t.Fatalf("reprocess failed: %v", err)
		}

		tracks, err := bed.user.GetTracks(ctx, recID)
		if err != nil {
			t.Fatalf("failed to list tracks: %v", err)
		}
		if len(tracks) != 0 {
			t.Errorf("tracks should be cleared, got %v", tracks)
		}

		rec, err := bed.user.GetRecording(ctx, recID, 0)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		meta, _ := rec.Props["additionalMetadata"].(map[string]any)
		oldTags, _ := meta["oldTags"].([]any)
		if len(oldTags) != 1 {
			t.Fatalf("recording tags should be archived into oldTags, got %v", meta)
		}
		if rec.Props["processingState"] != "getMetadata" {
			t.Errorf("state should reset to the initial one, got %v", rec.Props["processingState"])
		}
	})

	t.Run("BulkPartialFailure", func(t *testing.T) {
		bed := newTestBed(t)
		ok1 := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
		ok2 := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})

		reprocessed, failed, err := bed.user.ReprocessBulk(ctx, []int{ok1, ok2, 99999})
		if err == nil {
			t.Fatal("bulk with an unknown id should report failure")
		}
		if len(reprocessed) != 2 || len(failed) != 1 || failed[0] != 99999 {
			t.Errorf("expected partition ([%d %d], [99999]), got (%v, %v)", ok1, ok2, reprocessed, failed)
		}
	})
}

func TestGroupsDevicesStations(t *testing.T) {
	ctx := context.Background()

	t.Run("ListGroupsAndDevices", func(t *testing.T) {
		bed := newTestBed(t)

		groups, err := bed.user.ListGroups(ctx)
		if err != nil {
			t.Fatalf("failed to list groups: %v", err)
		}
		if len(groups) != 1 || groups[0].Name != bed.group {
			t.Fatalf("expected the owned group, got %v", groups)
		}

		devices, err := bed.user.ListDevices(ctx)
		if err != nil {
			t.Fatalf("failed to list devices: %v", err)
		}
		if len(devices) != 1 || devices[0].Name != bed.device.Name() {
			t.Fatalf("expected the group device, got %v", devices)
		}
	})

	t.Run("UserDetails", func(t *testing.T) {
		bed := newTestBed(t)
		details, err := bed.admin.UserDetails(ctx, bed.user.Name())
		if err != nil {
			t.Fatalf("failed to fetch user details: %v", err)
		}
		if details["username"] != bed.user.Name() {
			t.Errorf("expected username %q, got %v", bed.user.Name(), details)
		}
	})

	t.Run("StationReplaceRetires", func(t *testing.T) {
		bed := newTestBed(t)

		ids, warnings, err := bed.user.AddStations(ctx, bed.group, []Station{
			{Name: "forest", Lat: -43.6, Lng: 172.6},
			{Name: "stream", Lat: -43.7, Lng: 172.7},
		})
		if err != nil {
			t.Fatalf("failed to add stations: %v", err)
		}
		if len(ids) != 2 || len(warnings) != 0 {
			t.Fatalf("expected two stations and no warnings, got %v %v", ids, warnings)
		}

		// The replacement list drops "stream", which must retire it.
		if _, _, err := bed.user.AddStations(ctx, bed.group, []Station{
			{Name: "forest", Lat: -43.61, Lng: 172.61},
		}); err != nil {
			t.Fatalf("failed to replace stations: %v", err)
		}

		stations, err := bed.user.ListStations(ctx, bed.group)
		if err != nil {
			t.Fatalf("failed to list stations: %v", err)
		}
		var active, retired int
		for _, st := range stations {
			if st.RetiredAt == nil {
				active++
			} else {
				retired++
			}
		}
		if active != 1 || retired != 1 {
			t.Errorf("expected 1 active and 1 retired station, got %v", stations)
		}
	})

	t.Run("StationProximityWarning", func(t *testing.T) {
		bed := newTestBed(t)
		_, warnings, err := bed.user.AddStations(ctx, bed.group, []Station{
			{Name: "a", Lat: -43.6, Lng: 172.6},
			{Name: "b", Lat: -43.6001, Lng: 172.6},
		})
		if err != nil {
			t.Fatalf("failed to add stations: %v", err)
		}
		if len(warnings) == 0 {
			t.Error("stations ~11m apart should draw a proximity warning")
		}
	})
}

func TestAlerts(t *testing.T) {
	ctx := context.Background()
	bed := newTestBed(t)
	deviceID := bed.device.ID()

	zero := 0
	alertID, err := bed.user.CreateAlert(ctx, Alert{
		Name:             "possum-watch",
		Conditions:       []AlertCondition{{Tag: "possum", Automatic: true}},
		FrequencySeconds: &zero,
		DeviceID:         deviceID,
	})
	if err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	recID := bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	trackID, _ := bed.user.AddTrack(ctx, models.NewTrack(recID))

	miss := models.NewTrackTag(trackID, false)
	miss.What = "possum"
	bed.user.AddTrackTag(ctx, recID, miss, false)

	hit := models.NewTrackTag(trackID, true)
	hit.What = "possum"
	bed.user.AddTrackTag(ctx, recID, hit, false)

	alert, err := bed.user.GetAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("failed to fetch alert: %v", err)
	}
	if len(alert.Logs) != 1 {
		t.Fatalf("only the automatic possum tag should fire, got %v", alert.Logs)
	}
	if alert.Logs[0].RecordingID != recID || alert.Logs[0].TrackID != trackID {
		t.Errorf("log should name the firing recording and track, got %+v", alert.Logs[0])
	}
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	bed := newTestBed(t)

	schedule := map[string]any{"combos": []any{}, "playNights": float64(2)}
	if err := bed.user.SetSchedule(ctx, []int{bed.device.ID()}, schedule); err != nil {
		t.Fatalf("failed to set schedule: %v", err)
	}

	got, err := bed.user.GetSchedule(ctx, bed.device.Name())
	if err != nil {
		t.Fatalf("failed to fetch schedule: %v", err)
	}
	if got["playNights"] != float64(2) {
		t.Errorf("expected the installed schedule back, got %v", got)
	}

	t.Run("AllOrNothing", func(t *testing.T) {
		outsider := NewUserClient(bed.baseURL, uniqueName("outsider"), "passwd")
		if err := outsider.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register outsider: %v", err)
		}
		err := outsider.SetSchedule(ctx, []int{bed.device.ID()}, schedule)
		var authz *AuthorizationError
		if !errors.As(err, &authz) {
			t.Fatalf("outsider setting a schedule should be AuthorizationError, got %v", err)
		}
	})
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()

	newMember := func(t *testing.T, bed *testBed) *UserClient {
		t.Helper()
		member := NewUserClient(bed.baseURL, uniqueName("member"), "passwd")
		if err := member.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register member: %v", err)
		}
		return member
	}

	t.Run("AddGrantsVisibility", func(t *testing.T) {
		bed := newTestBed(t)
		id := bed.upload(t, map[string]any{"type": "thermalRaw"})
		member := newMember(t, bed)

		rows, _, err := member.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("non-member should see nothing, got %v", rows)
		}

		if err := bed.user.AddGroupUser(ctx, bed.group, member.Name(), false); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
		rows, _, err = member.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 1 || rows[0].ID != id {
			t.Fatalf("member should see the group recording, got %v", rows)
		}
	})

	t.Run("RemoveRevokesVisibility", func(t *testing.T) {
		bed := newTestBed(t)
		bed.upload(t, map[string]any{"type": "thermalRaw"})
		member := newMember(t, bed)
		if err := bed.user.AddGroupUser(ctx, bed.group, member.Name(), false); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}

		if err := bed.user.RemoveGroupUser(ctx, bed.group, member.Name()); err != nil {
			t.Fatalf("failed to remove member: %v", err)
		}
		rows, _, err := member.QueryRecordings(ctx, RecordingQuery{})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("removed member should see nothing, got %v", rows)
		}
	})

	t.Run("OnlyAdminsManageMembership", func(t *testing.T) {
		bed := newTestBed(t)
		member := newMember(t, bed)
		if err := bed.user.AddGroupUser(ctx, bed.group, member.Name(), false); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}

		stranger := newMember(t, bed)
		err := member.AddGroupUser(ctx, bed.group, stranger.Name(), false)
		var authz *AuthorizationError
		if !errors.As(err, &authz) {
			t.Fatalf("plain member adding users should be AuthorizationError, got %v", err)
		}

		// Promotion is an add with the admin flag set.
		if err := bed.user.AddGroupUser(ctx, bed.group, member.Name(), true); err != nil {
			t.Fatalf("failed to promote member: %v", err)
		}
		if err := member.AddGroupUser(ctx, bed.group, stranger.Name(), false); err != nil {
			t.Fatalf("promoted member should manage users, got %v", err)
		}
	})

	t.Run("ListGroupUsers", func(t *testing.T) {
		bed := newTestBed(t)
		member := newMember(t, bed)
		if err := bed.user.AddGroupUser(ctx, bed.group, member.Name(), false); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}

		users, err := bed.user.ListGroupUsers(ctx, bed.group)
		if err != nil {
			t.Fatalf("failed to list group users: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("expected owner and member, got %v", users)
		}
		byName := map[string]GroupUser{}
		for _, gu := range users {
			byName[gu.Username] = gu
		}
		if !byName[bed.user.Name()].IsAdmin {
			t.Error("group creator should be an admin")
		}
		if byName[member.Name()].IsAdmin {
			t.Error("added member should not be an admin")
		}
	})

	t.Run("Validation", func(t *testing.T) {
		bed := newTestBed(t)
		var unprocessable *UnprocessableError

		if err := bed.user.AddGroupUser(ctx, "no-such-group", bed.user.Name(), false); !errors.As(err, &unprocessable) {
			t.Errorf("unknown group should be UnprocessableError, got %v", err)
		}
		if err := bed.user.AddGroupUser(ctx, bed.group, "no-such-user", false); !errors.As(err, &unprocessable) {
			t.Errorf("unknown user should be UnprocessableError, got %v", err)
		}
		member := newMember(t, bed)
		if err := bed.user.RemoveGroupUser(ctx, bed.group, member.Name()); !errors.As(err, &unprocessable) {
			t.Errorf("removing a non-member should be UnprocessableError, got %v", err)
		}
	})
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	bed := newTestBed(t)
	bed.upload(t, map[string]any{"type": "thermalRaw", "duration": 60})
	bed.upload(t, map[string]any{"type": "audio", "duration": 30})

	rows, err := bed.user.Report(ctx, RecordingQuery{})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %v", rows)
	}
	if rows[0][0] != "Id" {
		t.Errorf("first row should be the header, got %v", rows[0])
	}
}
