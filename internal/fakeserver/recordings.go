package fakeserver

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// defaultLatLongPrec is the coarsest location precision served to users
// without global privileges, in meters.
const defaultLatLongPrec = 100

// handleUpload serves the device recording upload, including the on-behalf
// variants where a gateway device uploads for a sibling device.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uploader := s.authDevice(w, r)
	if uploader == nil {
		return
	}

	props, content, filename, ok := s.readMultipart(w, r)
	if !ok {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	device := uploader
	if name := mux.Vars(r)["device"]; name != "" {
		target, found := s.store.devices[name]
		if !found {
			sendError(w, http.StatusUnprocessableEntity, "no such device")
			return
		}
		if groupName := mux.Vars(r)["group"]; groupName != "" {
			g, found := s.store.groups[groupName]
			if !found || target.groupID != g.id {
				sendError(w, http.StatusUnprocessableEntity, "device not in group")
				return
			}
		}
		if target.groupID != uploader.groupID {
			sendError(w, http.StatusForbidden, "device belongs to another group")
			return
		}
		device = target
	}

	typ, _ := props["type"].(string)
	if typ == "" {
		typ = "thermalRaw"
	}
	rec := &recording{
		id:       s.store.newID(),
		deviceID: device.id,
		groupID:  device.groupID,
		typ:      typ,
		props:    props,
		content:  content,
		state:    initialState(typ),
		jobKey:   uuid.NewString(),
		fileKey:  filename,
		uploaded: time.Now(),
	}
	if _, set := props["duration"]; !set {
		props["duration"] = 10
	}
	if _, set := props["recordingDateTime"]; !set {
		props["recordingDateTime"] = rec.uploaded.UTC().Format(time.RFC3339)
	}
	s.store.recordings[rec.id] = rec
	sendJSON(w, http.StatusOK, map[string]any{"recordingId": rec.id})
}

// readMultipart pulls the JSON "data" part and the binary "file" part out of
// an upload request.
func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) (map[string]any, []byte, string, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "multipart body required")
		return nil, nil, "", false
	}

	props := map[string]any{}
	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &props); err != nil {
			sendError(w, http.StatusUnprocessableEntity, "data part is not valid JSON")
			return nil, nil, "", false
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, "file part required")
		return nil, nil, "", false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, "unreadable file part")
		return nil, nil, "", false
	}
	return props, content, header.Filename, true
}

// queryCriteria is the parsed form of the recordings search parameters.
type queryCriteria struct {
	where       map[string]any
	tagMode     string
	tags        []string
	limit       int
	offset      int
	latLongPrec int
}

func parseCriteria(r *http.Request) (queryCriteria, error) {
	c := queryCriteria{where: map[string]any{}, tagMode: "any", limit: 100, latLongPrec: defaultLatLongPrec}
	q := r.URL.Query()

	if raw := q.Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.where); err != nil {
			return c, fmt.Errorf("where is not valid JSON")
		}
	}
	if mode := q.Get("tagMode"); mode != "" {
		c.tagMode = mode
	}
	if raw := q.Get("tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.tags); err != nil {
			return c, fmt.Errorf("tags is not valid JSON")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		c.limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		c.offset, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("filterOptions"); raw != "" {
		var opts struct {
			LatLongPrec int `json:"latLongPrec"`
		}
		if err := json.Unmarshal([]byte(raw), &opts); err == nil && opts.LatLongPrec > 0 {
			c.latLongPrec = opts.LatLongPrec
		}
	}
	return c, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	criteria, err := parseCriteria(r)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	matched := s.matchRecordings(user, criteria)
	count := len(matched)
	if criteria.offset < len(matched) {
		matched = matched[criteria.offset:]
	} else {
		matched = nil
	}
	if criteria.limit > 0 && len(matched) > criteria.limit {
		matched = matched[:criteria.limit]
	}

	rows := make([]map[string]any, 0, len(matched))
	for _, rec := range matched {
		rows = append(rows, s.recordingRow(rec, user, criteria.latLongPrec))
	}
	sendJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": count})
}

// matchRecordings applies the where clause and tag-mode filter over the
// recordings visible to user. Callers must hold the store lock.
func (s *Server) matchRecordings(user *account, c queryCriteria) []*recording {
	var out []*recording
	for _, rec := range s.store.visibleRecordings(user) {
		if matchWhere(rec, c.where) && matchTagMode(rec, c.tagMode, c.tags) {
			out = append(out, rec)
		}
	}
	return out
}

func matchWhere(rec *recording, where map[string]any) bool {
	for field, condition := range where {
		switch field {
		case "duration":
			if !matchNumberRange(asFloat(rec.props["duration"]), condition) {
				return false
			}
		case "recordingDateTime":
			if !matchTimeRange(rec.props["recordingDateTime"], condition) {
				return false
			}
		case "type":
			if rec.typ != condition {
				return false
			}
		case "DeviceId":
			if !matchIn(rec.deviceID, condition) {
				return false
			}
		case "GroupId":
			if !matchIn(rec.groupID, condition) {
				return false
			}
		}
	}
	return true
}

func matchNumberRange(value float64, condition any) bool {
	bounds, ok := condition.(map[string]any)
	if !ok {
		return value == asFloat(condition)
	}
	if gte, set := bounds["$gte"]; set && value < asFloat(gte) {
		return false
	}
	if lte, set := bounds["$lte"]; set && value > asFloat(lte) {
		return false
	}
	return true
}

func matchTimeRange(value any, condition any) bool {
	at, err := time.Parse(time.RFC3339, fmt.Sprint(value))
	if err != nil {
		return false
	}
	bounds, ok := condition.(map[string]any)
	if !ok {
		return false
	}
	if gte, set := bounds["$gte"]; set {
		bound, err := time.Parse(time.RFC3339, fmt.Sprint(gte))
		if err != nil || at.Before(bound) {
			return false
		}
	}
	if lte, set := bounds["$lte"]; set {
		bound, err := time.Parse(time.RFC3339, fmt.Sprint(lte))
		if err != nil || at.After(bound) {
			return false
		}
	}
	return true
}

func matchIn(value int, condition any) bool {
	clause, ok := condition.(map[string]any)
	if !ok {
		return false
	}
	list, ok := clause["$in"].([]any)
	if !ok {
		return false
	}
	for _, candidate := range list {
		if int(asFloat(candidate)) == value {
			return true
		}
	}
	return false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// matchTagMode evaluates the tag-mode filter. Track tags and recording tags
// both count as tagging.
func matchTagMode(rec *recording, mode string, wanted []string) bool {
	var human, automatic bool
	var all []*tag
	all = append(all, rec.tags...)
	for _, tr := range rec.tracks {
		all = append(all, tr.tags...)
	}
	for _, t := range all {
		if t.automatic {
			automatic = true
		} else {
			human = true
		}
	}

	switch mode {
	case "", "any":
	case "untagged":
		if human || automatic {
			return false
		}
	case "tagged":
		if !human && !automatic {
			return false
		}
	case "human-only":
		if !human || automatic {
			return false
		}
	case "automatic-only":
		if !automatic || human {
			return false
		}
	case "automatic+human":
		if !automatic || !human {
			return false
		}
	case "no-human":
		if human {
			return false
		}
	default:
		return false
	}

	if len(wanted) == 0 {
		return true
	}
	for _, t := range all {
		for _, want := range wanted {
			if t.what == want {
				return true
			}
		}
	}
	return false
}

// recordingRow serializes a recording the way the query and get endpoints
// present it, with location reduced to the caller's permitted precision.
func (s *Server) recordingRow(rec *recording, viewer *account, latLongPrec int) map[string]any {
	row := map[string]any{
		"id":              rec.id,
		"type":            rec.typ,
		"DeviceId":        rec.deviceID,
		"GroupId":         rec.groupID,
		"processingState": rec.state,
		"rawMimeType":     guessRawMimeType(rec.typ, rec.fileKey),
	}
	for key, value := range rec.props {
		row[key] = value
	}

	if location, ok := rec.props["location"].(map[string]any); ok {
		prec := latLongPrec
		// Sub-100 m precision is reserved for global admins.
		if !viewer.super && prec < defaultLatLongPrec {
			prec = defaultLatLongPrec
		}
		row["location"] = reduceLocation(location, prec)
	}

	tags := []map[string]any{}
	for _, t := range rec.tags {
		tags = append(tags, tagRow(t))
	}
	row["Tags"] = tags
	return row
}

func tagRow(t *tag) map[string]any {
	return map[string]any{
		"id":         t.id,
		"what":       t.what,
		"confidence": t.confidence,
		"automatic":  t.automatic,
		"data":       t.data,
	}
}

// reduceLocation truncates point coordinates to a grid whose cell size is
// prec meters of arc, then recentres the value inside its cell.
func reduceLocation(location map[string]any, prec int) map[string]any {
	coords, ok := location["coordinates"].([]any)
	if !ok || len(coords) != 2 {
		return location
	}
	reduced := map[string]any{
		"type": "Point",
		"coordinates": []float64{
			reduceCoordinate(asFloat(coords[0]), prec),
			reduceCoordinate(asFloat(coords[1]), prec),
		},
	}
	return reduced
}

func reduceCoordinate(value float64, prec int) float64 {
	resolution := float64(prec) * 360.0 / 40000000.0
	value = value - math.Mod(value, resolution)
	if value > 0 {
		value += resolution / 2
	} else {
		value -= resolution / 2
	}
	return value
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	criteria, err := parseCriteria(r)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"recording": s.recordingRow(rec, user, criteria.latLongPrec)})
}

// lookupRecording resolves an id to a recording the user may touch, writing
// the failure response otherwise. Callers must hold the store lock.
func (s *Server) lookupRecording(w http.ResponseWriter, user *account, id int) *recording {
	rec, ok := s.store.recordings[id]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such recording")
		return nil
	}
	if !s.canSee(user, rec) {
		sendError(w, http.StatusForbidden, "recording belongs to another group")
		return nil
	}
	return rec
}

func (s *Server) canSee(user *account, rec *recording) bool {
	return s.store.canSee(user, rec)
}

func (s *Server) handleUpdateRecording(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Updates map[string]any `json:"updates"`
	}
	if err := decodeBody(r, &req); err != nil || req.Updates == nil {
		sendError(w, http.StatusUnprocessableEntity, "updates required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	mergeUpdates(rec.props, req.Updates)
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"updated"}})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	delete(s.store.recordings, rec.id)
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"deleted"}})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	reprocess(rec)
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"rescheduled for processing"}})
}

// reprocess resets a recording to its initial processing state. Existing
// tracks are discarded and recording tags are archived into
// additionalMetadata.oldTags so nothing asserted on is silently lost.
func reprocess(rec *recording) {
	if len(rec.tags) > 0 {
		oldTags := []map[string]any{}
		for _, t := range rec.tags {
			oldTags = append(oldTags, tagRow(t))
		}
		mergeUpdates(rec.props, map[string]any{
			"additionalMetadata": map[string]any{"oldTags": oldTags},
		})
	}
	rec.tags = nil
	rec.tracks = nil
	rec.state = initialState(rec.typ)
	rec.jobKey = uuid.NewString()
}

func (s *Server) handleReprocessBulk(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Recordings []int `json:"recordings"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.Recordings) == 0 {
		sendError(w, http.StatusUnprocessableEntity, "recordings required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	reprocessed := []int{}
	failed := []int{}
	for _, id := range req.Recordings {
		rec, ok := s.store.recordings[id]
		if !ok || !s.canSee(user, rec) {
			failed = append(failed, id)
			continue
		}
		reprocess(rec)
		reprocessed = append(reprocessed, id)
	}

	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusBadRequest
	}
	sendJSON(w, status, map[string]any{
		"reprocessed": reprocessed,
		"fail":        failed,
		"messages":    []string{fmt.Sprintf("reprocessed %d of %d", len(reprocessed), len(req.Recordings))},
	})
}

var reportHeader = []string{"Id", "Type", "Duration", "Date", "DeviceId", "GroupId", "State"}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	criteria, err := parseCriteria(r)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	w.Header().Set("Content-Type", "text/csv")
	out := csv.NewWriter(w)
	out.Write(reportHeader)
	for _, rec := range s.matchRecordings(user, criteria) {
		out.Write([]string{
			strconv.Itoa(rec.id),
			rec.typ,
			fmt.Sprint(rec.props["duration"]),
			fmt.Sprint(rec.props["recordingDateTime"]),
			strconv.Itoa(rec.deviceID),
			strconv.Itoa(rec.groupID),
			rec.state,
		})
	}
	out.Flush()
}
