package fakeserver

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// minStationSeparation is the distance in meters under which two active
// stations draw a proximity warning.
const minStationSeparation = 60.0

func (s *Server) handleRecordEvents(w http.ResponseWriter, r *http.Request) {
	var deviceID int
	var onBehalf *account
	if idText := mux.Vars(r)["id"]; idText != "" {
		// Users may record events on behalf of a device they can see.
		if onBehalf = s.authUser(w, r); onBehalf == nil {
			return
		}
		deviceID, _ = strconv.Atoi(idText)
	} else {
		device := s.authDevice(w, r)
		if device == nil {
			return
		}
		deviceID = device.id
	}

	var req struct {
		Description *struct {
			Type    string `json:"type"`
			Details any    `json:"details"`
		} `json:"description"`
		EventDetailID int      `json:"eventDetailId"`
		DateTimes     []string `json:"dateTimes"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.DateTimes) == 0 {
		sendError(w, http.StatusUnprocessableEntity, "dateTimes required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if onBehalf != nil && !onBehalf.super && !s.deviceVisible(onBehalf, deviceID) {
		sendError(w, http.StatusForbidden, "device belongs to another group")
		return
	}

	detailID := req.EventDetailID
	if req.Description != nil {
		var err error
		detailID, err = s.store.detailID(req.Description.Type, req.Description.Details)
		if err != nil {
			sendError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	if _, known := s.store.detailBodies[detailID]; !known {
		sendError(w, http.StatusUnprocessableEntity, "no such event detail")
		return
	}

	added := 0
	for _, raw := range req.DateTimes {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			sendError(w, http.StatusUnprocessableEntity, "unparseable dateTime "+raw)
			return
		}
		s.store.events = append(s.store.events, event{
			id:            s.store.newID(),
			deviceID:      deviceID,
			eventDetailID: detailID,
			dateTime:      at,
		})
		added++
	}
	sendJSON(w, http.StatusOK, map[string]any{"eventsAdded": added, "eventDetailId": detailID})
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	q := r.URL.Query()

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	deviceID, _ := strconv.Atoi(q.Get("deviceId"))
	var startTime, endTime time.Time
	if raw := q.Get("startTime"); raw != "" {
		startTime, _ = time.Parse(time.RFC3339, raw)
	}
	if raw := q.Get("endTime"); raw != "" {
		endTime, _ = time.Parse(time.RFC3339, raw)
	}
	eventType := q.Get("type")

	matched := []event{}
	for _, ev := range s.store.events {
		if deviceID != 0 && ev.deviceID != deviceID {
			continue
		}
		if !startTime.IsZero() && ev.dateTime.Before(startTime) {
			continue
		}
		if !endTime.IsZero() && ev.dateTime.After(endTime) {
			continue
		}
		detail := s.store.detailBodies[ev.eventDetailID]
		if eventType != "" && detail["type"] != eventType {
			continue
		}
		if !user.super && !s.deviceVisible(user, ev.deviceID) {
			continue
		}
		matched = append(matched, ev)
	}

	if q.Get("latest") == "true" {
		sort.Slice(matched, func(i, j int) bool { return matched[i].dateTime.After(matched[j].dateTime) })
	} else {
		sort.Slice(matched, func(i, j int) bool { return matched[i].dateTime.Before(matched[j].dateTime) })
	}

	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit, _ := strconv.Atoi(q.Get("limit")); limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	rows := make([]map[string]any, 0, len(matched))
	for _, ev := range matched {
		rows = append(rows, map[string]any{
			"id":            ev.id,
			"DeviceId":      ev.deviceID,
			"EventDetailId": ev.eventDetailID,
			"dateTime":      ev.dateTime.UTC().Format(time.RFC3339),
			"EventDetail":   s.store.detailBodies[ev.eventDetailID],
		})
	}
	sendJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// deviceVisible reports whether user shares a group with the device. Callers
// must hold the store lock.
func (s *Server) deviceVisible(user *account, deviceID int) bool {
	for _, device := range s.store.devices {
		if device.id == deviceID {
			return s.memberOfGroupID(user, device.groupID)
		}
	}
	return false
}

func (s *Server) handleAddStations(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Stations string `json:"stations"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	var incoming []struct {
		Name string  `json:"name"`
		Lat  float64 `json:"lat"`
		Lng  float64 `json:"lng"`
	}
	if err := json.Unmarshal([]byte(req.Stations), &incoming); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "stations is not valid JSON")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	g, ok := s.store.groups[mux.Vars(r)["group"]]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}
	if !user.super && !g.hasMember(user.id) {
		sendError(w, http.StatusForbidden, "not a member of group")
		return
	}

	// The incoming list is authoritative: names it omits are retired, names
	// it repeats update in place.
	now := time.Now()
	existing := map[string]*station{}
	for _, st := range s.store.stations[g.id] {
		if st.retiredAt == nil {
			existing[st.name] = st
		}
	}

	ids := []int{}
	seen := map[string]bool{}
	for _, in := range incoming {
		seen[in.Name] = true
		if st, found := existing[in.Name]; found {
			st.lat, st.lng = in.Lat, in.Lng
			ids = append(ids, st.id)
			continue
		}
		st := &station{id: s.store.newID(), name: in.Name, lat: in.Lat, lng: in.Lng}
		s.store.stations[g.id] = append(s.store.stations[g.id], st)
		ids = append(ids, st.id)
	}
	for name, st := range existing {
		if !seen[name] {
			retired := now
			st.retiredAt = &retired
		}
	}

	warnings := []string{}
	for i := range incoming {
		for j := i + 1; j < len(incoming); j++ {
			d := metersBetween(incoming[i].Lat, incoming[i].Lng, incoming[j].Lat, incoming[j].Lng)
			if d < minStationSeparation {
				warnings = append(warnings, fmt.Sprintf(
					"stations %s and %s are %.0fm apart", incoming[i].Name, incoming[j].Name, d))
			}
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"stationIdsAddedOrUpdated": ids,
		"warnings":                 warnings,
	})
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	g, ok := s.store.groups[mux.Vars(r)["group"]]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}
	if !user.super && !g.hasMember(user.id) {
		sendError(w, http.StatusForbidden, "not a member of group")
		return
	}

	stations := []map[string]any{}
	for _, st := range s.store.stations[g.id] {
		row := map[string]any{"id": st.id, "name": st.name, "lat": st.lat, "lng": st.lng}
		if st.retiredAt != nil {
			row["retiredAt"] = st.retiredAt.UTC().Format(time.RFC3339)
		}
		stations = append(stations, row)
	}
	sendJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

// metersBetween approximates ground distance with an equirectangular
// projection, plenty for proximity warnings at station scale.
func metersBetween(lat1, lng1, lat2, lng2 float64) float64 {
	const metersPerDegree = 40000000.0 / 360.0
	dLat := (lat2 - lat1) * metersPerDegree
	dLng := (lng2 - lng1) * metersPerDegree * math.Cos((lat1+lat2)/2*math.Pi/180)
	return math.Hypot(dLat, dLng)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Name             string           `json:"name"`
		Conditions       []alertCondition `json:"conditions"`
		FrequencySeconds *int             `json:"frequencySeconds"`
		DeviceID         int              `json:"DeviceId"`
	}
	if err := decodeBody(r, &req); err != nil || req.Name == "" || len(req.Conditions) == 0 {
		sendError(w, http.StatusUnprocessableEntity, "name and conditions required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if !user.super && !s.deviceVisible(user, req.DeviceID) {
		sendError(w, http.StatusForbidden, "device belongs to another group")
		return
	}

	frequency := 30 * 60 // default firing window
	if req.FrequencySeconds != nil {
		frequency = *req.FrequencySeconds
	}
	alert := &alertRecord{
		id:         s.store.newID(),
		name:       req.Name,
		userID:     user.id,
		deviceID:   req.DeviceID,
		conditions: req.Conditions,
		frequency:  frequency,
	}
	s.store.alerts[alert.id] = alert
	sendJSON(w, http.StatusOK, map[string]any{"id": alert.id})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	alert, ok := s.store.alerts[pathInt(r, "id")]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such alert")
		return
	}
	if !user.super && alert.userID != user.id {
		sendError(w, http.StatusForbidden, "alert belongs to another user")
		return
	}

	logs := make([]map[string]any, 0, len(alert.logs))
	for i := len(alert.logs) - 1; i >= 0; i-- {
		entry := alert.logs[i]
		logs = append(logs, map[string]any{
			"recId":     entry.recID,
			"trackId":   entry.trackID,
			"updatedAt": entry.updatedAt.UTC().Format(time.RFC3339),
		})
	}
	sendJSON(w, http.StatusOK, map[string]any{"alert": map[string]any{
		"id":               alert.id,
		"name":             alert.name,
		"conditions":       alert.conditions,
		"frequencySeconds": alert.frequency,
		"DeviceId":         alert.deviceID,
		"AlertLogs":        logs,
	}})
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Devices  string `json:"devices"`
		Schedule string `json:"schedule"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	var deviceIDs []int
	if err := json.Unmarshal([]byte(req.Devices), &deviceIDs); err != nil || len(deviceIDs) == 0 {
		sendError(w, http.StatusUnprocessableEntity, "devices is not a valid id list")
		return
	}
	var schedule map[string]any
	if err := json.Unmarshal([]byte(req.Schedule), &schedule); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "schedule is not valid JSON")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	// All-or-nothing: the caller must administer every listed device.
	for _, id := range deviceIDs {
		if !user.super && !s.deviceVisible(user, id) {
			sendError(w, http.StatusForbidden, fmt.Sprintf("no access to device %d", id))
			return
		}
	}
	for _, id := range deviceIDs {
		s.store.schedules[id] = schedule
	}
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"schedule installed"}})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	device, ok := s.store.devices[mux.Vars(r)["device"]]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such device")
		return
	}
	if !user.super && !s.memberOfGroupID(user, device.groupID) {
		sendError(w, http.StatusForbidden, "device belongs to another group")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"schedule": s.store.schedules[device.id]})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if s.authUser(w, r) == nil {
		return
	}
	props, content, filename, ok := s.readMultipart(w, r)
	if !ok {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	f := &storedFile{id: s.store.newID(), details: props, content: content, name: filename}
	s.store.files[f.id] = f
	sendJSON(w, http.StatusOK, map[string]any{"id": f.id})
}

// handleGetFile resolves a file id to a signed download token. Devices may
// look up files too; that is how audio bait reaches them.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if s.authAny(w, r) == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	f, ok := s.store.files[pathInt(r, "id")]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such file")
		return
	}

	token, err := s.signDownload(f.id)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to sign download token")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"jwt":  token,
		"file": map[string]any{"id": f.id, "details": f.details},
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.authUser(w, r) == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	id := pathInt(r, "id")
	if _, ok := s.store.files[id]; !ok {
		sendError(w, http.StatusBadRequest, "no such file")
		return
	}
	delete(s.store.files, id)
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"file deleted"}})
}

// signDownload mints a short-lived token granting one file's content. The
// token is independent of any session.
func (s *Server) signDownload(fileID int) (string, error) {
	claims := jwt.MapClaims{
		"_type":  "fileDownload",
		"fileId": fileID,
		"exp":    time.Now().Add(signedURLTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("jwt")
	parsed, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		sendError(w, http.StatusForbidden, "invalid download token")
		return
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || claims["_type"] != "fileDownload" {
		sendError(w, http.StatusForbidden, "invalid download token")
		return
	}
	fileID := int(asFloat(claims["fileId"]))

	s.store.mu.Lock()
	f, ok := s.store.files[fileID]
	s.store.mu.Unlock()
	if !ok {
		sendError(w, http.StatusBadRequest, "no such file")
		return
	}

	typ, _ := f.details["type"].(string)
	w.Header().Set("Content-Type", guessRawMimeType(typ, f.name))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.content)))
	w.WriteHeader(http.StatusOK)
	w.Write(f.content)
}

// canonicalJSON re-encodes a JSON document so key order and whitespace
// differences collapse.
func canonicalJSON(raw string) (string, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", err
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
