package fakeserver

import (
	"net/http"
	"time"
)

type tagRequest struct {
	What       string         `json:"what"`
	Confidence float64        `json:"confidence"`
	Automatic  bool           `json:"automatic"`
	Data       map[string]any `json:"data"`
	Replace    bool           `json:"replace"`
}

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
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

	tracks := []map[string]any{}
	for _, tr := range rec.tracks {
		tags := []map[string]any{}
		for _, t := range tr.tags {
			tags = append(tags, tagRow(t))
		}
		tracks = append(tracks, map[string]any{
			"id":          tr.id,
			"data":        tr.data,
			"AlgorithmId": tr.algorithmID,
			"TrackTags":   tags,
		})
	}
	sendJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	tr := &track{id: s.store.newID(), recordingID: rec.id, data: req.Data}
	rec.tracks = append(rec.tracks, tr)
	sendJSON(w, http.StatusOK, map[string]any{"trackId": tr.id})
}

func (s *Server) handleAddTrackTag(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req tagRequest
	if err := decodeBody(r, &req); err != nil || req.What == "" {
		sendError(w, http.StatusUnprocessableEntity, "what required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	tr := findTrack(rec, pathInt(r, "trackId"))
	if tr == nil {
		sendError(w, http.StatusBadRequest, "no such track")
		return
	}
	t := s.addTrackTag(rec, tr, req)
	sendJSON(w, http.StatusOK, map[string]any{"trackTagId": t.id})
}

// addTrackTag attaches a tag to a track, honoring replace semantics and
// firing any matching alerts. Callers must hold the store lock.
func (s *Server) addTrackTag(rec *recording, tr *track, req tagRequest) *tag {
	if req.Replace {
		// Replace supersedes tags of the same origin only; the other
		// origin's opinion stays on the track.
		kept := tr.tags[:0]
		for _, prior := range tr.tags {
			if prior.automatic != req.Automatic {
				kept = append(kept, prior)
			}
		}
		tr.tags = kept
	}
	t := &tag{
		id:         s.store.newID(),
		what:       req.What,
		confidence: req.Confidence,
		automatic:  req.Automatic,
		data:       req.Data,
	}
	tr.tags = append(tr.tags, t)
	s.fireAlerts(rec, tr, t)
	return t
}

// fireAlerts logs a firing for every alert whose condition matches the new
// tag, rate-limited per alert by its frequency window.
func (s *Server) fireAlerts(rec *recording, tr *track, t *tag) {
	now := time.Now()
	for _, alert := range s.store.alerts {
		if alert.deviceID != rec.deviceID {
			continue
		}
		for _, condition := range alert.conditions {
			if condition.Tag != t.what || condition.Automatic != t.automatic {
				continue
			}
			if !alert.lastFired.IsZero() && now.Sub(alert.lastFired) < time.Duration(alert.frequency)*time.Second {
				continue
			}
			alert.lastFired = now
			alert.logs = append(alert.logs, alertLog{recID: rec.id, trackID: tr.id, updatedAt: now})
			break
		}
	}
}

func (s *Server) handleDeleteTrackTag(w http.ResponseWriter, r *http.Request) {
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
	tr := findTrack(rec, pathInt(r, "trackId"))
	if tr == nil {
		sendError(w, http.StatusBadRequest, "no such track")
		return
	}
	tagID := pathInt(r, "tagId")
	for i, t := range tr.tags {
		if t.id == tagID {
			tr.tags = append(tr.tags[:i], tr.tags[i+1:]...)
			sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"tag deleted"}})
			return
		}
	}
	sendError(w, http.StatusBadRequest, "no such tag")
}

func (s *Server) handleTagRecording(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req tagRequest
	if err := decodeBody(r, &req); err != nil || req.What == "" {
		sendError(w, http.StatusUnprocessableEntity, "what required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := s.lookupRecording(w, user, pathInt(r, "id"))
	if rec == nil {
		return
	}
	t := &tag{
		id:         s.store.newID(),
		what:       req.What,
		confidence: req.Confidence,
		automatic:  req.Automatic,
		data:       req.Data,
	}
	rec.tags = append(rec.tags, t)
	sendJSON(w, http.StatusOK, map[string]any{"tagId": t.id})
}

func (s *Server) handleDeleteRecordingTag(w http.ResponseWriter, r *http.Request) {
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
	tagID := pathInt(r, "tagId")
	for i, t := range rec.tags {
		if t.id == tagID {
			rec.tags = append(rec.tags[:i], rec.tags[i+1:]...)
			sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"tag deleted"}})
			return
		}
	}
	sendError(w, http.StatusBadRequest, "no such tag")
}

func findTrack(rec *recording, trackID int) *track {
	for _, tr := range rec.tracks {
		if tr.id == trackID {
			return tr
		}
	}
	return nil
}
