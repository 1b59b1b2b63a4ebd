package fakeserver

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
)

// handleClaimJob hands one eligible recording to a processing worker. The
// store lock makes the claim atomic: two concurrent claimants can never
// receive the same recording. No eligible work is a 204, not an error.
func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	recordingType := r.URL.Query().Get("type")
	state := r.URL.Query().Get("state")
	if recordingType == "" || state == "" {
		sendError(w, http.StatusUnprocessableEntity, "type and state required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	var eligible []*recording
	for _, rec := range s.store.recordings {
		if !rec.claimed && rec.typ == recordingType && rec.state == state {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Oldest upload first, like the production queue.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].id < eligible[j].id })

	rec := eligible[0]
	rec.claimed = true
	row := map[string]any{
		"id":              rec.id,
		"type":            rec.typ,
		"jobKey":          rec.jobKey,
		"processingState": rec.state,
		"rawFileKey":      rec.fileKey,
	}
	for key, value := range rec.props {
		row[key] = value
	}
	sendJSON(w, http.StatusOK, map[string]any{"recording": row})
}

func (s *Server) handleJobDone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         int    `json:"id"`
		JobKey     string `json:"jobKey"`
		Success    bool   `json:"success"`
		Complete   bool   `json:"complete"`
		Result     string `json:"result"`
		NewFileKey string `json:"newProcessedFileKey"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec, ok := s.store.recordings[req.ID]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such recording")
		return
	}
	if rec.jobKey != req.JobKey {
		sendError(w, http.StatusBadRequest, "jobKey does not match claimed job")
		return
	}

	if req.Result != "" {
		var result struct {
			FieldUpdates map[string]any `json:"fieldUpdates"`
		}
		if err := json.Unmarshal([]byte(req.Result), &result); err != nil {
			sendError(w, http.StatusUnprocessableEntity, "result is not valid JSON")
			return
		}
		if result.FieldUpdates != nil {
			mergeUpdates(rec.props, result.FieldUpdates)
		}
	}
	if req.NewFileKey != "" {
		rec.fileKey = req.NewFileKey
	}
	if req.Success && req.Complete {
		rec.state = rec.nextState()
	}
	// Completion or failure both release the claim under a fresh key, so a
	// stale worker cannot report twice.
	rec.claimed = false
	rec.jobKey = uuid.NewString()
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"job updated"}})
}

// handleAlgorithm finds or creates the id for an algorithm description.
// Semantically identical descriptions share one id.
func (s *Server) handleAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Algorithm string `json:"algorithm"`
	}
	if err := decodeBody(r, &req); err != nil || req.Algorithm == "" {
		sendError(w, http.StatusUnprocessableEntity, "algorithm required")
		return
	}
	key, err := canonicalJSON(req.Algorithm)
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, "algorithm is not valid JSON")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	id, ok := s.store.algorithms[key]
	if !ok {
		id = s.store.newID()
		s.store.algorithms[key] = id
	}
	sendJSON(w, http.StatusOK, map[string]any{"algorithmId": id})
}

func (s *Server) handleProcessingAddTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data        map[string]any `json:"data"`
		AlgorithmID int            `json:"algorithmId"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec, ok := s.store.recordings[pathInt(r, "id")]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such recording")
		return
	}
	tr := &track{
		id:          s.store.newID(),
		recordingID: rec.id,
		algorithmID: req.AlgorithmID,
		data:        req.Data,
	}
	rec.tracks = append(rec.tracks, tr)
	sendJSON(w, http.StatusOK, map[string]any{"trackId": tr.id})
}

func (s *Server) handleProcessingClearTracks(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec, ok := s.store.recordings[pathInt(r, "id")]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such recording")
		return
	}
	rec.tracks = nil
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"tracks cleared"}})
}

// handleProcessingAddTrackTag attaches a classifier tag. Processing tags are
// always automatic.
func (s *Server) handleProcessingAddTrackTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeBody(r, &req); err != nil || req.What == "" {
		sendError(w, http.StatusUnprocessableEntity, "what required")
		return
	}
	req.Automatic = true

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec, ok := s.store.recordings[pathInt(r, "id")]
	if !ok {
		sendError(w, http.StatusBadRequest, "no such recording")
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
