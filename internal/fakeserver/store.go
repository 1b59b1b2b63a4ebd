package fakeserver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// account is a user or device credential record.
type account struct {
	id           int
	name         string
	email        string
	passwordHash []byte
	groupID      int  // devices only
	super        bool // global read/write, first registered user
}

// group owns devices and recordings; members see its recordings. The map
// value marks group admins, who manage membership.
type group struct {
	id      int
	name    string
	members map[int]bool // user id -> group admin
}

func (g *group) hasMember(userID int) bool {
	_, ok := g.members[userID]
	return ok
}

func (g *group) isAdmin(userID int) bool {
	return g.members[userID]
}

// tag is a recording-level or track tag.
type tag struct {
	id         int
	what       string
	confidence float64
	automatic  bool
	data       map[string]any
}

// track belongs to one recording.
type track struct {
	id          int
	recordingID int
	algorithmID int
	data        map[string]any
	tags        []*tag
}

// recording is one uploaded artifact plus its processing bookkeeping.
type recording struct {
	id       int
	deviceID int
	groupID  int
	typ      string
	props    map[string]any
	content  []byte
	state    string
	jobKey   string
	fileKey  string
	claimed  bool
	tracks   []*track
	tags     []*tag
	uploaded time.Time
}

type event struct {
	id            int
	deviceID      int
	eventDetailID int
	dateTime      time.Time
}

type storedFile struct {
	id      int
	details map[string]any
	content []byte
	name    string
}

type station struct {
	id        int
	name      string
	lat, lng  float64
	retiredAt *time.Time
}

type alertRecord struct {
	id         int
	name       string
	userID     int
	deviceID   int
	conditions []alertCondition
	frequency  int
	lastFired  time.Time
	logs       []alertLog
}

type alertCondition struct {
	Tag       string `json:"tag"`
	Automatic bool   `json:"automatic"`
}

type alertLog struct {
	recID     int
	trackID   int
	updatedAt time.Time
}

// processingStates maps a recording type to its state sequence.
var processingStates = map[string][]string{
	"thermalRaw": {"getMetadata", "toMp4", "FINISHED"},
	"audio":      {"analyse", "toMp3", "FINISHED"},
}

// store is the whole service state behind one mutex. The real service leans
// on its database for atomicity; here the lock gives the same observable
// guarantees, most importantly exclusive job claims.
type store struct {
	mu sync.Mutex

	users   map[string]*account // by name
	devices map[string]*account // by name
	emails  map[string]*account // users by email
	groups  map[string]*group   // by name

	recordings   map[int]*recording
	events       []event
	eventDetails map[string]int         // canonical (type, details) -> id
	detailBodies map[int]map[string]any // detail id -> {type, details}
	files        map[int]*storedFile
	schedules    map[int]map[string]any // device id -> schedule
	alerts       map[int]*alertRecord
	stations     map[int][]*station // group id -> stations
	algorithms   map[string]int     // canonical algorithm JSON -> id

	nextID int
}

func newStore() *store {
	return &store{
		users:        map[string]*account{},
		devices:      map[string]*account{},
		emails:       map[string]*account{},
		groups:       map[string]*group{},
		recordings:   map[int]*recording{},
		eventDetails: map[string]int{},
		detailBodies: map[int]map[string]any{},
		files:        map[int]*storedFile{},
		schedules:    map[int]map[string]any{},
		alerts:       map[int]*alertRecord{},
		stations:     map[int][]*station{},
		algorithms:   map[string]int{},
	}
}

// newID hands out server-assigned identifiers. Callers must hold mu.
func (s *store) newID() int {
	s.nextID++
	return s.nextID
}

// detailID returns the shared id for a (type, details) payload, creating a
// record on first sight. Canonical form is the JSON encoding, which sorts
// map keys, so byte-different but semantically identical payloads collapse.
func (s *store) detailID(eventType string, details any) (int, error) {
	encoded, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("unencodable details: %w", err)
	}
	key := eventType + "\x00" + string(encoded)
	if id, ok := s.eventDetails[key]; ok {
		return id, nil
	}
	id := s.newID()
	s.eventDetails[key] = id
	var decoded any
	json.Unmarshal(encoded, &decoded)
	s.detailBodies[id] = map[string]any{"type": eventType, "details": decoded}
	return id, nil
}

// nextState advances a recording's processing state by one step.
func (r *recording) nextState() string {
	states, ok := processingStates[r.typ]
	if !ok {
		states = processingStates["thermalRaw"]
	}
	for i, st := range states {
		if st == r.state && i+1 < len(states) {
			return states[i+1]
		}
	}
	return states[len(states)-1]
}

// initialState is the first processing state for a recording type.
func initialState(typ string) string {
	if states, ok := processingStates[typ]; ok {
		return states[0]
	}
	return processingStates["thermalRaw"][0]
}

// canSee reports whether a user may read a recording: superusers see all,
// others only recordings in groups they belong to.
func (s *store) canSee(user *account, rec *recording) bool {
	if user.super {
		return true
	}
	for _, g := range s.groups {
		if g.id == rec.groupID {
			return g.hasMember(user.id)
		}
	}
	return false
}

// visibleRecordings lists what a user may read, most recent upload first.
func (s *store) visibleRecordings(user *account) []*recording {
	var out []*recording
	for _, rec := range s.recordings {
		if s.canSee(user, rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uploaded.After(out[j].uploaded) })
	return out
}

// mergeUpdates applies field updates to a recording's props. Nested maps
// merge key-wise instead of replacing, matching the service's
// additionalMetadata semantics.
func mergeUpdates(props map[string]any, updates map[string]any) {
	for key, value := range updates {
		newMap, newOK := value.(map[string]any)
		oldMap, oldOK := props[key].(map[string]any)
		if newOK && oldOK {
			for k, v := range newMap {
				oldMap[k] = v
			}
			continue
		}
		props[key] = value
	}
}

// guessRawMimeType mirrors the upload-side mime sniffing. The derived type
// is reported on recording rows and as the download Content-Type.
func guessRawMimeType(typ, filename string) string {
	switch {
	case strings.HasSuffix(filename, ".cptv"), typ == "thermalRaw":
		return "application/x-cptv"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
