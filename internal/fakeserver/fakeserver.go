// package fakeserver is an in-memory double of the recordings service and
// its file-processing companion, faithful to the slices of behavior the
// harness asserts on: authentication, upload, filtered queries, tag modes,
// event-detail de-duplication, exclusive processing claims, station
// retirement, alerts, schedules and signed downloads.
//
// It exists so the client layer and the verification DSL can be exercised
// hermetically; it is a test collaborator, not a reimplementation of the
// production service.
package fakeserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// signedURLTTL bounds the life of signed download tokens.
const signedURLTTL = 10 * time.Minute

// Server implements http.Handler for both base URLs (the API and the
// file-processing service share one handler here; the paths are disjoint).
type Server struct {
	store     *store
	router    *mux.Router
	secret    []byte
	sessionMu sync.RWMutex
	sessions  map[string]*account // session token -> principal
	logWriter io.Writer
}

// New creates a fake service with empty state. The first user registered
// becomes the superuser with global read/write, mirroring how deployments
// are bootstrapped.
func New(logWriter io.Writer) *Server {
	if logWriter == nil {
		logWriter = io.Discard
	}
	s := &Server{
		store:     newStore(),
		secret:    []byte("fieldtest-fake-secret"),
		sessions:  map[string]*account{},
		logWriter: logWriter,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handlers.LoggingHandler(s.logWriter, s.router).ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/authenticate_user", s.handleAuthenticate("user")).Methods(http.MethodPost)
	r.HandleFunc("/authenticate_device", s.handleAuthenticate("device")).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/users", s.handleRegisterUser).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/devices/reregister", s.handleReregisterDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/users/{name}", s.handleUserDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices", s.handleListDevices).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/groups", s.handleCreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/groups", s.handleListGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/groups/users", s.handleAddGroupUser).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/groups/users", s.handleRemoveGroupUser).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/groups/{group}/users", s.handleListGroupUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/groups/{group}/stations", s.handleAddStations).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/groups/{group}/stations", s.handleListStations).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/recordings", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings/{device}", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings/{device}/group/{group}", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings", s.handleQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/recordings/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}", s.handleGetRecording).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}", s.handleUpdateRecording).Methods(http.MethodPatch)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}", s.handleDeleteRecording).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/reprocess/{id:[0-9]+}", s.handleReprocess).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/reprocess", s.handleReprocessBulk).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tracks", s.handleGetTracks).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tracks", s.handleAddTrack).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tracks/{trackId:[0-9]+}/tags", s.handleAddTrackTag).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tracks/{trackId:[0-9]+}/tags/{tagId:[0-9]+}", s.handleDeleteTrackTag).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tags", s.handleTagRecording).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/recordings/{id:[0-9]+}/tags/{tagId:[0-9]+}", s.handleDeleteRecordingTag).Methods(http.MethodDelete)

	r.HandleFunc("/api/v1/events", s.handleRecordEvents).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/events/device/{id:[0-9]+}", s.handleRecordEvents).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/events", s.handleQueryEvents).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/alerts/{id:[0-9]+}", s.handleGetAlert).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/schedules", s.handleSetSchedule).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/schedules/{device}", s.handleGetSchedule).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/files", s.handleUploadFile).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/files/{id:[0-9]+}", s.handleGetFile).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/files/{id:[0-9]+}", s.handleDeleteFile).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/signedUrl", s.handleSignedURL).Methods(http.MethodGet)

	r.HandleFunc("/api/fileProcessing", s.handleClaimJob).Methods(http.MethodGet)
	r.HandleFunc("/api/fileProcessing", s.handleJobDone).Methods(http.MethodPut)
	r.HandleFunc("/api/fileProcessing/algorithm", s.handleAlgorithm).Methods(http.MethodPost)
	r.HandleFunc("/api/fileProcessing/{id:[0-9]+}/tracks", s.handleProcessingAddTrack).Methods(http.MethodPost)
	r.HandleFunc("/api/fileProcessing/{id:[0-9]+}/tracks", s.handleProcessingClearTracks).Methods(http.MethodDelete)
	r.HandleFunc("/api/fileProcessing/{id:[0-9]+}/tracks/{trackId:[0-9]+}/tags", s.handleProcessingAddTrackTag).Methods(http.MethodPost)

	s.router = r
}

// sendJSON writes a JSON response with the service's standard envelope.
func sendJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendError writes the service's failure envelope: messages plus a message
// field so either client decoding convention finds text.
func sendError(w http.ResponseWriter, status int, messages ...string) {
	text := "request failed"
	if len(messages) > 0 {
		text = messages[0]
	}
	sendJSON(w, status, map[string]any{"messages": messages, "message": text})
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// mintSession issues a session token for a principal. The token is a signed
// JWT like the real service's, though the fake only matches it against its
// session table.
func (s *Server) mintSession(principal *account, kind string) string {
	claims := jwt.MapClaims{
		"_type": kind,
		"id":    principal.id,
		"iat":   time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		// HS256 signing of a map claim cannot fail with a valid key.
		panic(err)
	}
	s.sessionMu.Lock()
	s.sessions[token] = principal
	s.sessionMu.Unlock()
	return token
}

// authUser resolves the Authorization header to a user principal.
func (s *Server) authUser(w http.ResponseWriter, r *http.Request) *account {
	s.sessionMu.RLock()
	principal := s.sessions[r.Header.Get("Authorization")]
	s.sessionMu.RUnlock()
	if principal == nil || principal.groupID != 0 {
		sendError(w, http.StatusUnauthorized, "valid user session required")
		return nil
	}
	return principal
}

// authAny resolves the Authorization header to a principal of either kind.
func (s *Server) authAny(w http.ResponseWriter, r *http.Request) *account {
	s.sessionMu.RLock()
	principal := s.sessions[r.Header.Get("Authorization")]
	s.sessionMu.RUnlock()
	if principal == nil {
		sendError(w, http.StatusUnauthorized, "valid session required")
		return nil
	}
	return principal
}

// authDevice resolves the Authorization header to a device principal.
func (s *Server) authDevice(w http.ResponseWriter, r *http.Request) *account {
	s.sessionMu.RLock()
	principal := s.sessions[r.Header.Get("Authorization")]
	s.sessionMu.RUnlock()
	if principal == nil || principal.groupID == 0 {
		sendError(w, http.StatusUnauthorized, "valid device session required")
		return nil
	}
	return principal
}

func pathInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(mux.Vars(r)[name])
	return v
}

func checkPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func hashPassword(password string) []byte {
	// MinCost keeps registration-heavy suites fast.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return hash
}
