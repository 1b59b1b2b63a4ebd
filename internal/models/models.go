package models

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// Recording represents an uploaded media artifact.
//
// Props is an open map: the server accepts arbitrary keys and adds derived
// fields (rawMimeType, processingState, ...) on read. Only the fields the
// harness asserts on are ever interpreted; the rest pass through opaquely.
type Recording struct {
	ID      int            // server-assigned, zero before upload
	Name    string         // diagnostic only, never sent
	Props   map[string]any // mutable property bag
	Content []byte         // raw bytes, set only when created via upload
	Tags    []RecordingTag
	Tracks  []Track
}

// NewRecording builds a local Recording from a property map and an optional
// content file. The returned value has no id until uploaded.
func NewRecording(name string, props map[string]any, contentPath string) (*Recording, error) {
	if props == nil {
		props = map[string]any{"type": "thermalRaw"}
	}
	r := &Recording{Name: name, Props: props}
	if contentPath != "" {
		content, err := os.ReadFile(contentPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read recording content: %w", err)
		}
		r.Content = content
		r.Name = filepath.Base(contentPath)
	}
	return r, nil
}

// Get returns a property value, nil when absent.
func (r *Recording) Get(key string) any {
	return r.Props[key]
}

// Set replaces a property value locally. Local mutation never affects
// identity: two recordings with the same id are the same entity.
func (r *Recording) Set(key string, value any) {
	if r.Props == nil {
		r.Props = map[string]any{}
	}
	r.Props[key] = value
}

// SameAs reports whether two recordings name the same server entity.
func (r *Recording) SameAs(other *Recording) bool {
	return r != nil && other != nil && r.ID != 0 && r.ID == other.ID
}

func (r *Recording) String() string {
	return fmt.Sprintf("<Recording %d>", r.ID)
}

// Track belongs to exactly one recording. The owner is referenced by id only.
// Data must at minimum carry start_s and end_s offsets in seconds.
type Track struct {
	ID          int // server-assigned, zero before creation
	RecordingID int
	Data        map[string]any
	Tags        []TrackTag
}

// NewTrack makes a track with plausible positional data for a recording.
func NewTrack(recordingID int) *Track {
	return &Track{
		RecordingID: recordingID,
		Data:        map[string]any{"start_s": 10, "end_s": 22.2, "positions": [][]int{{1, 2}, {3, 4}}},
	}
}

// SameAs reports whether two tracks name the same server entity.
func (t *Track) SameAs(other *Track) bool {
	return t != nil && other != nil && t.ID != 0 && t.ID == other.ID
}

// TrackTag classifies a track. Automatic marks AI-assigned tags; human and
// automatic tags occupy separate slots for replace semantics.
type TrackTag struct {
	ID         int
	TrackID    int
	What       string
	Confidence float64
	Automatic  bool
	Data       map[string]any
}

// NewTrackTag makes a tag with plausible classification data.
func NewTrackTag(trackID int, automatic bool) *TrackTag {
	return &TrackTag{
		TrackID:    trackID,
		What:       pick("possum", "rat", "stoat"),
		Confidence: []float64{0.5, 0.8, 0.9}[rand.Intn(3)],
		Automatic:  automatic,
		Data:       map[string]any{"foo": pick("bar", "baz", "what")},
	}
}

// RecordingTag is a recording-level tag, kept distinct from track tags
// because the service stores and filters them separately.
type RecordingTag struct {
	ID         int
	What       string
	Confidence float64
	Automatic  bool
	Data       map[string]any
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}
