package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/korimako/fieldtest/internal/models"
)

var (
	_ list.Item = recordingItem{}
	_ list.Item = trackItem{}
)

// recordingItem wraps [models.Recording] to implement [list.Item].
type recordingItem struct {
	recording *models.Recording
}

func (i recordingItem) FilterValue() string {
	return fmt.Sprintf("%d %s", i.recording.ID, prop(i.recording, "type"))
}

func (i recordingItem) Title() string {
	return fmt.Sprintf("#%d %s", i.recording.ID, prop(i.recording, "type"))
}

func (i recordingItem) Description() string {
	desc := prop(i.recording, "processingState")
	if when := prop(i.recording, "recordingDateTime"); when != "" {
		desc = fmt.Sprintf("%s • %s", desc, when)
	}
	if tags := queryTags(i.recording); len(tags) > 0 {
		desc = fmt.Sprintf("%s • %s", desc, strings.Join(tags, ", "))
	}
	return desc
}

// trackItem wraps [models.Track] to implement [list.Item].
type trackItem struct {
	track models.Track
}

func (i trackItem) FilterValue() string { return i.Title() }

func (i trackItem) Title() string {
	return fmt.Sprintf("track %d", i.track.ID)
}

func (i trackItem) Description() string {
	if len(i.track.Tags) == 0 {
		return "untagged"
	}
	labels := make([]string, len(i.track.Tags))
	for n, tag := range i.track.Tags {
		origin := "human"
		if tag.Automatic {
			origin = "auto"
		}
		labels[n] = fmt.Sprintf("%s (%s %.2f)", tag.What, origin, tag.Confidence)
	}
	return strings.Join(labels, " • ")
}

func prop(rec *models.Recording, key string) string {
	switch v := rec.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// queryTags extracts the tag names a query row carries in its property bag.
func queryTags(rec *models.Recording) []string {
	raw, ok := rec.Get("Tags").([]any)
	if !ok {
		return nil
	}
	var tags []string
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			if what, _ := m["what"].(string); what != "" {
				tags = append(tags, what)
			}
		}
	}
	return tags
}
