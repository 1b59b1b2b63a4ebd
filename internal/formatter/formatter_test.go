package formatter

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/korimako/fieldtest/internal/models"
	tu "github.com/korimako/fieldtest/internal/testing"
)

func sampleResult() *QueryResult {
	possum := &models.Recording{
		ID: 42,
		Props: map[string]any{
			"type":              "thermalRaw",
			"duration":          float64(40),
			"recordingDateTime": "2026-08-10T02:15:00Z",
			"DeviceId":          float64(7),
			"GroupId":           float64(3),
			"processingState":   "FINISHED",
		},
		Tags: []models.RecordingTag{{What: "possum"}},
		Tracks: []models.Track{
			{Tags: []models.TrackTag{{What: "possum", Automatic: true}, {What: "rat"}}},
		},
	}
	silent := &models.Recording{
		ID: 43,
		Props: map[string]any{
			"type":            "audio",
			"duration":        12.5,
			"processingState": "analyse",
		},
	}
	return &QueryResult{
		ServerURL:  "http://test.invalid",
		Count:      5,
		Recordings: []*models.Recording{possum, silent},
	}
}

func TestExportToCSV(t *testing.T) {
	t.Run("writes header and one row per recording", func(t *testing.T) {
		data, err := ExportToCSV(sampleResult())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
		}
		if lines[0] != "ID,Type,Duration,DateTime,DeviceId,GroupId,State,Tags" {
			t.Errorf("unexpected header: %s", lines[0])
		}
		if !strings.HasPrefix(lines[1], "42,thermalRaw,40,") {
			t.Errorf("unexpected first row: %s", lines[1])
		}
		if !strings.Contains(lines[1], "possum|rat") {
			t.Errorf("tags not joined in row: %s", lines[1])
		}
	})

	t.Run("missing properties render as empty cells", func(t *testing.T) {
		data, err := ExportToCSV(sampleResult())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if !strings.Contains(lines[2], "43,audio,12.5,,") {
			t.Errorf("expected empty date cell for second row: %s", lines[2])
		}
	})

	t.Run("handles empty result", func(t *testing.T) {
		data, err := ExportToCSV(&QueryResult{})
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 1 {
			t.Errorf("expected header only, got %d lines", len(lines))
		}
	})
}

func TestExportToMarkdown(t *testing.T) {
	data, err := ExportToMarkdown(sampleResult())
	if err != nil {
		t.Fatalf("ExportToMarkdown failed: %v", err)
	}

	out := string(data)
	for _, want := range []string{
		"# Recordings",
		"**Server**: http://test.invalid",
		"**Matches**: 5 (showing 2)",
		"| 42 | thermalRaw |",
		"possum, rat",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q:\n%s", want, out)
		}
	}
}

func TestExportToText(t *testing.T) {
	data, err := ExportToText(sampleResult())
	if err != nil {
		t.Fatalf("ExportToText failed: %v", err)
	}

	out := string(data)
	if !strings.Contains(out, "Recordings: 5") {
		t.Errorf("missing count line:\n%s", out)
	}
	if !strings.Contains(out, "1. #42 thermalRaw 40s") {
		t.Errorf("missing first recording line:\n%s", out)
	}
	if !strings.Contains(out, "[possum, rat]") {
		t.Errorf("missing tag suffix:\n%s", out)
	}
	if strings.Contains(out, "#43 audio 12.5s [") {
		t.Errorf("untagged recording should have no tag suffix:\n%s", out)
	}
}

func TestToMetadataJSON(t *testing.T) {
	data, err := ToMetadataJSON(sampleResult())
	if err != nil {
		t.Fatalf("ToMetadataJSON failed: %v", err)
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if meta["count"] != float64(5) {
		t.Errorf("expected count 5, got %v", meta["count"])
	}
	if meta["returned"] != float64(2) {
		t.Errorf("expected returned 2, got %v", meta["returned"])
	}
	if meta["serverUrl"] != "http://test.invalid" {
		t.Errorf("unexpected serverUrl: %v", meta["serverUrl"])
	}
}

func TestWriteCSVExport(t *testing.T) {
	t.Run("creates both files", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "nightly")

		out, err := WriteCSVExport(sampleResult(), base)
		if err != nil {
			t.Fatalf("WriteCSVExport failed: %v", err)
		}

		if out.RecordingsFile != base+"_recordings.csv" {
			t.Errorf("unexpected recordings path: %s", out.RecordingsFile)
		}
		if out.MetadataFile != base+"_metadata.json" {
			t.Errorf("unexpected metadata path: %s", out.MetadataFile)
		}
		tu.AssertFileExists(t, out.RecordingsFile)
		tu.AssertFileExists(t, out.MetadataFile)
	})

	t.Run("defaults the base path", func(t *testing.T) {
		cwd := tu.MustGetwd(t)
		tu.MustChdir(t, t.TempDir())
		defer tu.MustChdir(t, cwd)

		out, err := WriteCSVExport(&QueryResult{}, "")
		if err != nil {
			t.Fatalf("WriteCSVExport failed: %v", err)
		}
		if out.RecordingsFile != "export_recordings.csv" {
			t.Errorf("unexpected default path: %s", out.RecordingsFile)
		}
	})
}
