// package formatter renders recording query results to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/korimako/fieldtest/internal/models"
)

// QueryResult bundles one executed recordings query with its outcome, ready
// for rendering.
type QueryResult struct {
	ServerURL  string
	Count      int // total matches before pagination
	Recordings []*models.Recording
}

var csvHeader = []string{"ID", "Type", "Duration", "DateTime", "DeviceId", "GroupId", "State", "Tags"}

// ExportToCSV converts a QueryResult to CSV with one row per recording.
func ExportToCSV(result *QueryResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, rec := range result.Recordings {
		record := []string{
			fmt.Sprintf("%d", rec.ID),
			propString(rec, "type"),
			propString(rec, "duration"),
			propString(rec, "recordingDateTime"),
			propString(rec, "DeviceId"),
			propString(rec, "GroupId"),
			propString(rec, "processingState"),
			strings.Join(tagLabels(rec), "|"),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a QueryResult to a Markdown report.
func ExportToMarkdown(result *QueryResult) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Recordings\n\n")
	if result.ServerURL != "" {
		buf.WriteString(fmt.Sprintf("**Server**: %s\n", result.ServerURL))
	}
	buf.WriteString(fmt.Sprintf("**Matches**: %d (showing %d)\n\n", result.Count, len(result.Recordings)))

	buf.WriteString("| ID | Type | Duration | Date | State | Tags |\n")
	buf.WriteString("| --- | --- | --- | --- | --- | --- |\n")
	for _, rec := range result.Recordings {
		buf.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
			rec.ID,
			propString(rec, "type"),
			propString(rec, "duration"),
			propString(rec, "recordingDateTime"),
			propString(rec, "processingState"),
			strings.Join(tagLabels(rec), ", "),
		))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a QueryResult to plain text, one line per recording.
func ExportToText(result *QueryResult) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Recordings: %d\n\n", result.Count))
	for i, rec := range result.Recordings {
		line := fmt.Sprintf("%d. #%d %s %ss %s",
			i+1, rec.ID, propString(rec, "type"), propString(rec, "duration"), propString(rec, "recordingDateTime"))
		if tags := tagLabels(rec); len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		buf.WriteString(line + "\n")
	}

	return buf.Bytes(), nil
}

// ToMetadataJSON generates an indented JSON summary of the result without
// the per-recording rows.
func ToMetadataJSON(result *QueryResult) ([]byte, error) {
	meta := map[string]any{
		"serverUrl": result.ServerURL,
		"count":     result.Count,
		"returned":  len(result.Recordings),
	}
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return out, nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	RecordingsFile string
	MetadataFile   string
}

// WriteCSVExport writes a result to {base}_recordings.csv plus a
// {base}_metadata.json summary.
func WriteCSVExport(result *QueryResult, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = "export"
	}

	csvData, err := ExportToCSV(result)
	if err != nil {
		return nil, err
	}
	metaData, err := ToMetadataJSON(result)
	if err != nil {
		return nil, err
	}

	out := &CSVExportResult{
		RecordingsFile: baseFilepath + "_recordings.csv",
		MetadataFile:   baseFilepath + "_metadata.json",
	}
	if err := os.WriteFile(out.RecordingsFile, csvData, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", out.RecordingsFile, err)
	}
	if err := os.WriteFile(out.MetadataFile, metaData, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", out.MetadataFile, err)
	}
	return out, nil
}

// propString renders a property bag value for tabular output, empty when
// absent.
func propString(rec *models.Recording, key string) string {
	value := rec.Get(key)
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing .0 noise.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// tagLabels collects the distinct classifications attached to a recording
// row, track tags included.
func tagLabels(rec *models.Recording) []string {
	seen := map[string]bool{}
	var labels []string

	add := func(what string) {
		if what != "" && !seen[what] {
			seen[what] = true
			labels = append(labels, what)
		}
	}
	for _, t := range rec.Tags {
		add(t.What)
	}
	for _, track := range rec.Tracks {
		for _, t := range track.Tags {
			add(t.What)
		}
	}
	// Rows straight from a query carry tags in the property bag.
	if raw, ok := rec.Get("Tags").([]any); ok {
		for _, entry := range raw {
			if m, ok := entry.(map[string]any); ok {
				what, _ := m["what"].(string)
				add(what)
			}
		}
	}
	return labels
}
