package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/formatter"
	"github.com/korimako/fieldtest/internal/shared"
	"github.com/korimako/fieldtest/internal/tasks"
	"github.com/urfave/cli/v3"
)

// queryFromFlags assembles a recording query from the shared filter flags.
func queryFromFlags(cmd *cli.Command) api.RecordingQuery {
	query := api.RecordingQuery{
		Type:    cmd.String("type"),
		TagMode: cmd.String("tag-mode"),
		Limit:   int(cmd.Int("limit")),
		Offset:  int(cmd.Int("offset")),
	}
	if tags := cmd.StringSlice("tag"); len(tags) > 0 {
		query.Tags = tags
	}
	if cmd.IsSet("min-duration") {
		minDuration := int(cmd.Int("min-duration"))
		query.MinDuration = &minDuration
	}
	for _, id := range cmd.IntSlice("device-id") {
		query.DeviceIDs = append(query.DeviceIDs, int(id))
	}
	for _, id := range cmd.IntSlice("group-id") {
		query.GroupIDs = append(query.GroupIDs, int(id))
	}
	return query
}

// RecordingsQuery lists recordings matching the filter flags.
func (r *Runner) RecordingsQuery(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	query := queryFromFlags(cmd)
	recordings, count, err := user.QueryRecordings(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	r.logger.Info("query complete", "matches", count, "returned", len(recordings))

	result := &formatter.QueryResult{
		ServerURL:  r.config.API.ServerURL,
		Count:      count,
		Recordings: recordings,
	}

	if base := cmd.String("save"); base != "" {
		out, err := formatter.WriteCSVExport(result, base)
		if err != nil {
			return err
		}
		r.writePlain("✓ Export written\n")
		r.writePlain("Recordings: %s\n", out.RecordingsFile)
		r.writePlain("Metadata: %s\n", out.MetadataFile)
		return nil
	}

	if cmd.Bool("json") {
		rows := make([]map[string]any, len(recordings))
		for i, rec := range recordings {
			rows[i] = rec.Props
		}
		return r.writeJSON(map[string]any{"count": count, "rows": rows}, cmd.Bool("pretty"))
	}

	var rendered []byte
	switch format := cmd.String("format"); format {
	case "csv":
		rendered, err = formatter.ExportToCSV(result)
	case "markdown", "md":
		rendered, err = formatter.ExportToMarkdown(result)
	case "text", "":
		rendered, err = formatter.ExportToText(result)
	default:
		return fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, format)
	}
	if err != nil {
		return err
	}
	return r.writePlain("%s", rendered)
}

// RecordingsGet fetches one recording by id.
func (r *Runner) RecordingsGet(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	id, err := strconv.Atoi(cmd.StringArg("id"))
	if err != nil {
		return fmt.Errorf("%w: recording id must be a number", shared.ErrInvalidInput)
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	recording, err := user.GetRecording(ctx, id, int(cmd.Int("lat-long-prec")))
	if err != nil {
		return fmt.Errorf("could not fetch recording %d: %w", id, err)
	}
	return r.writeJSON(recording.Props, true)
}

// RecordingsReprocess sends recordings back through the processing pipeline.
// Multiple ids go through the bulk endpoint so partial failure is reported.
func (r *Runner) RecordingsReprocess(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	var ids []int
	for _, id := range cmd.IntSlice("id") {
		ids = append(ids, int(id))
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	if len(ids) == 1 {
		if err := user.Reprocess(ctx, ids[0]); err != nil {
			return fmt.Errorf("reprocess failed: %w", err)
		}
		r.writePlain("✓ Recording %d queued for reprocessing\n", ids[0])
		return nil
	}

	reprocessed, failed, err := user.ReprocessBulk(ctx, ids)
	if err != nil && len(reprocessed) == 0 {
		return fmt.Errorf("reprocess failed: %w", err)
	}

	r.writePlain("✓ Queued for reprocessing: %s\n", joinIDs(reprocessed))
	if len(failed) > 0 {
		r.writePlain("✗ Failed: %s\n", joinIDs(failed))
		return errors.New("some recordings could not be reprocessed")
	}
	return nil
}

// RecordingsExport runs a bulk export of matching recordings.
func (r *Runner) RecordingsExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	engine := tasks.NewRecordingEngine(user, nil)
	opts := tasks.BulkExportOpts{
		Format:     cmd.String("format"),
		OutputDir:  cmd.String("output-dir"),
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  cmd.Float("rate-limit"),
	}

	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("%s\n", update.Message)
		}
	}()

	result, err := engine.BulkExport(ctx, progress, queryFromFlags(cmd), opts)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainHeader("Export complete")
	r.writePlain("Exported: %d/%d recordings\n", result.SuccessfulExports, result.TotalRecordings)
	if result.FailedExports > 0 {
		r.writePlain("Failed: %d\n", result.FailedExports)
	}
	r.writePlain("Output: %s\n", result.OutputDirectory)
	r.writePlain("Manifest: %s\n", result.ManifestPath)
	return nil
}

// RecordingsReport downloads the server-side CSV report.
func (r *Runner) RecordingsReport(ctx context.Context, cmd *cli.Command) error {
	if err := r.reloadConfig(cmd); err != nil {
		return err
	}

	user, err := r.userClient(ctx, cmd.String("user"), cmd.String("password"))
	if err != nil {
		return err
	}

	rows, err := user.Report(ctx, queryFromFlags(cmd))
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	for _, row := range rows {
		if err := r.writePlain("%s\n", strings.Join(row, ",")); err != nil {
			return err
		}
	}
	return nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
