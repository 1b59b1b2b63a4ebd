package ui

import (
	"github.com/korimako/fieldtest/internal/models"
)

// recordingsFetchedMsg carries the result of a recordings query.
type recordingsFetchedMsg struct {
	recordings []*models.Recording
	count      int
	err        error
}

// tracksFetchedMsg carries the track detail of one recording.
type tracksFetchedMsg struct {
	recordingID int
	tracks      []models.Track
	err         error
}

// reprocessDoneMsg reports the outcome of a reprocess request.
type reprocessDoneMsg struct {
	recordingID int
	err         error
}
