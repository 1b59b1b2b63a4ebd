package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/models"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	RecordingListView ViewState = iota
	TrackDetailView
	ConfirmView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx           context.Context
	view          ViewState
	user          *api.UserClient
	query         api.RecordingQuery
	width         int
	height        int
	recordingList list.Model
	recordings    []*models.Recording
	total         int
	trackList     list.Model
	selected      *models.Recording
	reprocessed   int
	err           error
	help          help.Model
	keys          keyMap
}

// NewModel creates a new TUI model browsing the recordings a user can see.
// The query scopes which recordings are listed; the zero query lists
// everything visible.
func NewModel(ctx context.Context, user *api.UserClient, query api.RecordingQuery) *Model {
	return &Model{
		ctx:   ctx,
		view:  RecordingListView,
		user:  user,
		query: query,
		help:  help.New(),
		keys:  newKeyMap(),
	}
}

// Init starts the TUI by querying recordings.
func (m *Model) Init() tea.Cmd {
	return m.fetchRecordings()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.recordingList.Width() == 0 {
			m.recordingList.SetSize(msg.Width-4, msg.Height-8)
		}
		if m.trackList.Width() == 0 {
			m.trackList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case RecordingListView:
			return m.handleRecordingListKeys(msg)
		case TrackDetailView:
			return m.handleTrackDetailKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case recordingsFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.recordings = msg.recordings
		m.total = msg.count
		items := make([]list.Item, len(msg.recordings))
		for i, rec := range msg.recordings {
			items[i] = recordingItem{recording: rec}
		}
		m.recordingList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.recordingList.Title = fmt.Sprintf("Recordings (%d of %d)", len(msg.recordings), msg.count)
		m.recordingList.SetSize(m.width-4, m.height-8)
		return m, nil

	case tracksFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.view = RecordingListView
			return m, nil
		}
		items := make([]list.Item, len(msg.tracks))
		for i, track := range msg.tracks {
			items[i] = trackItem{track: track}
		}
		m.trackList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.trackList.Title = fmt.Sprintf("Tracks of recording %d", msg.recordingID)
		m.trackList.SetSize(m.width-4, m.height-8)
		m.view = TrackDetailView
		return m, nil

	case reprocessDoneMsg:
		m.reprocessed = msg.recordingID
		m.err = msg.err
		m.view = ResultView
		return m, nil
	}

	return m.updateLists(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case RecordingListView:
		return m.renderRecordingList()
	case TrackDetailView:
		return m.renderTrackDetail()
	case ConfirmView:
		return m.renderConfirm()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleRecordingListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchRecordings()
	case key.Matches(msg, m.keys.open):
		if selected := m.recordingList.SelectedItem(); selected != nil {
			if item, ok := selected.(recordingItem); ok {
				m.selected = item.recording
				return m, m.fetchTracks(item.recording.ID)
			}
		}
	}

	var cmd tea.Cmd
	m.recordingList, cmd = m.recordingList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = RecordingListView
		return m, nil
	case key.Matches(msg, m.keys.reprocess):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.cancel), key.Matches(msg, m.keys.quit):
		m.view = TrackDetailView
		return m, nil
	case key.Matches(msg, m.keys.confirm):
		return m, m.startReprocess()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		m.view = RecordingListView
		m.selected = nil
		m.reprocessed = 0
		m.err = nil
		return m, m.fetchRecordings()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case RecordingListView:
		m.recordingList, cmd = m.recordingList.Update(msg)
	case TrackDetailView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchRecordings() tea.Cmd {
	return func() tea.Msg {
		recordings, count, err := m.user.QueryRecordings(m.ctx, m.query)
		return recordingsFetchedMsg{recordings: recordings, count: count, err: err}
	}
}

func (m *Model) fetchTracks(recordingID int) tea.Cmd {
	return func() tea.Msg {
		tracks, err := m.user.GetTracks(m.ctx, recordingID)
		return tracksFetchedMsg{recordingID: recordingID, tracks: tracks, err: err}
	}
}

func (m *Model) startReprocess() tea.Cmd {
	id := m.selected.ID
	return func() tea.Msg {
		return reprocessDoneMsg{recordingID: id, err: m.user.Reprocess(m.ctx, id)}
	}
}

func (m *Model) renderRecordingList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.open, m.keys.refresh, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.recordingList.View(), helpView)
}

func (m *Model) renderTrackDetail() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.reprocess, m.keys.back, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.trackList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Reprocess recording %d?", m.selected.ID))
	info := fmt.Sprintf("\nType: %s\nState: %s\n", prop(m.selected, "type"), prop(m.selected, "processingState"))
	warning := styles.warn.Render("Existing tags move to additionalMetadata and tracks are cleared.")

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.confirm, m.keys.cancel, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, info, warning, helpView)
}

func (m *Model) renderResult() string {
	if m.err != nil {
		hint := styles.hint.Render("Press r to return, q to quit")
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(fmt.Sprintf("Reprocess failed: %v", m.err)), hint)
	}

	title := styles.ok.Render("✓ Reprocess queued")
	info := fmt.Sprintf("\nRecording %d is back at the start of its processing pipeline.", m.reprocessed)

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.refresh, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
