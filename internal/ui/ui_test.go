package ui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/models"
)

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func confirmModel() *Model {
	m := NewModel(context.Background(), nil, api.RecordingQuery{})
	m.view = ConfirmView
	m.selected = &models.Recording{ID: 5, Props: map[string]any{"type": "thermalRaw"}}
	return m
}

func TestConfirmViewKeys(t *testing.T) {
	t.Run("CancelReturnsToTracks", func(t *testing.T) {
		model, cmd := confirmModel().Update(keyPress('n'))
		if model.(*Model).view != TrackDetailView || cmd != nil {
			t.Error("n should cancel back to the track view")
		}
	})

	t.Run("EscCancelsToo", func(t *testing.T) {
		model, _ := confirmModel().Update(tea.KeyMsg{Type: tea.KeyEsc})
		if model.(*Model).view != TrackDetailView {
			t.Error("esc should cancel the confirmation")
		}
	})

	t.Run("ConfirmStartsReprocess", func(t *testing.T) {
		if _, cmd := confirmModel().Update(keyPress('y')); cmd == nil {
			t.Error("y should produce the reprocess command")
		}
	})
}

func TestResultViewKeys(t *testing.T) {
	m := NewModel(context.Background(), nil, api.RecordingQuery{})
	m.view = ResultView

	_, cmd := m.Update(keyPress('q'))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should produce the quit command")
	}
}
