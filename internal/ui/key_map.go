package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap names the actions the browser reacts to on top of the lists' own
// navigation bindings.
type keyMap struct {
	open      key.Binding
	reprocess key.Binding
	confirm   key.Binding
	cancel    key.Binding
	back      key.Binding
	refresh   key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		open:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "tracks")),
		reprocess: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "reprocess")),
		confirm:   key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "confirm")),
		cancel:    key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "cancel")),
		back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.refresh, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.open, k.reprocess, k.refresh},
		{k.confirm, k.cancel, k.back, k.quit},
	}
}
