package ui

import "github.com/charmbracelet/lipgloss"

// palette holds the few styles the browser renders with itself; the lists
// bring their own chrome.
type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	hint  lipgloss.Style
}

var styles = palette{
	title: bold("#00A7A7").MarginBottom(1),
	ok:    bold("#26A269"),
	err:   bold("#E01B24"),
	warn:  fg("#E5A50A"),
	hint:  fg("#777777").Italic(true),
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func bold(color string) lipgloss.Style {
	return fg(color).Bold(true)
}
