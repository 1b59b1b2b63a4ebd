// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow for inspecting recordings on a server:
//  1. [RecordingListView] : Browse recordings matching the configured query
//  2. [TrackDetailView] : Inspect the tracks and tags of one recording
//  3. [ConfirmView] : Confirm a reprocess request
//  4. [ResultView] : Display the reprocess outcome
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via typed message structs.
// Server calls run as tea commands so the interface never blocks on the network.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
