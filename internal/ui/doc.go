// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI mirrors the browser panel's workflow against the same session and
// runner:
//  1. [ProjectListView] : Browse the configured projects and select one
//  2. [ActionListView] : Pick the submitter action to run
//  3. [ConfirmView] : Confirm before executing
//  4. [RunView] : Watch the action while it is in flight
//  5. [ResultView] : Display the outcome and a log excerpt
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View
// pattern, receiving messages via the Msg union type. Actions execute through
// the shared runner, so the single-flight rule holds across the TUI and the
// HTTP panel alike.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with
// contextual help displayed via charmbracelet/bubbles/help.
package ui
