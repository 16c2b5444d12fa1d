// Package ui provides terminal output for the emunwa CLI.
//
// It uses Bubble Tea and Lipgloss to render a live discovery view and
// styled result boxes. Output that is not a terminal gets plain text, so the
// CLI stays usable in pipes and scripts.
//
// # Logging Integration
//
// zap logging is silent unless EMUNWA_LOG_LEVEL or --log-level is set, so
// the curated UI output is displayed cleanly.
package ui
