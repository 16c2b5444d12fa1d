package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one header parameter. Params keep their order.
type Param struct {
	Key   string
	Value string
}

// Header is the banner printed before a command runs.
type Header struct {
	Title  string // e.g., "EMULATOR DISCOVERY"
	Params []Param
	Width  int
}

// NewHeader creates a new header with the given values
func NewHeader(title string, params ...Param) *Header {
	return &Header{
		Title:  title,
		Params: params,
		Width:  GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))

	dividerWidth := width - 6 // Account for border and padding
	divider := RenderHorizontalDivider(dividerWidth, "─")

	var paramLines []string
	for _, p := range h.Params {
		paramLines = append(paramLines,
			HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
	}

	sections := []string{titleLine}
	if len(paramLines) > 0 {
		sections = append(sections, divider, strings.Join(paramLines, "\n"))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, sections...)
	return HeaderBorderStyle(width).Render(content)
}
