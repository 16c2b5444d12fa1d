package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Printer writes command output. Styled boxes are used on a terminal,
// plain text everywhere else.
type Printer struct {
	out    io.Writer
	width  int
	styled bool
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:    w,
		width:  GetTerminalWidth(),
		styled: IsTerminal(w),
	}
}

// Styled reports whether the printer renders styled output.
func (p *Printer) Styled() bool {
	return p.styled
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header. Plain output has no header.
func (p *Printer) PrintHeader(h *Header) {
	if !p.styled {
		return
	}
	p.Println(h.SetWidth(p.width).Render())
}

// PrintResult prints a result box.
func (p *Printer) PrintResult(r *Result) {
	if p.styled {
		p.Println(r.SetWidth(p.width).Render())
		return
	}
	p.Println(RenderPlainResult(r))
}

// PrintDevices prints discovered device names. Plain output is one name
// per line.
func (p *Printer) PrintDevices(names []string) {
	if !p.styled {
		for _, name := range names {
			p.Println(name)
		}
		return
	}
	p.Println(RenderDeviceList(names))
}

// RenderDeviceList renders a styled list of device names.
func RenderDeviceList(names []string) string {
	if len(names) == 0 {
		return StatusStyle.Render("No emulator found")
	}
	lines := []string{StatusStyle.Render(fmt.Sprintf("Found %d emulator(s):", len(names)))}
	for _, name := range names {
		lines = append(lines, DeviceStyle.Render(DeviceMarker+" "+name))
	}
	return strings.Join(lines, "\n")
}

// RenderPlainResult renders a result without styling.
func RenderPlainResult(r *Result) string {
	label := "OK"
	switch r.Type {
	case ResultFailure:
		label = "FAILED"
	case ResultWarning:
		label = "WARNING"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", label, r.Title)
	if r.Error != nil {
		fmt.Fprintf(&b, "\n  error: %v", r.Error)
	}
	for _, d := range r.Details {
		fmt.Fprintf(&b, "\n  %s: %s", strings.ToLower(d.Key), d.Value)
	}
	for _, hint := range r.Hints {
		fmt.Fprintf(&b, "\n  - %s", hint)
	}
	return b.String()
}
