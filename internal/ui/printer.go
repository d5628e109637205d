package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes styled output for one-shot commands.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer that writes to w. If w is nil, os.Stdout is
// used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the render width.
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
	p.Newline()
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details map[string]string) {
	p.Println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// PrintFailure prints a failure result box
func (p *Printer) PrintFailure(title string, err error, hints []string) {
	p.Println(NewFailureResult(title, err, hints).SetWidth(p.width).Render())
}

// PrintTable prints rows in aligned columns; the first row is the heading.
func (p *Printer) PrintTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	heading := lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	for n, row := range rows {
		var b strings.Builder
		b.WriteString("  ")
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			pad := widths[i] - lipgloss.Width(cell) + 2
			if n == 0 {
				b.WriteString(heading.Render(cell))
			} else {
				b.WriteString(ResultValueStyle.Render(cell))
			}
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
		p.Println(b.String())
	}
}
