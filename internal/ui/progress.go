package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
	StepSkipped                    // Skipped
)

// Step is one line of a multi-step operation.
type Step struct {
	Number  int        // 1-based
	Name    string     // e.g., "Write partition table"
	Status  StepStatus // Current status
	Message string     // Optional note, e.g. "16 pages"
}

// Progress tracks a fixed list of steps and renders them with a bar.
type Progress struct {
	Steps   []Step
	Current int     // Running step (1-based)
	Percent float64 // 0.0 - 1.0
	bar     progress.Model
}

// NewProgress creates a tracker for the named steps.
func NewProgress(names []string, width int) *Progress {
	barWidth := width - 20
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}

	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Number: i + 1, Name: name}
	}
	return &Progress{
		Steps: steps,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
	}
}

// Total returns the number of steps.
func (p *Progress) Total() int { return len(p.Steps) }

// UpdateStep sets a step's status and note. Out of range steps are ignored.
func (p *Progress) UpdateStep(number int, status StepStatus, message string) {
	if number < 1 || number > len(p.Steps) {
		return
	}
	p.Steps[number-1].Status = status
	p.Steps[number-1].Message = message

	if status == StepRunning {
		p.Current = number
		return
	}
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete || s.Status == StepSkipped {
			done++
		}
	}
	p.Percent = float64(done) / float64(len(p.Steps))
}

// Render returns the bar followed by the step list.
func (p *Progress) Render() string {
	var b strings.Builder
	b.WriteString(p.renderBar())
	b.WriteString("\n\n")
	for i, step := range p.Steps {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.renderStepLine(step))
	}
	return b.String()
}

func (p *Progress) renderBar() string {
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent), p.Percent*100, p.Current, len(p.Steps)))
}

func (p *Progress) renderStepLine(step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  [%d/%d] ", step.Number, len(p.Steps))
	b.WriteString(style.Render(step.Name))

	// Markers line up in one column.
	padding := 45 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
