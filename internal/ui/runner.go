package ui

import (
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig describes a multi-step command.
type RunnerConfig struct {
	Title   string            // e.g., "Flash Image"
	Command string            // e.g., "devboot-flash mkimage"
	Params  map[string]string // Shown in the header
	Steps   []string          // Step names, in order
	Hints   []string          // Shown when the operation fails
	Output  io.Writer         // Default: os.Stdout
	Width   int               // Default: terminal width
}

// StepFunc reports progress on step number (1-based).
type StepFunc func(number int, status StepStatus, message string)

// Operation is the work a Runner wraps. It returns the details to show in
// the success box.
type Operation func(step StepFunc) (map[string]string, error)

// Runner prints a header, then one line per finished step, then a result
// box.
type Runner struct {
	config   RunnerConfig
	progress *Progress
	out      io.Writer
	now      func() time.Time
}

// NewRunner creates a runner for config.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Width == 0 {
		config.Width = GetTerminalWidth()
	}
	return &Runner{
		config:   config,
		progress: NewProgress(config.Steps, config.Width),
		out:      config.Output,
		now:      time.Now,
	}
}

// Progress returns the step tracker.
func (r *Runner) Progress() *Progress { return r.progress }

// Run executes op and renders its progress and outcome. It returns op's
// error.
func (r *Runner) Run(op Operation) error {
	start := r.now()

	header := NewHeader(r.config.Title, r.config.Command, r.config.Params).SetWidth(r.config.Width)
	fmt.Fprintln(r.out, header.Render())
	fmt.Fprintln(r.out)

	details, err := op(r.report)
	elapsed := r.now().Sub(start).Round(time.Millisecond)
	fmt.Fprintln(r.out)

	if err != nil {
		res := NewFailureResult(r.config.Title+" failed", err, r.config.Hints).SetWidth(r.config.Width)
		res.AddDetail("Duration", elapsed.String())
		fmt.Fprintln(r.out, res.Render())
		return err
	}

	res := NewSuccessResult(r.config.Title+" complete", details).SetWidth(r.config.Width)
	res.AddDetail("Duration", elapsed.String())
	fmt.Fprintln(r.out, res.Render())
	return nil
}

func (r *Runner) report(number int, status StepStatus, message string) {
	r.progress.UpdateStep(number, status, message)
	if number < 1 || number > r.progress.Total() {
		return
	}
	line := r.progress.renderStepLine(r.progress.Steps[number-1])
	switch status {
	case StepRunning:
		// Overwritten by the final state of the step.
		fmt.Fprint(r.out, line+"\r")
	case StepComplete, StepFailed, StepSkipped:
		fmt.Fprintln(r.out, line)
	}
}
