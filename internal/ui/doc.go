// Package ui provides the terminal output of the devboot commands.
//
// It uses Lipgloss for styling and Bubble Tea for the one interactive
// view. Components:
//
//   - Header: command banner with operation name and parameters
//   - Progress and Runner: step list with a progress bar, used by
//     devboot-flash for image creation and firmware writes
//   - Result: success, warning and failure boxes
//   - Printer: one-shot output including aligned tables
//   - MonitorModel: live status view fed by status snapshots, either from
//     the in-process status set or from a device's /events stream
//   - ConfirmDestructive: typed confirmation before erasing flash
//
// Example:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Flash Image",
//	    Command: "devboot-flash mkimage",
//	    Steps:   []string{"Create image", "Write partition table"},
//	})
//	err := runner.Run(func(step ui.StepFunc) (map[string]string, error) {
//	    step(1, ui.StepRunning, "")
//	    // ... do work ...
//	    step(1, ui.StepComplete, "16 MiB")
//	    return nil, nil
//	})
//
// Logging is controlled by DEVBOOT_LOG_LEVEL; the styled output here goes
// to stdout independently of the zap stream.
package ui
