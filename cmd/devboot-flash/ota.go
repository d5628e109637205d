package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/devboot/internal/config"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/ota"
	"github.com/muurk/devboot/internal/partition"
	"github.com/muurk/devboot/internal/ui"
)

func init() {
	rootCmd.AddCommand(otaCmd)
	otaCmd.AddCommand(otaStatusCmd)
	otaCmd.AddCommand(otaSetSlotCmd)
	otaCmd.AddCommand(otaSetStateCmd)
	otaCmd.AddCommand(otaWriteCmd)
}

// otaCmd groups the OTA selection commands
var otaCmd = &cobra.Command{
	Use:   "ota",
	Short: "Inspect or change the OTA slot selection",
	Long: `Inspect or change which application slot the bootloader starts.

A slot selected by set-slot or write starts in state "new"; the device marks
it valid on its next boot.`,
}

// withOTA opens the image and its OTA manager for the duration of fn.
func withOTA(fn func(cfg *config.Config, dev *flash.FileDevice, mgr *ota.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openImage(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	table, err := partition.Read(dev, cfg.Flash.PartitionTable)
	if err != nil {
		return err
	}
	mgr, err := ota.New(dev, table)
	if err != nil {
		return err
	}
	if err := fn(cfg, dev, mgr); err != nil {
		return err
	}
	return dev.Sync()
}

// otaDetails summarizes the selection for a result box.
func otaDetails(mgr *ota.Manager) (map[string]string, error) {
	slot, err := mgr.CurrentSlot()
	if err != nil {
		return nil, err
	}
	state, err := mgr.CurrentState()
	if err != nil {
		return nil, err
	}
	next, err := mgr.NextSlot()
	if err != nil {
		return nil, err
	}
	entries, err := mgr.Entries()
	if err != nil {
		return nil, err
	}

	details := map[string]string{
		"Boot slot":   slot.String(),
		"State":       state.String(),
		"Update slot": next.String(),
	}
	for i, e := range entries {
		key := fmt.Sprintf("Entry %d", i)
		if !e.Valid() {
			details[key] = "empty"
			continue
		}
		details[key] = fmt.Sprintf("seq %d, %s, %s", e.Seq, e.Slot(), e.State)
	}
	return details, nil
}

var otaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current OTA selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOTA(func(_ *config.Config, _ *flash.FileDevice, mgr *ota.Manager) error {
			details, err := otaDetails(mgr)
			if err != nil {
				return err
			}
			ui.NewPrinter(nil).PrintSuccess("OTA selection", details)
			return nil
		})
	},
}

var otaSetSlotCmd = &cobra.Command{
	Use:   "set-slot <none|a|b>",
	Short: "Select the slot for the next boot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := ota.ParseSlot(args[0])
		if err != nil {
			return err
		}
		return withOTA(func(_ *config.Config, _ *flash.FileDevice, mgr *ota.Manager) error {
			if err := mgr.SetSlot(slot); err != nil {
				return err
			}
			details, err := otaDetails(mgr)
			if err != nil {
				return err
			}
			ui.NewPrinter(nil).PrintSuccess("Slot selected", details)
			return nil
		})
	},
}

var otaSetStateCmd = &cobra.Command{
	Use:   "set-state <state>",
	Short: "Set the state of the selected slot",
	Long: `Set the trust state of the selected slot: new, pending-verify, valid,
invalid or aborted. A valid slot cannot be moved back to new or
pending-verify.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := ota.ParseState(args[0])
		if err != nil {
			return err
		}
		return withOTA(func(_ *config.Config, _ *flash.FileDevice, mgr *ota.Manager) error {
			if err := mgr.SetState(state); err != nil {
				return err
			}
			details, err := otaDetails(mgr)
			if err != nil {
				return err
			}
			ui.NewPrinter(nil).PrintSuccess("State updated", details)
			return nil
		})
	},
}

var otaWriteCmd = &cobra.Command{
	Use:   "write <firmware.bin>",
	Short: "Write a firmware image to the update slot and select it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOTA(func(_ *config.Config, _ *flash.FileDevice, mgr *ota.Manager) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return writeFirmware(mgr, f, args[0])
		})
	},
}

func writeFirmware(mgr *ota.Manager, r io.Reader, name string) error {
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Firmware Update",
		Command: "devboot-flash ota write",
		Params:  map[string]string{"Firmware": name},
		Steps:   []string{"Open update slot", "Write image", "Select slot"},
		Hints:   []string{"The image must fit in one application slot"},
	})
	return runner.Run(func(step ui.StepFunc) (map[string]string, error) {
		step(1, ui.StepRunning, "")
		update, err := mgr.BeginUpdate()
		if err != nil {
			step(1, ui.StepFailed, "")
			return nil, err
		}
		step(1, ui.StepComplete, update.Slot().String())

		step(2, ui.StepRunning, "")
		if _, err := io.Copy(update, r); err != nil {
			update.Abort()
			step(2, ui.StepFailed, "")
			return nil, err
		}
		step(2, ui.StepComplete, formatSize(update.Written()))

		step(3, ui.StepRunning, "")
		if err := update.Finish(); err != nil {
			step(3, ui.StepFailed, "")
			return nil, err
		}
		step(3, ui.StepComplete, "")
		return map[string]string{
			"Slot":  update.Slot().String(),
			"Bytes": fmt.Sprint(update.Written()),
		}, nil
	})
}
