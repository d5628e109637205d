package ota

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/logging"
)

// Update streams a firmware image into the inactive slot. Sectors are
// erased just ahead of the write cursor. Finish selects the slot for the
// next boot; until then the running selection is untouched.
type Update struct {
	m       *Manager
	slot    Slot
	region  *flash.Region
	written uint32
	erased  uint32
	pending []byte
	done    bool
}

// BeginUpdate starts writing an image to NextSlot.
func (m *Manager) BeginUpdate() (*Update, error) {
	slot, err := m.NextSlot()
	if err != nil {
		return nil, err
	}
	entry, err := m.SlotPartition(slot)
	if err != nil {
		return nil, err
	}
	region, err := entry.Region(m.dev)
	if err != nil {
		return nil, &Error{Op: "begin update", Err: err}
	}
	logging.Info("Firmware update started", zap.Stringer("slot", slot), zap.Uint32("capacity", entry.Size))
	return &Update{m: m, slot: slot, region: region}, nil
}

// Slot returns the slot being written.
func (u *Update) Slot() Slot { return u.slot }

// Written returns the number of image bytes accepted so far.
func (u *Update) Written() uint32 { return u.written + uint32(len(u.pending)) }

func (u *Update) program(data []byte) error {
	end := u.written + uint32(len(data))
	if end > u.region.Capacity() {
		return ErrImageTooLarge
	}
	for u.erased < end {
		if err := u.region.Erase(u.erased, u.erased+flash.SectorSize); err != nil {
			return err
		}
		u.erased += flash.SectorSize
	}
	if err := u.region.Write(u.written, data); err != nil {
		return err
	}
	u.written = end
	return nil
}

// Write implements io.Writer.
func (u *Update) Write(p []byte) (int, error) {
	if u.done {
		return 0, &Error{Op: "write image", Err: fmt.Errorf("update already finished")}
	}
	u.pending = append(u.pending, p...)
	whole := len(u.pending) &^ (flash.WordSize - 1)
	if whole == 0 {
		return len(p), nil
	}
	if err := u.program(u.pending[:whole]); err != nil {
		return 0, &Error{Op: "write image", Err: err}
	}
	u.pending = append(u.pending[:0], u.pending[whole:]...)
	return len(p), nil
}

// Finish flushes the image tail and selects the slot for the next boot
// with state New.
func (u *Update) Finish() error {
	if u.done {
		return &Error{Op: "finish update", Err: fmt.Errorf("update already finished")}
	}
	u.done = true
	if n := len(u.pending); n > 0 {
		tail := append(u.pending, bytes.Repeat([]byte{flash.Erased}, flash.WordSize-n)...)
		if err := u.program(tail); err != nil {
			return &Error{Op: "finish update", Err: err}
		}
		u.pending = nil
	}
	if u.written == 0 {
		return &Error{Op: "finish update", Err: fmt.Errorf("empty image")}
	}
	if err := u.m.SetSlot(u.slot); err != nil {
		return err
	}
	logging.Info("Firmware update complete", zap.Stringer("slot", u.slot), zap.Uint32("bytes", u.written))
	return nil
}

// Abort abandons the update. The current selection is unchanged.
func (u *Update) Abort() {
	if !u.done {
		u.done = true
		logging.Warn("Firmware update aborted", zap.Stringer("slot", u.slot), zap.Uint32("bytes", u.written))
	}
}
