package ota

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/partition"
)

// Manager reads and updates the otadata partition that tells the bootloader
// which app slot to boot and whether that slot has been verified.
//
// A Manager is not safe for concurrent use. Boot and each firmware upload
// open their own.
type Manager struct {
	dev     flash.Device
	otadata *flash.Region
	slots   [2]partition.Entry
}

// New locates otadata, ota_0 and ota_1 in table. Each missing partition is
// reported as its own *PartitionError; no offset is ever assumed.
func New(dev flash.Device, table *partition.Table) (*Manager, error) {
	data, err := table.Find(partition.TypeData, partition.SubTypeOTAData)
	if err != nil {
		return nil, &PartitionError{Name: "otadata", Err: err}
	}
	if data.Size < 2*sectorSize {
		return nil, &PartitionError{Name: "otadata", Err: fmt.Errorf("size 0x%x smaller than two sectors", data.Size)}
	}
	ota0, err := table.Find(partition.TypeApp, partition.SubTypeOTA0)
	if err != nil {
		return nil, &PartitionError{Name: "ota_0", Err: err}
	}
	ota1, err := table.Find(partition.TypeApp, partition.SubTypeOTA1)
	if err != nil {
		return nil, &PartitionError{Name: "ota_1", Err: err}
	}

	region, err := data.Region(dev)
	if err != nil {
		return nil, &PartitionError{Name: "otadata", Err: err}
	}

	logging.Debug("OTA partitions located",
		zap.String("otadata", fmt.Sprintf("0x%x", data.Offset)),
		zap.String("ota_0", fmt.Sprintf("0x%x", ota0.Offset)),
		zap.String("ota_1", fmt.Sprintf("0x%x", ota1.Offset)),
	)
	return &Manager{dev: dev, otadata: region, slots: [2]partition.Entry{ota0, ota1}}, nil
}

// Entries returns both raw select entries.
func (m *Manager) Entries() ([2]SelectEntry, error) {
	var entries [2]SelectEntry
	buf := make([]byte, selectEntrySize)
	for i := range entries {
		if err := m.otadata.Read(uint32(i*sectorSize), buf); err != nil {
			return entries, &Error{Op: "read otadata", Err: err}
		}
		entries[i] = decodeSelectEntry(buf)
	}
	return entries, nil
}

// current returns the sector index and entry with the highest valid
// sequence number, or -1 when neither entry is valid.
func (m *Manager) current() (int, SelectEntry, error) {
	entries, err := m.Entries()
	if err != nil {
		return -1, SelectEntry{}, err
	}
	idx := -1
	for i, e := range entries {
		if !e.Valid() {
			continue
		}
		if idx < 0 || e.Seq > entries[idx].Seq {
			idx = i
		}
	}
	if idx < 0 {
		return -1, SelectEntry{}, nil
	}
	return idx, entries[idx], nil
}

// CurrentSlot returns the slot the bootloader will boot.
func (m *Manager) CurrentSlot() (Slot, error) {
	idx, e, err := m.current()
	if err != nil {
		return SlotNone, err
	}
	if idx < 0 {
		return SlotNone, nil
	}
	return e.Slot(), nil
}

// CurrentState returns the trust state of the selected slot, or
// StateUndefined when no slot is selected.
func (m *Manager) CurrentState() (State, error) {
	idx, e, err := m.current()
	if err != nil {
		return StateUndefined, err
	}
	if idx < 0 {
		return StateUndefined, nil
	}
	return e.State, nil
}

func (m *Manager) writeEntry(sector int, e SelectEntry) error {
	from := uint32(sector * sectorSize)
	if err := m.otadata.Erase(from, from+sectorSize); err != nil {
		return err
	}
	return m.otadata.Write(from, e.encode())
}

// SetState rewrites the selected entry with state. A Valid slot is never
// moved back to New or PendingVerify.
func (m *Manager) SetState(state State) error {
	idx, e, err := m.current()
	if err != nil {
		return err
	}
	if idx < 0 {
		return &Error{Op: "set state", Err: ErrNoSlot}
	}
	if e.State == StateValid && state.Unverified() {
		return &Error{Op: "set state", Err: ErrStateRegression}
	}
	if e.State == state {
		return nil
	}

	e.State = state
	if err := m.writeEntry(idx, e); err != nil {
		return &Error{Op: "set state", Err: err}
	}
	logging.Info("OTA state updated", zap.Stringer("slot", e.Slot()), zap.Stringer("state", state))
	return nil
}

// SetSlot selects slot for the next boot with state New. The new entry
// goes into the sector not holding the current one, so the previous
// selection survives an interrupted write. SlotNone erases both entries.
func (m *Manager) SetSlot(slot Slot) error {
	if slot == SlotNone {
		if err := m.otadata.Erase(0, 2*sectorSize); err != nil {
			return &Error{Op: "set slot", Err: err}
		}
		logging.Info("OTA selection cleared")
		return nil
	}
	if slot != SlotA && slot != SlotB {
		return &Error{Op: "set slot", Err: ErrInvalidSlot}
	}

	idx, cur, err := m.current()
	if err != nil {
		return err
	}
	seq := uint32(0)
	if idx >= 0 {
		seq = cur.Seq
	}
	seq++
	for Slot((seq-1)%2) != slot {
		seq++
	}

	target := 0
	if idx >= 0 {
		target = (idx + 1) % 2
	}
	if err := m.writeEntry(target, newSelectEntry(seq, StateNew)); err != nil {
		return &Error{Op: "set slot", Err: err}
	}
	logging.Info("OTA slot selected", zap.Stringer("slot", slot), zap.Uint32("seq", seq))
	return nil
}

// NextSlot returns the slot an update should be written to.
func (m *Manager) NextSlot() (Slot, error) {
	cur, err := m.CurrentSlot()
	if err != nil {
		return SlotNone, err
	}
	if cur == SlotA {
		return SlotB, nil
	}
	return SlotA, nil
}

// SlotPartition returns the app partition backing slot.
func (m *Manager) SlotPartition(slot Slot) (partition.Entry, error) {
	if slot != SlotA && slot != SlotB {
		return partition.Entry{}, &Error{Op: "slot partition", Err: ErrInvalidSlot}
	}
	return m.slots[slot], nil
}

// Validate marks the running slot Valid when it is still New or
// PendingVerify. With no slot selected, or a state already Valid or
// Invalid, it does nothing. It reports whether it changed anything and can
// be called any number of times.
func (m *Manager) Validate() (changed bool, err error) {
	slot, err := m.CurrentSlot()
	if err != nil {
		return false, err
	}
	state, err := m.CurrentState()
	if err != nil {
		return false, err
	}
	logging.Info("Current OTA image", zap.Stringer("slot", slot), zap.Stringer("state", state))

	if slot == SlotNone || !state.Unverified() {
		return false, nil
	}
	logging.Info("Marking current OTA slot as valid")
	if err := m.SetState(StateValid); err != nil {
		return false, err
	}
	return true, nil
}
