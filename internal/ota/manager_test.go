package ota

import (
	"bytes"
	"errors"
	"testing"

	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/partition"
)

func testTable() *partition.Table {
	return &partition.Table{Entries: []partition.Entry{
		{Type: partition.TypeData, SubType: partition.SubTypeOTAData, Offset: 0xF000, Size: 0x2000, Label: "otadata"},
		{Type: partition.TypeApp, SubType: partition.SubTypeOTA0, Offset: 0x20000, Size: 0x10000, Label: "ota_0"},
		{Type: partition.TypeApp, SubType: partition.SubTypeOTA1, Offset: 0x30000, Size: 0x10000, Label: "ota_1"},
	}}
}

func newTestManager(t *testing.T) (*Manager, *flash.MemDevice) {
	t.Helper()
	dev := flash.NewMemDevice(0x40000)
	m, err := New(dev, testTable())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, dev
}

// pokeEntry writes a raw select entry into otadata sector i.
func pokeEntry(dev *flash.MemDevice, sector int, e SelectEntry) {
	dev.Poke(0xF000+uint32(sector*sectorSize), e.encode())
}

func TestSeqCRC(t *testing.T) {
	tests := []struct {
		seq  uint32
		want uint32
	}{
		{1, 0x4743989A},
		{2, 0x55F63774},
		{3, 0xED4A5011},
	}
	for _, tt := range tests {
		if got := seqCRC(tt.seq); got != tt.want {
			t.Errorf("seqCRC(%d) = 0x%08x, want 0x%08x", tt.seq, got, tt.want)
		}
	}
}

func TestNew_MissingPartitions(t *testing.T) {
	dev := flash.NewMemDevice(0x40000)

	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{"no otadata", "otadata", "otadata"},
		{"no ota_0", "ota_0", "ota_0"},
		{"no ota_1", "ota_1", "ota_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := testTable()
			var kept []partition.Entry
			for _, e := range table.Entries {
				if e.Label != tt.drop {
					kept = append(kept, e)
				}
			}
			table.Entries = kept

			_, err := New(dev, table)
			var partErr *PartitionError
			if !errors.As(err, &partErr) {
				t.Fatalf("Expected *PartitionError, got %v", err)
			}
			if partErr.Name != tt.wantErr {
				t.Errorf("Expected partition %q, got %q", tt.wantErr, partErr.Name)
			}
			if !partition.IsNotFound(err) {
				t.Errorf("Expected wrapped not-found error, got %v", err)
			}
		})
	}
}

func TestErasedOtadata(t *testing.T) {
	m, _ := newTestManager(t)

	slot, err := m.CurrentSlot()
	if err != nil || slot != SlotNone {
		t.Errorf("Expected SlotNone, got %v, %v", slot, err)
	}
	state, err := m.CurrentState()
	if err != nil || state != StateUndefined {
		t.Errorf("Expected StateUndefined, got %v, %v", state, err)
	}
	changed, err := m.Validate()
	if err != nil || changed {
		t.Errorf("Validate() on empty otadata = %v, %v; want no-op", changed, err)
	}
	if err := m.SetState(StateValid); !errors.Is(err, ErrNoSlot) {
		t.Errorf("Expected ErrNoSlot, got %v", err)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	m, dev := newTestManager(t)
	pokeEntry(dev, 0, newSelectEntry(1, StatePendingVerify))

	slot, _ := m.CurrentSlot()
	if slot != SlotA {
		t.Fatalf("Expected SlotA, got %v", slot)
	}

	changed, err := m.Validate()
	if err != nil || !changed {
		t.Fatalf("first Validate() = %v, %v; want true, nil", changed, err)
	}
	state, _ := m.CurrentState()
	if state != StateValid {
		t.Errorf("Expected Valid after Validate, got %v", state)
	}

	writes := dev.Writes
	changed, err = m.Validate()
	if err != nil || changed {
		t.Errorf("second Validate() = %v, %v; want false, nil", changed, err)
	}
	if dev.Writes != writes {
		t.Error("second Validate() should not write flash")
	}
}

func TestValidate_LeavesInvalidAlone(t *testing.T) {
	m, dev := newTestManager(t)
	pokeEntry(dev, 0, newSelectEntry(2, StateInvalid))

	changed, err := m.Validate()
	if err != nil || changed {
		t.Errorf("Validate() = %v, %v; want no-op", changed, err)
	}
	state, _ := m.CurrentState()
	if state != StateInvalid {
		t.Errorf("Expected Invalid to stay, got %v", state)
	}
}

func TestSetState_NoRegression(t *testing.T) {
	m, dev := newTestManager(t)
	pokeEntry(dev, 1, newSelectEntry(2, StateValid))

	for _, st := range []State{StateNew, StatePendingVerify} {
		if err := m.SetState(st); !errors.Is(err, ErrStateRegression) {
			t.Errorf("SetState(%v) error = %v, want ErrStateRegression", st, err)
		}
	}
	if err := m.SetState(StateInvalid); err != nil {
		t.Errorf("SetState(Invalid) error = %v", err)
	}
}

func TestSetSlot_AlternatesSectors(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.SetSlot(SlotB); err != nil {
		t.Fatalf("SetSlot(B) error = %v", err)
	}
	entries, _ := m.Entries()
	if !entries[0].Valid() || entries[0].Seq != 2 {
		t.Errorf("Expected seq 2 in sector 0, got %+v", entries[0])
	}
	slot, _ := m.CurrentSlot()
	state, _ := m.CurrentState()
	if slot != SlotB || state != StateNew {
		t.Errorf("Expected ota_1/new, got %v/%v", slot, state)
	}

	if err := m.SetSlot(SlotA); err != nil {
		t.Fatalf("SetSlot(A) error = %v", err)
	}
	entries, _ = m.Entries()
	if !entries[1].Valid() || entries[1].Seq != 3 {
		t.Errorf("Expected seq 3 in sector 1, got %+v", entries[1])
	}
	if !entries[0].Valid() {
		t.Error("Previous selection should survive in sector 0")
	}
	if next, _ := m.NextSlot(); next != SlotB {
		t.Errorf("Expected next slot ota_1, got %v", next)
	}

	if err := m.SetSlot(SlotNone); err != nil {
		t.Fatalf("SetSlot(None) error = %v", err)
	}
	if slot, _ := m.CurrentSlot(); slot != SlotNone {
		t.Errorf("Expected SlotNone after clearing, got %v", slot)
	}
}

func TestCorruptEntryIgnored(t *testing.T) {
	m, dev := newTestManager(t)
	pokeEntry(dev, 0, newSelectEntry(1, StateValid))
	bad := newSelectEntry(4, StateNew)
	bad.CRC ^= 1
	pokeEntry(dev, 1, bad)

	slot, _ := m.CurrentSlot()
	if slot != SlotA {
		t.Errorf("Expected bad-CRC entry to be ignored, got %v", slot)
	}
}

func TestSlotPartition(t *testing.T) {
	m, _ := newTestManager(t)
	e, err := m.SlotPartition(SlotB)
	if err != nil || e.Label != "ota_1" {
		t.Errorf("SlotPartition(B) = %v, %v", e.Label, err)
	}
	if _, err := m.SlotPartition(SlotNone); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Expected ErrInvalidSlot, got %v", err)
	}
}

func TestUpdate_WritesInactiveSlot(t *testing.T) {
	m, dev := newTestManager(t)
	pokeEntry(dev, 0, newSelectEntry(1, StateValid))

	u, err := m.BeginUpdate()
	if err != nil {
		t.Fatalf("BeginUpdate() error = %v", err)
	}
	if u.Slot() != SlotB {
		t.Fatalf("Expected update to target ota_1, got %v", u.Slot())
	}

	image := bytes.Repeat([]byte("firmware"), 1000)
	image = append(image, 'x', 'y', 'z')
	for off := 0; off < len(image); off += 333 {
		end := off + 333
		if end > len(image) {
			end = len(image)
		}
		if _, err := u.Write(image[off:end]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := u.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	raw := dev.Bytes()
	if !bytes.Equal(raw[0x30000:0x30000+len(image)], image) {
		t.Error("Image bytes not found at ota_1")
	}
	slot, _ := m.CurrentSlot()
	state, _ := m.CurrentState()
	if slot != SlotB || state != StateNew {
		t.Errorf("Expected ota_1/new after update, got %v/%v", slot, state)
	}
}

func TestUpdate_TooLarge(t *testing.T) {
	m, _ := newTestManager(t)
	u, err := m.BeginUpdate()
	if err != nil {
		t.Fatalf("BeginUpdate() error = %v", err)
	}
	if _, err := u.Write(make([]byte, 0x10004)); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("Expected ErrImageTooLarge, got %v", err)
	}
}
