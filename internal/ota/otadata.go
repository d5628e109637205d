package ota

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Slot is a firmware image slot.
type Slot int

const (
	// SlotNone means no slot has been selected; the factory image boots.
	SlotNone Slot = iota - 1
	// SlotA is the ota_0 partition
	SlotA
	// SlotB is the ota_1 partition
	SlotB
)

// String returns a human-readable name for the slot
func (s Slot) String() string {
	switch s {
	case SlotNone:
		return "none"
	case SlotA:
		return "ota_0"
	case SlotB:
		return "ota_1"
	default:
		return fmt.Sprintf("Slot(%d)", int(s))
	}
}

// ParseSlot converts "none", "a", "b", "ota_0" or "ota_1" to a Slot.
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "none":
		return SlotNone, nil
	case "a", "A", "ota_0", "0":
		return SlotA, nil
	case "b", "B", "ota_1", "1":
		return SlotB, nil
	}
	return SlotNone, fmt.Errorf("%w: %q", ErrInvalidSlot, s)
}

// State is the trust state of the selected slot, with the bootloader's
// numeric values.
type State uint32

const (
	StateNew           State = 0x0
	StatePendingVerify State = 0x1
	StateValid         State = 0x2
	StateInvalid       State = 0x3
	StateAborted       State = 0x4
	StateUndefined     State = 0xFFFFFFFF
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePendingVerify:
		return "pending-verify"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateAborted:
		return "aborted"
	case StateUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("State(0x%x)", uint32(s))
	}
}

// ParseState converts a state name to a State.
func ParseState(s string) (State, error) {
	for _, st := range []State{StateNew, StatePendingVerify, StateValid, StateInvalid, StateAborted, StateUndefined} {
		if st.String() == s {
			return st, nil
		}
	}
	return StateUndefined, fmt.Errorf("ota: unknown state %q", s)
}

// Unverified reports whether boot validation should promote the state.
func (s State) Unverified() bool {
	return s == StateNew || s == StatePendingVerify
}

// otadata layout: two select entries, one per flash sector.
const (
	selectEntrySize = 32
	sectorSize      = 0x1000
	labelSize       = 20
)

// SelectEntry is one otadata record.
type SelectEntry struct {
	Seq   uint32
	Label [labelSize]byte
	State State
	CRC   uint32
}

// seqCRC is the bootloader's checksum of a sequence number: the ROM
// crc32_le seeded with 0xFFFFFFFF over the little-endian seq.
func seqCRC(seq uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	return crc32.Update(0xFFFFFFFF, crc32.IEEETable, b[:])
}

// Valid reports whether the entry holds a checksummed sequence number.
func (e SelectEntry) Valid() bool {
	return e.Seq != 0xFFFFFFFF && e.Seq != 0 && e.CRC == seqCRC(e.Seq)
}

// Slot returns the slot selected by a valid entry.
func (e SelectEntry) Slot() Slot {
	return Slot((e.Seq - 1) % 2)
}

func newSelectEntry(seq uint32, state State) SelectEntry {
	e := SelectEntry{Seq: seq, State: state, CRC: seqCRC(seq)}
	for i := range e.Label {
		e.Label[i] = 0xFF
	}
	return e
}

func decodeSelectEntry(b []byte) SelectEntry {
	var e SelectEntry
	e.Seq = binary.LittleEndian.Uint32(b[0:4])
	copy(e.Label[:], b[4:24])
	e.State = State(binary.LittleEndian.Uint32(b[24:28]))
	e.CRC = binary.LittleEndian.Uint32(b[28:32])
	return e
}

func (e SelectEntry) encode() []byte {
	b := make([]byte, selectEntrySize)
	binary.LittleEndian.PutUint32(b[0:4], e.Seq)
	copy(b[4:24], e.Label[:])
	binary.LittleEndian.PutUint32(b[24:28], uint32(e.State))
	binary.LittleEndian.PutUint32(b[28:32], e.CRC)
	return b
}
